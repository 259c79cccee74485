package internal

import "github.com/ValentinKolb/ttlKV/lib/schema"

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve the encoded value of a live entry.
	QueryTHas                        // Check if a live entry exists.
	QueryTExpireTs                   // Retrieve the expiration timestamp of a live entry.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTHas:
		return "Has"
	case QueryTExpireTs:
		return "ExpireTs"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or ReadStale
type Query struct {
	Type QueryType // The type of Query to perform.
	Key  string    // The key for the Query (emtpy for some queries).
}

// QueryResult is the result of a QueryTGet or QueryTExpireTs operation.
// All other query results are primitive types or predefined structs (bool, db.DatabaseInfo).
//
// Lookups run in-process, so a Get result hands the engine's buffer over as is:
// Raw stays valid until Release is called, and the receiver must call it exactly once.
type QueryResult struct {
	Ok       bool
	Version  schema.Version
	Raw      []byte
	Release  func()
	ExpireTs uint32
}
