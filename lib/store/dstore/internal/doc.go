// Package internal holds the operations the dstore client hands to its raft state
// machine.
//
// Writes are Commands. They go through the raft log and are encoded as
//
//	[type u8][expire_ts u32][key length u32][key][user value]
//
// with big endian integers. expire_ts is the absolute expiration timestamp (0 =
// never) computed on the proposing node, so every replica writes the same header.
// The log holds the user value only; each replica encodes it with the schema
// version of its own database when the entry is applied.
//
// Reads are Queries (Get, Has, ExpireTs, GetDBInfo). They never leave the node and
// are passed to the state machine as Go values. A Get result carries the engine's
// raw value and its release func so the store can build a Blob without a copy.
//
// Command types map to db.Feature flags, so the state machine can reject an
// operation the engine does not support before touching it.
package internal
