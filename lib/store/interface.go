package store

import (
	"fmt"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is the generic interface for interacting with a key–value store.
// All write operations return only a *Error (nil on success),
// while read operations return the requested data along with a *Error (nil on success).
//
// TTLs are given in seconds; 0 means the entry never expires.
type IStore interface {
	// Set inserts or updates a key–value pair that never expires.
	Set(key string, value []byte) (err error)
	// SetE inserts or updates a key–value pair that expires ttl seconds from now.
	SetE(key string, value []byte, ttl uint32) (err error)
	// SetEIfUnset inserts a key–value pair if there is no live entry for the key.
	// An existing live entry is left alone and no error is returned.
	SetEIfUnset(key string, value []byte, ttl uint32) (err error)
	// Expire makes the entry for key expire now. It stops being visible immediately
	// and is removed by the next compaction.
	Expire(key string) (err error)
	// Delete deletes a key–value pair.
	Delete(key string) (err error)
	// Get returns the value for a key. The boolean return value indicates whether a
	// live value for the key was found. The caller must Release the blob.
	Get(key string) (value *schema.Blob, loaded bool, err error)
	// Has returns whether a live entry exists for key.
	Has(key string) (loaded bool, err error)
	// TTL returns the remaining lifetime of the entry for key in seconds,
	// or -1 if it never expires.
	TTL(key string) (ttl int64, loaded bool, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
	// Close releases the resources held by the store. Stores backed by raft
	// leave the database to the state machine and only detach.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. Errors created from a cause keep it for errors.Is/As;
// errors that crossed a process boundary only carry the code, which Is maps
// back onto the schema sentinels.
type Error struct {
	Code  RetCode // The return code
	Msg   string  // The error message.
	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches the schema sentinels by return code.
func (e *Error) Is(target error) bool {
	switch target {
	case schema.ErrUnsupportedSchemaVersion:
		return e.Code == RetCUnsupportedSchemaVersion
	case schema.ErrMalformedValue:
		return e.Code == RetCMalformedValue
	}
	return false
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError converts err into a *Error, picking the return code from its cause.
// A *Error is returned unchanged and nil stays nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr
	}

	code := RetCInternalError
	switch {
	case errors.Is(err, schema.ErrUnsupportedSchemaVersion):
		code = RetCUnsupportedSchemaVersion
	case errors.Is(err, schema.ErrMalformedValue):
		code = RetCMalformedValue
	}
	return &Error{Code: code, Msg: err.Error(), cause: err}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess                  RetCode = iota // 0: Command executed successfully.
	RetCInternalError                           // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                    // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                        // 3: Invalid operation.
	RetCUnsupportedSchemaVersion                // 4: The value schema version is not supported by this build.
	RetCMalformedValue                          // 5: A stored value is too short to carry a header.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCUnsupportedSchemaVersion:
		return "UnsupportedSchemaVersion"
	case RetCMalformedValue:
		return "MalformedValue"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
