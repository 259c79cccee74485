// Package store provides the client-facing key-value API on top of the db.KVDB
// engines: TTLs in seconds, typed errors and write index management.
//
// Key Components:
//
//   - IStore Interface: The operations every store offers (Set, SetE, SetEIfUnset,
//     Expire, Delete, Get, Has, TTL, GetDBInfo). TTLs are converted into absolute
//     expiration timestamps (schema epoch seconds) before values are encoded, so an
//     entry's lifetime travels inside its value header.
//
//   - Error System: *Error carries a RetCode and a message. Errors produced from a
//     cause keep it (Unwrap), and the schema failures get their own codes
//     (RetCUnsupportedSchemaVersion, RetCMalformedValue), so errors.Is against the
//     schema sentinels works even after the error crossed the RPC boundary.
//
//   - DBFactory: Creates the underlying db.KVDB, which lets a store run on any engine.
//
// Implementations:
//
//	- Local Store (lstore): A single-node store that uses a db.KVDB directly and
//	  numbers writes with an atomic counter.
//	  Available in the "github.com/ValentinKolb/ttlKV/lib/store/lstore" package.
//
//	- Distributed Store (dstore): A store replicated with the Dragonboat RAFT
//	  library. Expiration timestamps are computed on the proposing node so every
//	  replica stores byte-identical values.
//	  Available in the "github.com/ValentinKolb/ttlKV/lib/store/dstore" package.
//
// Get hands out a *schema.Blob. It references the engine's buffer directly and
// must be released once the caller is done with it.
package store
