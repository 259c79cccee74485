// Package pebble implements db.KVDB on top of a cockroachdb/pebble LSM tree.
//
// Every record is stored under the key prefix "d" as
//
//	[write index (8 bytes, big endian)][expire_ts (4 bytes)][payload]
//
// so the schema header sits at a fixed offset and can be read without touching
// the payload. The write index and the schema version of the data directory are
// kept under "m/" meta keys and survive restarts.
//
// Reads are zero copy: Get returns a slice into pebble's value buffer and a
// release func that closes the underlying handle. Writes go through a single
// deferred batch op, so the encoder's segments are copied exactly once, straight
// into the batch.
//
// Expired records are removed by a background pass that runs Compact on a ticker.
// Compact walks all records and applies schema.CompactionFilter to each header.
// Records whose header can't be decoded are kept and counted as malformed.
//
// Snapshots (Save/Load) are consistent: Save iterates a pebble snapshot and Load
// applies the whole replacement in one batch.
package pebble
