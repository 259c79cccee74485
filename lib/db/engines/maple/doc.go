// Package maple implements db.KVDB as a sharded in-memory store of encoded values.
//
// Key Components:
//
//   - mapleImpl: Owns the shards, the write index and one collector goroutine per
//     shard. The caller supplies write indexes (for example a raft log index) so that
//     stale writes can be detected and ignored.
//
//   - Shard: A partition of the key space. Each shard holds an xsync.MapOf of
//     entries, an expiry heap ordered by the expiration timestamp found in each value's
//     header and a lock-free event queue through which writers notify the collector.
//
//   - Entry: The encoded value (schema header + payload) and the write index of its
//     last update. Entries are immutable; every update stores a new one.
//
// Reads:
//
// Get, Has and ExpireTs decide liveness from the value header alone
// (schema.IsExpiredFromEncoded) with the configured clock. An expired entry that the
// collector has not removed yet is reported as absent. Get copies the value into a
// pooled buffer; the returned release func puts it back.
//
// Background Collection:
//
//  1. Writes push an event with the key to the shard's queue.
//  2. The shard's collector drains the queue, re-reads the entries and (re)schedules
//     them in its expiry heap, or unschedules them if they no longer expire.
//  3. On every tick it pops the due keys and runs schema.CompactionFilter over their
//     header under the map's bucket lock, removing the ones that are dead.
//
// Compact does the same for every entry immediately.
//
// Persistence Format (little endian):
//  1. Magic number "MAPLEDB\x00"
//  2. Format version (currently 4)
//  3. Schema version of the values
//  4. Hash seed
//  5. Number of entries
//  6. Per entry: key hash, write index, value length, encoded value
//
// Snapshots are fuzzy; the caller has to provide consistency if it needs it.
// Loading a snapshot whose schema version this build doesn't support fails with
// schema.ErrUnsupportedSchemaVersion.
package maple
