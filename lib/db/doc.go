// Package db provides a standardized interface for key-value storage engines that
// persist encoded values (see package schema).
//
// The package focuses on:
//   - A unified interface for key-value operations over encoded values
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//   - Metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all engines must satisfy. Writes take
//     schema.Segments and hand them to the engine's own multi-segment write path. Reads
//     return the raw encoded value together with a release func, so the read path can
//     move the buffer into a schema.Blob without copying the payload.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     advertise through SupportsFeature.
//
//   - Implementation Identifiers: "maple" (sharded, in memory) and "pebble"
//     (persistent LSM tree).
//
// Note on Expiration:
//   - The expiration timestamp lives in the header of every stored value. Engines
//     decide liveness with schema.IsExpiredFromEncoded and never decode the payload
//     for it.
//   - An entry that is expired but not yet collected must behave as absent for Get,
//     Has, ExpireTs and PutIfAbsent.
//   - Physical removal happens in the background and on Compact, both through a
//     schema.CompactionFilter.
//
// Note on Write Indexes:
//   - All write operations take a write index that serves as a logical timestamp.
//     Writes older than the stored entry are ignored, which lets a replicated state
//     machine replay its log safely.
//   - The write index only ever increases; SetWriteIdx with a smaller value is ignored.
//
// Related Packages:
//
// engines/maple and engines/pebble implement KVDB. The util package provides the
// expiry heap, event queue and buffer pool they use, and the testing package holds
// the conformance suite every engine runs.
package db
