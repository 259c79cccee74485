// Package util provides building blocks shared by the db.KVDB engines.
//
// The package contains:
//   - hash: seeded FNV-1a hashing of string keys to UintKey
//   - expiryheap: a min-heap of keys ordered by their expiration timestamp, with key based removal
//   - eventqueue: a lock-free multi-producer single-consumer queue that hands out batches
//   - bufpool: size classed byte buffers for values handed to callers with a release func
//   - stats: size histograms and distribution statistics for GetInfo
//
// None of the types here know about the value schema; engines pass in timestamps
// they decoded themselves.
package util
