// Package lstore implements a local, single-node key-value store based on the
// store.IStore interface. It is a thin wrapper around any db.KVDB implementation
// that numbers writes with an atomic counter and encodes values with the schema
// package before they reach the engine.
//
// Implementation Details:
//
//   - Write Index Management: Every write takes the next value of an atomic counter,
//     seeded with the engine's write index so a reopened persistent engine keeps
//     rejecting nothing but truly stale writes.
//
//   - Encoding: TTLs become absolute expiration timestamps with the store's clock.
//     Values are encoded with a pooled schema.Generator; the engine copies the
//     segments before Put returns, so the generator goes straight back to the pool.
//
//   - Decoding: Get passes the engine's buffer and its release func to
//     schema.ExtractUserData. The returned blob is the only owner of that buffer.
//
//   - Feature Detection: Before executing operations, the store checks if the
//     underlying db.KVDB supports the requested feature. Unsupported operations
//     return RetCUnsupportedOperation.
//
// Usage Example:
//
//	factory := func() (db.KVDB, error) { return maple.NewMapleDB(maple.DefaultOptions()) }
//	kv, err := lstore.NewLocalStore(factory, nil)
//
//	// Store a value that expires in 5 minutes
//	err = kv.SetE("session:123", sessionData, 300)
//
//	// Retrieve the value
//	blob, exists, err := kv.Get("session:123")
//	defer blob.Release()
package lstore
