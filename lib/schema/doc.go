// Package schema defines how a stored record is laid out as bytes: an optional
// absolute expiration timestamp followed by the opaque user payload.
//
// Wire format (schema version 0):
//
//	offset 0, 4 bytes: expiration timestamp, uint32, big endian (0 = never expires)
//	offset 4, N bytes: user payload, verbatim
//
// The schema version itself is never embedded in the value. It is carried
// alongside the value by the storage engine (see db.KVDB.SchemaVersion) and must be
// supplied on every encode and decode call.
//
// The package provides:
//   - Generator: encodes a value into scatter-gather Segments, reusing a scratch header
//   - Decode / ExtractExpireTs: non-owning decode, the result aliases the input
//   - ExtractUserData: ownership-transferring decode returning a reference counted Blob
//   - IsExpired / IsExpiredFromEncoded: the liveness predicate used by reads and compaction
//   - CompactionFilter: the per-record hook the storage engines' collectors call
//
// All errors returned by this package wrap either ErrUnsupportedSchemaVersion or
// ErrMalformedValue and can be matched with errors.Is.
package schema
