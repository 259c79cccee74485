// Package serializer converts common.Message values to bytes and back.
//
// Three implementations share the IRPCSerializer interface:
//
//   - binary: a type byte and a flag byte that marks the present fields, followed
//     by those fields. Byte fields have a u32 length prefix, the ttl is a big
//     endian i64 (-1 = never expires) and the error code a uvarint. Smallest and
//     fastest, the CLI default.
//   - json: readable, used by the HTTP transport when debugging with curl.
//     Message types are written by name.
//   - gob: Go's encoding/gob, mainly as a reference in the benchmarks.
//
// Deserialize resets the target message first and never keeps references into
// its input, so transports can reuse their read buffers. The unexported release
// hook of a Message is never serialized.
//
// All implementations are stateless and safe for concurrent use.
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(msg)
//	...
//	var resp common.Message
//	err = s.Deserialize(data, &resp)
package serializer
