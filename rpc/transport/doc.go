// Package transport defines the contract between the RPC server/client and the
// network. Implementations move opaque byte frames tagged with a shard id and
// never look into the serialized messages.
//
// Implementations:
//
//   - base: framing, connection pooling and request correlation shared by the
//     stream based transports
//   - tcp, unix: connectors for base
//   - http: one POST per request, the shard id is the URL path
package transport
