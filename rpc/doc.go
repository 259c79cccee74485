// Package rpc exposes ttlKV stores and lock managers over the network.
//
// A request travels client -> serializer -> transport -> server -> store and the
// response takes the same way back. Each stage is pluggable:
//
//   - common: the Message type shared by all stages, server and client
//     configuration and the logger setup.
//   - serializer: JSON, gob or the compact binary format.
//   - transport: framed TCP and Unix socket transports and an HTTP transport.
//   - server: hosts several shards (local, raft replicated or lock managers) on
//     one endpoint and serves Prometheus metrics.
//   - client: store.IStore and lockmgr.ILockManager implementations that forward
//     every call to a server shard.
//
// Store errors keep their store.RetCode on the wire, so a client can match
// schema.ErrMalformedValue or schema.ErrUnsupportedSchemaVersion with errors.Is
// just like a local caller.
package rpc
