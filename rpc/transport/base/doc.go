// Package base implements the stream transports (TCP, Unix sockets) on top of a
// small connector interface.
//
// Every message is a frame:
//
//	[shard id u64][request id u64][length u32][payload]
//
// The client writes requests tagged with a request id and a reader goroutine per
// connection hands each response to the waiting caller, so many requests can be in
// flight on one connection. Requests are spread round-robin over all connections
// (ConnectionsPerEndpoint per endpoint). A broken connection is redialed; requests
// are retried with backoff up to RetryCount times.
//
// The server reads each connection in its own goroutine and runs at most
// WorkersPerConn handlers per connection. Request frames are read into pooled
// buffers from lib/db/util and returned after the response is written. Frames
// larger than 64 MiB are rejected. Close stops the listener and all connections.
//
// IClientConnector and IServerConnector supply the protocol specific parts:
// dialing, listening and socket options.
package base
