// Package http implements the RPC transport over plain HTTP. Every request is a
// POST to /{shardId} carrying the serialized message as body. The client spreads
// requests round robin over the configured endpoints and sends a retry to the
// next one.
//
// The transport trades throughput for compatibility: it works through proxies
// and load balancers and can be exercised with curl.
package http
