// Package cmd implements the command-line interface of ttlKV. It provides a
// hierarchical command structure with operations for running the server,
// talking to it as a client and inspecting stored data offline.
//
// The package is organized into several subpackages:
//
//   - serve: starts and configures the ttlKV server
//   - kv: key-value operations (set with ttl, get, ttl, expire, ...) and a perf tool
//   - lock: lock operations (acquire, release)
//   - inspect: encodes and decodes values, reads pebble data directories
//   - util: shared flag, config and ttl helpers (internal use)
//
// Every flag can also be set with a TTLKV_ environment variable, a .env file
// or a config file passed with --config. See ttlkv -help for a list of all commands.
package cmd
