// Package server implements the ttlKV RPC server. It owns the shards of a node,
// decodes requests coming in over a transport and hands them to the adapter of
// the addressed shard.
//
// Key Components:
//
//   - IRPCServerAdapter: translates a common.Message into calls on a store.IStore.
//     NewIStoreServerAdapter serves plain key-value shards, NewLockManagerServerAdapter
//     runs a lockmgr.ILockManager on top of the shard's store.
//
//   - RPCServer: builds the storage engine (maple or pebble) and the store for
//     every configured shard, registers itself with the transport and optionally
//     serves prometheus metrics and pprof on ServerConfig.MetricsEndpoint.
//
// Get responses point directly into the value held by the storage engine. The
// server serializes the response first and releases the value afterwards, so
// no intermediate copy is made.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 100, Type: common.ShardTypeLocalIStore},
//	    {ShardID: 200, Type: common.ShardTypeLocalILockManager},
//	  },
//	  Engine:        common.EnginePebble,
//	  DataDir:       "/var/lib/ttlkv",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Shard types:
//
//   - ShardTypeLocalIStore / ShardTypeLocalILockManager: backed by lstore on this
//     node only.
//
//   - ShardTypeRemoteIStore / ShardTypeRemoteILockManager: backed by dstore and
//     replicated with raft. The raft settings of ServerConfig (RTTMillisecond,
//     SnapshotEntries, CompactionOverhead, DataDir, ReplicaID, ClusterMembers)
//     must be set.
//
// With the pebble engine each shard gets its own directory below
// DataDir/pebble/{local,raft}/shard-<id>.
package server
