// Package dstore implements store.IStore on a dragonboat raft shard.
//
// The Store turns each write into an internal.Command and proposes it with
// SyncPropose. Once committed, every replica applies it in KVStateMachine.Update,
// using the raft log index as the write index of the engine. TTLs are converted to
// absolute expiration timestamps before proposing, with the clock of the proposing
// node, so all replicas persist byte-identical values and agree on when a value
// expires.
//
// Reads use SyncRead and are linearizable; GetDBInfo uses StaleRead. A Get returns
// the engine's buffer wrapped in a schema.Blob, the caller releases it.
//
// Snapshots stream the engine's Save output and are restored with Load. The
// snapshot header records the schema version, so a replica refuses a snapshot
// written with a version it can't read.
//
// ErrSystemBusy from dragonboat is retried a few times. Every other failure,
// including timeouts, is returned as a *store.Error.
//
// Setup:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	factory := func() (db.KVDB, error) { return pebble.NewPebbleDB(opts) }
//	err = nh.StartConcurrentReplica(members, false, dstore.CreateStateMaschineFactory(factory), shardConfig)
//	if err != nil { ... }
//
//	s := dstore.NewDistributedStore(nh, shardID, 5*time.Second, nil)
//
// Close only detaches the store; the node host owns the replica and its engine.
// For a single node without replication use lstore, which has the same interface.
package dstore
