package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	database  db.KVDB // the actual dataStorage

	// Update is never called concurrently, so one generator serves all commands
	generator *schema.Generator
}

// CreateStateMaschineFactory returns a function that can be used by dragenboat to create a new standmaschine for a node host
// The factory pattern is used to enable the caller to pass an interchangeable dbFactory
func CreateStateMaschineFactory(dbFactory store.DBFactory) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		database, err := dbFactory()
		if err != nil {
			// dragonboat's factory signature has no error return
			log.Panicf("shard %d: failed to create database: %v", shardID, err)
		}
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			database:  database,
			generator: schema.NewGenerator(),
		}
	}
}

// Lookup handles read-only queries by mapping each Query operation to the corresponding KVDB method.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		if !fsm.database.SupportsFeature(db.FeatureGet) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Get operation is not supported")
		}
		raw, release, ok, err := fsm.database.Get(q.Key)
		if err != nil {
			return nil, store.WrapError(err)
		}
		return internal.QueryResult{Ok: ok, Version: fsm.database.SchemaVersion(), Raw: raw, Release: release}, nil
	case internal.QueryTHas:
		if !fsm.database.SupportsFeature(db.FeatureHas) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "Has operation is not supported")
		}
		ok, err := fsm.database.Has(q.Key)
		if err != nil {
			return nil, store.WrapError(err)
		}
		return ok, nil
	case internal.QueryTExpireTs:
		if !fsm.database.SupportsFeature(db.FeatureTTL) {
			return nil, store.NewError(store.RetCUnsupportedOperation, "TTL operation is not supported")
		}
		expireTs, ok, err := fsm.database.ExpireTs(q.Key)
		if err != nil {
			return nil, store.WrapError(err)
		}
		return internal.QueryResult{Ok: ok, ExpireTs: expireTs}, nil
	case internal.QueryTGetDBInfo:
		return fsm.database.GetInfo(), nil
	default:
		return nil, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// apply executes one command with the raft log index as write index.
func (fsm *KVStateMachine) apply(cmd *internal.Command, index uint64) error {
	switch cmd.Type {
	case internal.CommandTSet, internal.CommandTSetIfUnset:
		// cmd.Value aliases the log entry, which outlives the Put
		segs, err := fsm.generator.GenerateValue(fsm.database.SchemaVersion(), cmd.Value, cmd.ExpireTs)
		if err != nil {
			return err
		}
		if cmd.Type == internal.CommandTSetIfUnset {
			return fsm.database.PutIfAbsent(cmd.Key, segs, index)
		}
		return fsm.database.Put(cmd.Key, segs, index)
	case internal.CommandTExpire:
		return fsm.database.Expire(cmd.Key, cmd.ExpireTs, index)
	case internal.CommandTDelete:
		return fsm.database.Delete(cmd.Key, index)
	default:
		return store.NewError(store.RetCInvalidOperation, fmt.Sprintf("unknown Command operation: %s", cmd.Type))
	}
}

// errorResult encodes err as a sm.Result with its return code.
func errorResult(err error) sm.Result {
	storeErr := store.WrapError(err).(*store.Error)
	return sm.Result{Value: uint64(storeErr.Code), Data: []byte(storeErr.Msg)}
}

// Update handles write commands on the KVDB instance
// All write operations are serialized into []byte and are accessible via the entries struct
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	var cmd internal.Command
	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{Value: uint64(store.RetCInternalError), Data: []byte(fmt.Sprintf("failed to deserialize command: %v", err))}
			continue
		}

		// Check if the db supports the operation
		feat, err := cmd.Type.ToDBFeature()
		if err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
			continue
		}
		if !fsm.database.SupportsFeature(feat) {
			entries[idx].Result = sm.Result{
				Value: uint64(store.RetCUnsupportedOperation),
				Data:  []byte(fmt.Sprintf("%s operation is not suported", cmd.Type)),
			}
			continue
		}

		if err := fsm.apply(&cmd, e.Index); err != nil {
			log.Warningf("shard %d: %s key=%q at index %d failed: %v", fsm.shardID, cmd.Type, cmd.Key, e.Index, err)
			entries[idx].Result = errorResult(err)
			continue
		}
		entries[idx].Result = sm.Result{Value: uint64(store.RetCSuccess)}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Statemashine took long to update. Batch updated %d entries, took %.2fms:", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. We don't need to prepare anything since we use fuzzy snapshotting
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot saves a fuzzy db snapshot to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return fmt.Errorf("the used KVDB implemantation does not supports Save() operations")
	}
	return fsm.database.Save(writer)
}

// RecoverFromSnapshot replaces the database content with the snapshot.
// A snapshot written with an unsupported schema version fails the recovery.
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return fmt.Errorf("the used KVDB implemantation does not supports Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
