// Package lockmgr builds mutual exclusion on top of any store.IStore.
//
// A lock is a key whose value is the owner ID of its holder. AcquireLock writes
// a fresh random UUID with SetEIfUnset and reads the key back; the lock is held
// if the stored ID is the one just written. ReleaseLock deletes the key only if
// it still carries the caller's ID.
//
// The ttl of a lock ends up in the expiration header of the stored value. An
// expired lock is invisible to Get and counts as unset for SetEIfUnset, so a
// crashed holder blocks others for at most ttl seconds. The storage engine drops
// the dead value on its next compaction. A ttl of 0 never expires.
//
// The manager keeps no state of its own. Any number of managers on the same store
// (even one per call) see the same locks, and on a dstore shard the locks are
// replicated with the rest of the data.
//
// Example:
//
//	locks := lockmgr.NewLockManager(store)
//
//	ok, owner, err := locks.AcquireLock("resource:123", 30)
//	if err != nil || !ok {
//	    return err
//	}
//	defer locks.ReleaseLock("resource:123", owner)
//
// Owner IDs only protect against accidental release by another client. Anyone
// with access to the store can overwrite a lock.
//
// Acquire costs one SetEIfUnset and one Get, release one Get and at most one
// Delete.
package lockmgr
