package lockmgr

import (
	"bytes"

	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

type lockMgrImpl struct {
	store store.IStore
}

func NewLockManager(store store.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

// isOwner reports whether the live value stored under key is ownerID.
func (lm *lockMgrImpl) isOwner(key string, ownerID []byte) (found, owned bool, err error) {
	value, found, err := lm.store.Get(key)
	if err != nil || !found {
		return false, false, err
	}
	defer value.Release()
	return true, bytes.Equal(value.Bytes(), ownerID), nil
}

func (lm *lockMgrImpl) AcquireLock(key string, ttl uint32) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// Try to acquire the lock (by setting the value only if there is no live one - atomic CAS operation)
	if err := lm.store.SetEIfUnset(key, ownerID, ttl); err != nil {
		log.Warningf("acquire lock %q: %v", key, err)
		return false, nil, err
	}

	// Check if the lock was acquired BY US
	_, owned, err := lm.isOwner(key, ownerID)
	if err != nil || !owned {
		return false, nil, err
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	found, owned, err := lm.isOwner(key, ownerID)
	if err != nil || !found {
		return err == nil, err
	}
	if !owned {
		return false, nil
	}

	err = lm.store.Delete(key)
	return err == nil, err
}
