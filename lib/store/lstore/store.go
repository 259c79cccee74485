package lstore

import (
	"sync/atomic"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
)

type storeImpl struct {
	db    db.KVDB
	index atomic.Uint64
	clock schema.Clock
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// clock turns TTLs into expiration timestamps and should be the database's clock
// (nil = schema.EpochNow).
func NewLocalStore(factory store.DBFactory, clock schema.Clock) (store.IStore, error) {
	database, err := factory()
	if err != nil {
		return nil, store.WrapError(err)
	}
	if clock == nil {
		clock = schema.EpochNow
	}
	s := &storeImpl{
		db:    database,
		clock: clock,
	}
	s.index.Store(database.WriteIdx())
	return s, nil
}

// incAndGetIndex increments the index and returns the new value.
// It is used to ensure that each write operation has a unique index.
//
// Thread-safety: This method is thread-safe since it uses atomic operations.
func (s *storeImpl) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

func unsupported(op string) error {
	return store.NewError(store.RetCUnsupportedOperation, op+" operation is not supported")
}

// put encodes value with a pooled generator and hands the segments to the db,
// which copies them before returning.
func (s *storeImpl) put(key string, value []byte, ttl uint32, onlyIfAbsent bool) error {
	g := schema.AcquireGenerator()
	defer schema.ReleaseGenerator(g)

	segs, err := g.GenerateValue(s.db.SchemaVersion(), value, schema.ExpireTsFromTTL(s.clock(), ttl))
	if err != nil {
		return store.WrapError(err)
	}
	if onlyIfAbsent {
		return store.WrapError(s.db.PutIfAbsent(key, segs, s.incAndGetIndex()))
	}
	return store.WrapError(s.db.Put(key, segs, s.incAndGetIndex()))
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.SetE(key, value, 0)
}

func (s *storeImpl) SetE(key string, value []byte, ttl uint32) error {
	if !s.db.SupportsFeature(db.FeaturePut) {
		return unsupported("SetE")
	}
	return s.put(key, value, ttl, false)
}

func (s *storeImpl) SetEIfUnset(key string, value []byte, ttl uint32) error {
	if !s.db.SupportsFeature(db.FeaturePutIfAbsent) {
		return unsupported("SetEIfUnset")
	}
	return s.put(key, value, ttl, true)
}

func (s *storeImpl) Expire(key string) error {
	if !s.db.SupportsFeature(db.FeatureExpire) {
		return unsupported("Expire")
	}
	// 0 would mean "never expires"
	at := max(s.clock(), 1)
	return store.WrapError(s.db.Expire(key, at, s.incAndGetIndex()))
}

func (s *storeImpl) Delete(key string) error {
	if !s.db.SupportsFeature(db.FeatureDelete) {
		return unsupported("Delete")
	}
	return store.WrapError(s.db.Delete(key, s.incAndGetIndex()))
}

func (s *storeImpl) Get(key string) (*schema.Blob, bool, error) {
	if !s.db.SupportsFeature(db.FeatureGet) {
		return nil, false, unsupported("Get")
	}
	raw, release, ok, err := s.db.Get(key)
	if err != nil || !ok {
		return nil, false, store.WrapError(err)
	}
	// the blob takes over raw and calls release exactly once
	_, blob, err := schema.ExtractUserData(s.db.SchemaVersion(), raw, release)
	if err != nil {
		return nil, false, store.WrapError(err)
	}
	return blob, true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	if !s.db.SupportsFeature(db.FeatureHas) {
		return false, unsupported("Has")
	}
	ok, err := s.db.Has(key)
	return ok, store.WrapError(err)
}

func (s *storeImpl) TTL(key string) (int64, bool, error) {
	if !s.db.SupportsFeature(db.FeatureTTL) {
		return 0, false, unsupported("TTL")
	}
	expireTs, ok, err := s.db.ExpireTs(key)
	if err != nil || !ok {
		return 0, false, store.WrapError(err)
	}
	return schema.RemainingTTL(s.clock(), expireTs), true, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	return s.db.GetInfo(), nil
}

func (s *storeImpl) Close() error {
	return store.WrapError(s.db.Close())
}
