package lstore

import (
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/maple"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/pebble"
	dbtesting "github.com/ValentinKolb/ttlKV/lib/db/testing"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func engines(clock schema.Clock) map[string]store.DBFactory {
	return map[string]store.DBFactory{
		"maple": func() (db.KVDB, error) {
			opts := maple.DefaultOptions()
			opts.Clock = clock
			return maple.NewMapleDB(opts)
		},
		"pebble": func() (db.KVDB, error) {
			opts := pebble.DefaultOptions()
			opts.Clock = clock
			return pebble.NewPebbleDB(opts)
		},
	}
}

func forEachEngine(t *testing.T, fn func(t *testing.T, s store.IStore, clock *dbtesting.ManualClock)) {
	clock := dbtesting.NewManualClock(1_000)
	for name, factory := range engines(clock.Now) {
		t.Run(name, func(t *testing.T) {
			clock.Set(1_000)
			s, err := NewLocalStore(factory, clock.Now)
			require.NoError(t, err)
			defer func() { assert.NoError(t, s.Close()) }()
			fn(t, s, clock)
		})
	}
}

func getString(t *testing.T, s store.IStore, key string) (string, bool) {
	t.Helper()
	blob, ok, err := s.Get(key)
	require.NoError(t, err)
	if !ok {
		assert.Nil(t, blob)
		return "", false
	}
	defer blob.Release()
	return blob.String(), true
}

func TestSetGet(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, _ *dbtesting.ManualClock) {
		require.NoError(t, s.Set("key", []byte("value")))

		value, ok := getString(t, s, "key")
		assert.True(t, ok)
		assert.Equal(t, "value", value)

		_, ok = getString(t, s, "missing")
		assert.False(t, ok)
	})
}

func TestTTL(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, clock *dbtesting.ManualClock) {
		require.NoError(t, s.SetE("session", []byte("data"), 60))
		require.NoError(t, s.Set("forever", []byte("data")))

		ttl, ok, err := s.TTL("session")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(60), ttl)

		ttl, ok, err = s.TTL("forever")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(-1), ttl)

		clock.Advance(59)
		ttl, _, _ = s.TTL("session")
		assert.Equal(t, int64(1), ttl)

		clock.Advance(1)
		_, ok = getString(t, s, "session")
		assert.False(t, ok, "entry must be invisible once its TTL elapsed")
		_, ok, err = s.TTL("session")
		require.NoError(t, err)
		assert.False(t, ok)

		has, err := s.Has("forever")
		require.NoError(t, err)
		assert.True(t, has)
	})
}

func TestExpire(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, _ *dbtesting.ManualClock) {
		require.NoError(t, s.Set("key", []byte("value")))
		require.NoError(t, s.Expire("key"))

		has, err := s.Has("key")
		require.NoError(t, err)
		assert.False(t, has)

		// expiring a missing key is not an error
		assert.NoError(t, s.Expire("missing"))
	})
}

func TestSetEIfUnset(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, clock *dbtesting.ManualClock) {
		require.NoError(t, s.SetEIfUnset("lock", []byte("owner-1"), 10))
		require.NoError(t, s.SetEIfUnset("lock", []byte("owner-2"), 10))

		value, _ := getString(t, s, "lock")
		assert.Equal(t, "owner-1", value)

		// an expired entry counts as unset
		clock.Advance(10)
		require.NoError(t, s.SetEIfUnset("lock", []byte("owner-2"), 10))
		value, _ = getString(t, s, "lock")
		assert.Equal(t, "owner-2", value)
	})
}

func TestDelete(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, _ *dbtesting.ManualClock) {
		require.NoError(t, s.Set("key", []byte("value")))
		require.NoError(t, s.Delete("key"))

		_, ok := getString(t, s, "key")
		assert.False(t, ok)
	})
}

func TestBlobOutlivesOverwrite(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, _ *dbtesting.ManualClock) {
		require.NoError(t, s.Set("key", []byte("first")))

		blob, ok, err := s.Get("key")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, s.Set("key", []byte("second")))
		assert.Equal(t, "first", blob.String())
		blob.Release()

		value, _ := getString(t, s, "key")
		assert.Equal(t, "second", value)
	})
}

func TestFactoryError(t *testing.T) {
	_, err := NewLocalStore(func() (db.KVDB, error) {
		opts := maple.DefaultOptions()
		opts.SchemaVersion = schema.MaxVersion + 1
		return maple.NewMapleDB(opts)
	}, nil)

	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.RetCUnsupportedSchemaVersion, storeErr.Code)
	assert.ErrorIs(t, err, schema.ErrUnsupportedSchemaVersion)
}

func TestGetDBInfo(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s store.IStore, _ *dbtesting.ManualClock) {
		info, err := s.GetDBInfo()
		require.NoError(t, err)
		assert.Equal(t, schema.Version(0), info.SchemaVersion)
	})
}
