package testing

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
)

// DBFactory creates a new instance of a KVDB implementation that reads the
// current time from clock.
type DBFactory func(clock schema.Clock) db.KVDB

// ManualClock is a schema.Clock the tests move by hand.
type ManualClock struct {
	now atomic.Uint32
}

// NewManualClock returns a clock standing at now.
func NewManualClock(now uint32) *ManualClock {
	c := &ManualClock{}
	c.now.Store(now)
	return c
}

// Now implements schema.Clock.
func (c *ManualClock) Now() uint32 { return c.now.Load() }

// Set moves the clock to now.
func (c *ManualClock) Set(now uint32) { c.now.Store(now) }

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint32) { c.now.Add(d) }

// clockStart keeps test timestamps well away from zero, which means "never expires".
const clockStart = 1_000

// RunKVDBTests runs the conformance suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		tests := []struct {
			name string
			fn   func(t *testing.T, database db.KVDB, clock *ManualClock)
		}{
			{"Put&Get", testPutGet},
			{"MultiSegmentPut", testMultiSegmentPut},
			{"MalformedPut", testMalformedPut},
			{"Expiry", testExpiry},
			{"NeverExpires", testNeverExpires},
			{"Expire", testExpire},
			{"Delete", testDelete},
			{"Has", testHas},
			{"PutIfAbsent", testPutIfAbsent},
			{"StaleWrites", testStaleWrites},
			{"Compact", testCompact},
			{"ManyExpiringKeys", testManyExpiringKeys},
			{"EdgeCases", testEdgeCases},
			{"CollisionHandling", testCollisionHandling},
			{"RealisticUsage", testRealisticUsage},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				clock := NewManualClock(clockStart)
				database := factory(clock.Now)
				defer database.Close()
				tt.fn(t, database, clock)
			})
		}

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// put encodes value with expireTs and stores it.
func put(t testing.TB, database db.KVDB, key string, value []byte, expireTs uint32, idx uint64) {
	t.Helper()
	g := schema.NewGenerator()
	segs, err := g.GenerateValue(database.SchemaVersion(), value, expireTs)
	if err != nil {
		t.Fatalf("encode %q: %v", key, err)
	}
	if err := database.Put(key, segs, idx); err != nil {
		t.Fatalf("Put %q: %v", key, err)
	}
}

// get fetches and decodes key, releasing the engine's buffer afterwards.
func get(t testing.TB, database db.KVDB, key string) (value []byte, expireTs uint32, ok bool) {
	t.Helper()
	raw, release, ok, err := database.Get(key)
	if err != nil {
		t.Fatalf("Get %q: %v", key, err)
	}
	if !ok {
		if raw != nil || release != nil {
			t.Errorf("Get %q: missing entry must not return a buffer", key)
		}
		return nil, 0, false
	}
	expireTs, blob, err := schema.ExtractUserData(database.SchemaVersion(), raw, release)
	if err != nil {
		t.Fatalf("decode %q: %v", key, err)
	}
	defer blob.Release()
	return blob.Clone(), expireTs, true
}

func has(t testing.TB, database db.KVDB, key string) bool {
	t.Helper()
	ok, err := database.Has(key)
	if err != nil {
		t.Fatalf("Has %q: %v", key, err)
	}
	return ok
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	testKey := "test-key"
	testValue1 := []byte("test-value1")
	testValue2 := []byte("test-value2")

	put(t, database, testKey, testValue1, 0, 1)

	result, _, exists := get(t, database, testKey)
	if !exists {
		t.Errorf("Expected key %s to exist after Put", testKey)
	}
	if !bytes.Equal(result, testValue1) {
		t.Errorf("Expected value %s, got %s", testValue1, result)
	}

	// a buffer handed out before an overwrite stays valid until it is released
	raw, release, ok, err := database.Get(testKey)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	put(t, database, testKey, testValue2, 0, 2)

	_, payload, err := schema.Decode(database.SchemaVersion(), raw)
	if err != nil || !bytes.Equal(payload, testValue1) {
		t.Errorf("Old buffer changed after overwrite: %q (%v)", payload, err)
	}
	release()

	result, _, exists = get(t, database, testKey)
	if !exists || !bytes.Equal(result, testValue2) {
		t.Errorf("Expected value %s, got %s", testValue2, result)
	}

	if _, _, exists = get(t, database, "nonexistent-key"); exists {
		t.Errorf("Expected nonexistent key to return exists=false")
	}
}

func testMultiSegmentPut(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	// header followed by several payload segments
	header := []byte{0, 0, 0, 0}
	segs := schema.Segments{header, []byte("scatter"), []byte("-"), []byte("gather")}
	if err := database.Put("segments", segs, 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// the database must have taken its own copy
	segs[1][0] = 'X'

	result, _, ok := get(t, database, "segments")
	if !ok || string(result) != "scatter-gather" {
		t.Errorf("Expected scatter-gather, got %q (found=%v)", result, ok)
	}
}

func testMalformedPut(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut)

	err := database.Put("short", schema.Segments{{1, 2, 3}}, 1)
	if !errors.Is(err, schema.ErrMalformedValue) {
		t.Errorf("Expected ErrMalformedValue, got %v", err)
	}
	if has(t, database, "short") {
		t.Errorf("Malformed value must not be stored")
	}
}

func testExpiry(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureHas|db.FeatureTTL)

	testKey := "expiring-key"
	testValue := []byte("expiring-value")
	expireTs := uint32(clockStart + 10)

	put(t, database, testKey, testValue, expireTs, 1)

	clock.Set(expireTs - 1)
	result, gotTs, exists := get(t, database, testKey)
	if !exists {
		t.Fatalf("Key should still exist one second before expiry")
	}
	if !bytes.Equal(result, testValue) || gotTs != expireTs {
		t.Errorf("Expected (%s, %d), got (%s, %d)", testValue, expireTs, result, gotTs)
	}
	if ts, ok, err := database.ExpireTs(testKey); err != nil || !ok || ts != expireTs {
		t.Errorf("ExpireTs: expected %d, got %d (ok=%v err=%v)", expireTs, ts, ok, err)
	}

	// compaction must keep entries that are still live
	if requireCompact(database) {
		if _, err := database.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		if !has(t, database, testKey) {
			t.Errorf("Compact must not remove entries that are live at the current time")
		}
	}

	// the boundary is inclusive
	clock.Set(expireTs)
	if _, _, exists = get(t, database, testKey); exists {
		t.Errorf("Key should have expired at its timestamp (get)")
	}
	if has(t, database, testKey) {
		t.Errorf("Key should have expired at its timestamp (has)")
	}
	if _, ok, err := database.ExpireTs(testKey); err != nil || ok {
		t.Errorf("ExpireTs of an expired key should report not found (ok=%v err=%v)", ok, err)
	}
}

func requireCompact(database db.KVDB) bool {
	return database.SupportsFeature(db.FeatureCompact)
}

func testNeverExpires(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureTTL)

	put(t, database, "forever", []byte("value"), 0, 1)
	clock.Set(4_000_000_000)

	if _, _, ok := get(t, database, "forever"); !ok {
		t.Errorf("Entry without expiration must never expire")
	}
	if ts, ok, err := database.ExpireTs("forever"); err != nil || !ok || ts != 0 {
		t.Errorf("Expected expireTs 0, got %d (ok=%v err=%v)", ts, ok, err)
	}
	if requireCompact(database) {
		if _, err := database.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
		if _, _, ok := get(t, database, "forever"); !ok {
			t.Errorf("Compact must keep entries without expiration")
		}
	}
}

func testExpire(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureExpire|db.FeatureTTL)

	put(t, database, "key", []byte("payload"), 0, 1)

	// push the expiration into the future, the payload must survive
	if err := database.Expire("key", clock.Now()+50, 2); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	value, ts, ok := get(t, database, "key")
	if !ok || string(value) != "payload" || ts != clock.Now()+50 {
		t.Errorf("Expected (payload, %d), got (%s, %d, %v)", clock.Now()+50, value, ts, ok)
	}

	// expire now
	if err := database.Expire("key", clock.Now(), 3); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if _, _, ok = get(t, database, "key"); ok {
		t.Errorf("Key should be gone after Expire(now)")
	}

	// expiring an expired or missing key must not create it
	if err := database.Expire("key", clock.Now()+100, 4); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if err := database.Expire("missing", clock.Now()+100, 5); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if has(t, database, "key") || has(t, database, "missing") {
		t.Errorf("Expire must not resurrect or create entries")
	}
}

func testDelete(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete)

	put(t, database, "delete-key", []byte("delete-value"), 0, 1)
	if err := database.Delete("delete-key", 2); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, _, exists := get(t, database, "delete-key"); exists {
		t.Errorf("Key should not exist after Delete")
	}

	// deleting a missing key is fine
	if err := database.Delete("never-existed", 3); err != nil {
		t.Errorf("Delete of missing key failed: %v", err)
	}
}

func testHas(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureHas|db.FeatureDelete)

	if has(t, database, "has-key") {
		t.Errorf("Has should report false before Put")
	}
	put(t, database, "has-key", []byte("v"), 0, 1)
	if !has(t, database, "has-key") {
		t.Errorf("Has should report true after Put")
	}
	_ = database.Delete("has-key", 2)
	if has(t, database, "has-key") {
		t.Errorf("Has should report false after Delete")
	}
}

func testPutIfAbsent(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePutIfAbsent|db.FeatureGet)

	g := schema.NewGenerator()
	putIfAbsent := func(value string, expireTs uint32, idx uint64) {
		segs, err := g.GenerateValue(database.SchemaVersion(), []byte(value), expireTs)
		if err != nil {
			t.Fatal(err)
		}
		if err := database.PutIfAbsent("lock", segs, idx); err != nil {
			t.Fatalf("PutIfAbsent failed: %v", err)
		}
	}

	putIfAbsent("first", clockStart+10, 1)
	putIfAbsent("second", clockStart+10, 2)

	if value, _, _ := get(t, database, "lock"); string(value) != "first" {
		t.Errorf("Expected first, got %s", value)
	}

	// an expired entry counts as absent
	clock.Set(clockStart + 10)
	putIfAbsent("third", 0, 3)
	if value, ts, ok := get(t, database, "lock"); !ok || string(value) != "third" || ts != 0 {
		t.Errorf("Expected third without expiry, got %s %d %v", value, ts, ok)
	}

	// a failed PutIfAbsent on a missing key must not leave anything behind
	if has(t, database, "other") {
		t.Errorf("unexpected entry")
	}
}

func testStaleWrites(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete)

	put(t, database, "key", []byte("new"), 0, 10)
	put(t, database, "key", []byte("old"), 0, 5)

	if value, _, _ := get(t, database, "key"); string(value) != "new" {
		t.Errorf("Stale write was applied: got %s", value)
	}
	_ = database.Delete("key", 7)
	if !has(t, database, "key") {
		t.Errorf("Stale delete was applied")
	}
	if database.WriteIdx() != 10 {
		t.Errorf("Expected write index 10, got %d", database.WriteIdx())
	}

	database.SetWriteIdx(3)
	if database.WriteIdx() != 10 {
		t.Errorf("Write index must never decrease, got %d", database.WriteIdx())
	}
}

func testCompact(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureCompact|db.FeatureHas)

	for i := 0; i < 10; i++ {
		put(t, database, fmt.Sprintf("expiring-%d", i), []byte("v"), clockStart+uint32(i)+1, uint64(i+1))
		put(t, database, fmt.Sprintf("forever-%d", i), []byte("v"), 0, uint64(i+1))
	}

	clock.Set(clockStart + 5)
	stats, err := database.Compact()
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	// background collection may already have removed some of the five
	if stats.Removed > 5 {
		t.Errorf("Expected at most 5 removals, got %d", stats.Removed)
	}
	if stats.Malformed != 0 {
		t.Errorf("Unexpected malformed values: %d", stats.Malformed)
	}

	stats, err = database.Compact()
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if stats.Removed != 0 || stats.Scanned != 15 {
		t.Errorf("Expected 15 remaining entries and nothing to remove, got %+v", stats)
	}

	for i := 0; i < 10; i++ {
		want := i >= 5
		if got := has(t, database, fmt.Sprintf("expiring-%d", i)); got != want {
			t.Errorf("expiring-%d: expected present=%v, got %v", i, want, got)
		}
		if !has(t, database, fmt.Sprintf("forever-%d", i)) {
			t.Errorf("forever-%d should not be removed", i)
		}
	}
}

func testManyExpiringKeys(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	numKeys := 1000
	for i := 0; i < numKeys; i++ {
		expireTs := uint32(clockStart + 1 + i%100)
		put(t, database, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), expireTs, uint64(i+1))
	}

	for step := uint32(0); step <= 100; step += 10 {
		clock.Set(clockStart + step)
		for i := 0; i < numKeys; i++ {
			key := fmt.Sprintf("key-%d", i)
			want := uint32(clockStart+1+i%100) > clock.Now()
			if _, _, ok := get(t, database, key); ok != want {
				t.Fatalf("at %d: key %s expected present=%v, got %v", clock.Now(), key, want, ok)
			}
		}
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	clock := NewManualClock(clockStart)
	database := factory(clock.Now)
	database2 := factory(clock.Now)
	defer database.Close()
	defer database2.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureSave|db.FeatureLoad)

	numEntries := 1000
	for i := 0; i < numEntries; i++ {
		var expireTs uint32
		switch i % 3 {
		case 1:
			expireTs = clockStart + 100
		case 2:
			expireTs = clockStart + 1 // expired before the snapshot
		}
		put(t, database, fmt.Sprintf("save-load-test-key-%d", i), []byte(fmt.Sprintf("save-load-test-value-%d", i)), expireTs, uint64(i+1))
	}
	clock.Set(clockStart + 1)

	var buf bytes.Buffer
	if err := database.Save(&buf); err != nil {
		t.Fatalf("Unexpected error during Save: %v", err)
	}

	put(t, database2, "overwritten-by-load", []byte("x"), 0, 1)
	if err := database2.Load(&buf); err != nil {
		t.Fatalf("Unexpected error during Load: %v", err)
	}

	if has(t, database2, "overwritten-by-load") {
		t.Errorf("Load must replace the previous content")
	}
	if database2.WriteIdx() < uint64(numEntries-1) {
		t.Errorf("Write index not restored: %d", database2.WriteIdx())
	}

	for i := 0; i < numEntries; i++ {
		key := fmt.Sprintf("save-load-test-key-%d", i)
		value, ts, exists := get(t, database2, key)
		if i%3 == 2 {
			if exists {
				t.Errorf("Expired key %s should not survive Save/Load", key)
			}
			continue
		}
		if !exists {
			t.Errorf("Key %s not found after Load", key)
			continue
		}
		if want := fmt.Sprintf("save-load-test-value-%d", i); string(value) != want {
			t.Errorf("Value mismatch for key %s: expected %s, got %s", key, want, value)
		}
		if i%3 == 1 && ts != clockStart+100 {
			t.Errorf("Expiration of key %s not preserved: %d", key, ts)
		}
	}

	// the original is untouched
	if _, _, ok := get(t, database, "save-load-test-key-0"); !ok {
		t.Errorf("Key not found in original database")
	}

	// garbage is rejected
	if err := database2.Load(bytes.NewReader([]byte("definitely not a snapshot"))); err == nil {
		t.Errorf("Load of garbage should fail")
	}
}

func testEdgeCases(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	put(t, database, "", []byte("value for empty key"), 0, 1)
	if result, _, ok := get(t, database, ""); !ok || string(result) != "value for empty key" {
		t.Errorf("Empty key mismatch: %q %v", result, ok)
	}

	// header-only values
	put(t, database, "empty-value-key", nil, 0, 2)
	raw, release, ok, err := database.Get("empty-value-key")
	if err != nil || !ok {
		t.Fatalf("Key for empty value not found: %v", err)
	}
	if len(raw) != schema.HeaderSize {
		t.Errorf("Empty payload should be stored as %d bytes, got %d", schema.HeaderSize, len(raw))
	}
	release()

	largeKey := string(make([]byte, 1000))
	put(t, database, largeKey, []byte("value for large key"), 0, 3)
	if result, _, ok := get(t, database, largeKey); !ok || string(result) != "value for large key" {
		t.Errorf("Large key mismatch")
	}

	largeValue := make([]byte, 8*1024*1024)
	for i := range largeValue {
		largeValue[i] = byte(i % 256)
	}
	put(t, database, "large-value-key", largeValue, 0, 4)
	if result, _, ok := get(t, database, "large-value-key"); !ok || !bytes.Equal(result, largeValue) {
		t.Errorf("Large value mismatch (found=%v, len=%d)", ok, len(result))
	}
}

func testCollisionHandling(t *testing.T, database db.KVDB, _ *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete)

	prefix := "collision-test-"
	numKeys := 1000

	for i := 0; i < numKeys; i++ {
		put(t, database, fmt.Sprintf("%s%d", prefix, i), []byte(fmt.Sprintf("value-%d", i)), 0, 1)
	}

	for i := 0; i < numKeys; i += 2 {
		_ = database.Delete(fmt.Sprintf("%s%d", prefix, i), 10)
	}

	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("%s%d", prefix, i)
		value, _, exists := get(t, database, key)
		if i%2 == 0 {
			if exists {
				t.Errorf("Key %s should be deleted", key)
			}
		} else if !exists || string(value) != fmt.Sprintf("value-%d", i) {
			t.Errorf("Key %s: expected value-%d, got %s (found=%v)", key, i, value, exists)
		}
	}
}

func testRealisticUsage(t *testing.T, database db.KVDB, clock *ManualClock) {
	requireFeature(t, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete|db.FeatureExpire)

	numOperations := 10_000
	numWorkers := 8
	opsPerWorker := numOperations / numWorkers

	var (
		wg       sync.WaitGroup
		idx      atomic.Uint64
		errCount atomic.Int32
	)
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		go func(workerID int) {
			defer wg.Done()
			g := schema.NewGenerator()

			for i := workerID * opsPerWorker; i < (workerID+1)*opsPerWorker; i++ {
				key := fmt.Sprintf("key-%d", i)
				if i%5 == 0 {
					key = fmt.Sprintf("hot-key-%d", i%50)
				}

				var err error
				switch i % 10 {
				case 0, 1, 2, 3, 4, 5:
					var expireTs uint32
					if i%4 == 0 {
						expireTs = clock.Now() + uint32(i%3)
					}
					value := bytes.Repeat([]byte{byte(i)}, 64+i%1024)
					segs, genErr := g.GenerateValue(database.SchemaVersion(), value, expireTs)
					if genErr != nil {
						err = genErr
						break
					}
					err = database.Put(key, segs, idx.Add(1))
				case 6, 7:
					var raw []byte
					var release func()
					var ok bool
					raw, release, ok, err = database.Get(key)
					if ok {
						if _, blob, decErr := schema.ExtractUserData(database.SchemaVersion(), raw, release); decErr != nil {
							err = decErr
						} else {
							blob.Release()
						}
					}
				case 8:
					err = database.Expire(key, clock.Now()+1, idx.Add(1))
				case 9:
					err = database.Delete(key, idx.Add(1))
				}
				if err != nil {
					errCount.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	if n := errCount.Load(); n > 0 {
		t.Fatalf("Test had %d errors during parallel operations", n)
	}

	// everything still visible must decode and stay stable between two reads
	for i := 0; i < numOperations; i++ {
		key := fmt.Sprintf("key-%d", i)
		first, _, ok1 := get(t, database, key)
		second, _, ok2 := get(t, database, key)
		if ok1 != ok2 || !bytes.Equal(first, second) {
			t.Errorf("Consistency error for key %s", key)
		}
	}

	clock.Advance(10)
	if requireCompact(database) {
		if _, err := database.Compact(); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
	}
}
