package testing

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementation
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	benchmarks := []struct {
		name string
		fn   func(b *testing.B, database db.KVDB, clock *ManualClock)
	}{
		{"Put", benchmarkPut},
		{"PutLargeValue", benchmarkPutLargeValue},
		{"PutWithExpiry", benchmarkPutWithExpiry},
		{"Get", benchmarkGet},
		{"GetExpired", benchmarkGetExpired},
		{"Has(not)", benchmarkHasNot},
		{"Compact", benchmarkCompact},
		{"MixedUsage", benchmarkMixedUsage},
	}

	b.Run(name, func(b *testing.B) {
		for _, bm := range benchmarks {
			b.Run(bm.name, func(b *testing.B) {
				clock := NewManualClock(clockStart)
				database := factory(clock.Now)
				b.Cleanup(func() { database.Close() })
				bm.fn(b, database, clock)
			})
		}
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

func benchPut(b *testing.B, database db.KVDB, g *schema.Generator, key string, value []byte, expireTs uint32, idx uint64) {
	segs, err := g.GenerateValue(database.SchemaVersion(), value, expireTs)
	if err != nil {
		b.Fatal(err)
	}
	if err := database.Put(key, segs, idx); err != nil {
		b.Fatal(err)
	}
}

func benchmarkPut(b *testing.B, database db.KVDB, _ *ManualClock) {
	requireFeature(b, database, db.FeaturePut)

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		g := schema.NewGenerator()
		counter := 0
		for pb.Next() {
			benchPut(b, database, g, fmt.Sprintf("test-key-%d", counter), []byte(fmt.Sprintf("test-value-%d", counter)), 0, idx.Add(1))
			counter++
		}
	})
}

func benchmarkPutLargeValue(b *testing.B, database db.KVDB, _ *ManualClock) {
	requireFeature(b, database, db.FeaturePut)

	value := bytes.Repeat([]byte("x"), 1<<20)
	g := schema.NewGenerator()
	b.SetBytes(int64(len(value)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		benchPut(b, database, g, fmt.Sprintf("large-%d", i%64), value, 0, uint64(i+1))
	}
}

func benchmarkPutWithExpiry(b *testing.B, database db.KVDB, clock *ManualClock) {
	requireFeature(b, database, db.FeaturePut)

	var idx atomic.Uint64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		g := schema.NewGenerator()
		counter := 0
		for pb.Next() {
			benchPut(b, database, g, fmt.Sprintf("ttl-key-%d", counter), []byte("value"), clock.Now()+uint32(counter%100)+1, idx.Add(1))
			counter++
		}
	})
}

func prefill(b *testing.B, database db.KVDB, n int, expireTs uint32) {
	g := schema.NewGenerator()
	for i := 0; i < n; i++ {
		benchPut(b, database, g, fmt.Sprintf("key-%d", i), []byte(fmt.Sprintf("value-%d", i)), expireTs, uint64(i+1))
	}
}

func benchmarkGet(b *testing.B, database db.KVDB, _ *ManualClock) {
	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	const numKeys = 10_000
	prefill(b, database, numKeys, 0)
	version := database.SchemaVersion()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			raw, release, ok, err := database.Get(fmt.Sprintf("key-%d", counter%numKeys))
			if err != nil || !ok {
				b.Fatalf("Get failed: ok=%v err=%v", ok, err)
			}
			_, blob, err := schema.ExtractUserData(version, raw, release)
			if err != nil {
				b.Fatal(err)
			}
			blob.Release()
			counter++
		}
	})
}

func benchmarkGetExpired(b *testing.B, database db.KVDB, clock *ManualClock) {
	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	const numKeys = 10_000
	prefill(b, database, numKeys, clock.Now()+1)
	clock.Advance(1)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			if _, _, ok, _ := database.Get(fmt.Sprintf("key-%d", counter%numKeys)); ok {
				b.Fatal("expired entry returned")
			}
			counter++
		}
	})
}

func benchmarkHasNot(b *testing.B, database db.KVDB, _ *ManualClock) {
	requireFeature(b, database, db.FeatureHas)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		counter := 0
		for pb.Next() {
			_, _ = database.Has(fmt.Sprintf("missing-%d", counter))
			counter++
		}
	})
}

func benchmarkCompact(b *testing.B, database db.KVDB, clock *ManualClock) {
	requireFeature(b, database, db.FeaturePut|db.FeatureCompact)

	const numKeys = 10_000
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		prefill(b, database, numKeys, clock.Now()+1)
		clock.Advance(1)
		b.StartTimer()

		if _, err := database.Compact(); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkMixedUsage(b *testing.B, database db.KVDB, clock *ManualClock) {
	requireFeature(b, database, db.FeaturePut|db.FeatureGet|db.FeatureDelete)

	const numKeys = 1_000
	prefill(b, database, numKeys, 0)

	var idx atomic.Uint64
	idx.Store(numKeys)
	version := database.SchemaVersion()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		g := schema.NewGenerator()
		counter := 0
		for pb.Next() {
			key := fmt.Sprintf("key-%d", counter%numKeys)
			switch counter % 10 {
			case 0, 1, 2:
				var expireTs uint32
				if counter%2 == 0 {
					expireTs = clock.Now() + 5
				}
				benchPut(b, database, g, key, []byte("mixed"), expireTs, idx.Add(1))
			case 9:
				_ = database.Delete(key, idx.Add(1))
			default:
				if raw, release, ok, _ := database.Get(key); ok {
					if _, blob, err := schema.ExtractUserData(version, raw, release); err == nil {
						blob.Release()
					}
				}
			}
			counter++
		}
	})
}
