package maple

import (
	"bytes"
	"encoding/binary"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/lib/db"
	dbtesting "github.com/ValentinKolb/ttlKV/lib/db/testing"
	"github.com/ValentinKolb/ttlKV/lib/schema"
)

func newTestDB(t testing.TB, clock schema.Clock) db.KVDB {
	opts := DefaultOptions()
	opts.Clock = clock
	opts.GCInterval = 10 * time.Millisecond
	database, err := NewMapleDB(opts)
	if err != nil {
		t.Fatalf("NewMapleDB: %v", err)
	}
	return database
}

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func(clock schema.Clock) db.KVDB {
		return newTestDB(t, clock)
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "MapleDB", func(clock schema.Clock) db.KVDB {
		return newTestDB(b, clock)
	})
}

func TestUnsupportedSchemaVersion(t *testing.T) {
	opts := DefaultOptions()
	opts.SchemaVersion = schema.MaxVersion + 1
	if _, err := NewMapleDB(opts); !errors.Is(err, schema.ErrUnsupportedSchemaVersion) {
		t.Fatalf("expected ErrUnsupportedSchemaVersion, got %v", err)
	}
}

func TestLoadRejectsUnsupportedSchemaVersion(t *testing.T) {
	database := newTestDB(t, nil)
	defer database.Close()

	var buf bytes.Buffer
	buf.WriteString(magicNum)
	buf.WriteByte(mapleVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(schema.MaxVersion+1))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1)) // seed
	_ = binary.Write(&buf, binary.LittleEndian, uint64(0)) // entries

	if err := database.Load(&buf); !errors.Is(err, schema.ErrUnsupportedSchemaVersion) {
		t.Fatalf("expected ErrUnsupportedSchemaVersion, got %v", err)
	}
}

func TestLoadRejectsOversizedEntry(t *testing.T) {
	database := newTestDB(t, nil)
	defer database.Close()

	var buf bytes.Buffer
	buf.WriteString(magicNum)
	buf.WriteByte(mapleVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))  // schema version
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1))  // seed
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1))  // entries
	_ = binary.Write(&buf, binary.LittleEndian, uint64(42)) // key
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1))  // write index
	_ = binary.Write(&buf, binary.LittleEndian, ^uint32(0)) // value length

	if err := database.Load(&buf); !errors.Is(err, db.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestGetIsZeroCopy(t *testing.T) {
	database := newTestDB(t, nil)
	defer database.Close()

	payload := bytes.Repeat([]byte("z"), 4<<20)
	segs, _ := schema.NewGenerator().GenerateValue(0, payload, 0)
	if err := database.Put("big", segs, 1); err != nil {
		t.Fatal(err)
	}

	read := func() *schema.Blob {
		raw, release, ok, err := database.Get("big")
		if err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
		_, blob, err := schema.ExtractUserData(0, raw, release)
		if err != nil {
			t.Fatal(err)
		}
		return blob
	}

	first, second := read(), read()
	if &first.Bytes()[0] != &second.Bytes()[0] {
		t.Error("Get returned a copy of the stored value")
	}
	if !bytes.Equal(first.Bytes(), payload) {
		t.Error("payload mismatch")
	}
	first.Release()
	second.Release()

	const reads = 20
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < reads; i++ {
		read().Release()
	}
	runtime.ReadMemStats(&after)
	if perRead := (after.TotalAlloc - before.TotalAlloc) / reads; perRead > 64<<10 {
		t.Errorf("allocated %d bytes per read of a %d byte value", perRead, len(payload))
	}
}

func TestBackgroundCollection(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	database := newTestDB(t, clock.Now)
	defer database.Close()
	maple := database.(*mapleImpl)

	g := schema.NewGenerator()
	for i, key := range []string{"a", "b", "c", "d"} {
		expireTs := uint32(1_001)
		if key == "d" {
			expireTs = 0
		}
		segs, _ := g.GenerateValue(0, []byte(key), expireTs)
		if err := database.Put(key, segs, uint64(i+1)); err != nil {
			t.Fatal(err)
		}
	}

	clock.Advance(1)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if maple.entryCount() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := maple.entryCount(); n != 1 {
		t.Fatalf("expected the collector to leave 1 entry, found %d", n)
	}
	if ok, _ := database.Has("d"); !ok {
		t.Error("entry without expiration was collected")
	}
}

func TestCollectorSkipsRewrittenEntries(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	database := newTestDB(t, clock.Now)
	defer database.Close()
	maple := database.(*mapleImpl)

	g := schema.NewGenerator()
	segs, _ := g.GenerateValue(0, []byte("v1"), 1_001)
	_ = database.Put("key", segs, 1)

	// give the collector a chance to schedule the first version
	time.Sleep(30 * time.Millisecond)

	segs, _ = g.GenerateValue(0, []byte("v2"), 0)
	_ = database.Put("key", segs, 2)

	clock.Advance(10)
	time.Sleep(50 * time.Millisecond)

	if maple.entryCount() != 1 {
		t.Fatal("rewritten entry without expiration was collected")
	}
}

func TestGetInfo(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	database := newTestDB(t, clock.Now)
	defer database.Close()

	g := schema.NewGenerator()
	for i := 0; i < 100; i++ {
		var expireTs uint32
		if i%2 == 0 {
			expireTs = 2_000
		}
		segs, _ := g.GenerateValue(0, bytes.Repeat([]byte("x"), 100), expireTs)
		_ = database.Put(string(rune('a'+i%26))+string(rune(i)), segs, uint64(i+1))
	}

	info := database.GetInfo()
	if info.DbType != db.ImplMaple || info.SchemaVersion != 0 {
		t.Errorf("unexpected info header: %+v", info)
	}
	if info.SizeBytes <= 0 {
		t.Errorf("expected a positive size estimate, got %d", info.SizeBytes)
	}
	if len(info.SupportedFeatures) != len(db.AllFeatures) {
		t.Errorf("expected all features, got %v", info.SupportedFeatures)
	}
}

// entryCount counts entries physically present, expired or not.
func (maple *mapleImpl) entryCount() int {
	n := 0
	for _, shard := range maple.shards {
		n += shard.Data.Size()
	}
	return n
}
