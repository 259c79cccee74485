package pebble

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("pebble")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "PEBBLKV\x00"
	snapshotVersion   = 1
	defaultGCInterval = time.Second

	// every record value starts with the write index of its last update
	indexSize = 8
)

// key layout: data keys are prefixed so metadata can live in the same keyspace
var (
	dataPrefix     = []byte{'d'}
	dataUpperBound = []byte{'e'}
	metaWriteIdx   = []byte("m/write-idx")
	metaSchema     = []byte("m/schema-version")
)

var (
	compactionRemoved = metrics.GetOrCreateCounter(`ttlkv_compaction_removed_total{engine="pebble"}`)
	expiredReads      = metrics.GetOrCreateCounter(`ttlkv_expired_reads_total{engine="pebble"}`)
	malformedValues   = metrics.GetOrCreateCounter(`ttlkv_schema_errors_total{engine="pebble",kind="malformed"}`)
)

func dataKey(key string) []byte {
	k := make([]byte, 0, len(dataPrefix)+len(key))
	return append(append(k, dataPrefix...), key...)
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// DBOptions configures the pebble engine
type DBOptions struct {
	db.Options
	Dir        string        // data directory; ignored when InMemory is set
	InMemory   bool          // keep everything in memory (vfs.NewMem)
	GCInterval time.Duration // time between background compaction passes (0 = default)
	Sync       bool          // fsync every write batch
}

// DefaultOptions returns in-memory defaults
func DefaultOptions() *DBOptions {
	return &DBOptions{InMemory: true, GCInterval: defaultGCInterval}
}

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// pebbleImpl implements db.KVDB on top of a pebble LSM tree.
//
// Records are stored as [write index (8 bytes, big endian)][encoded value]. Reads
// are lock free; writes are serialized by mu because stale-write detection needs
// to read the stored index first.
type pebbleImpl struct {
	pdb       *pebble.DB
	writeOpts *pebble.WriteOptions

	mu        sync.Mutex
	currIndex atomic.Uint64

	version atomic.Uint32
	clock   schema.Clock
	filter  atomic.Pointer[schema.CompactionFilter]

	gcInterval time.Duration
	stop       chan struct{}
	stopped    sync.WaitGroup
	closeOnce  sync.Once
}

// NewPebbleDB opens (or creates) a pebble database.
//
// If the directory already holds data written with another schema version, the
// stored version is used. A stored version this build can't read is an error.
func NewPebbleDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Options.Normalize(); err != nil {
		return nil, err
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}

	pebbleOpts := &pebble.Options{Logger: pebbleLogger{}}
	dir := opts.Dir
	if opts.InMemory {
		pebbleOpts.FS = vfs.NewMem()
		dir = ""
	} else if dir == "" {
		return nil, errors.New("pebble: data directory required")
	}

	pdb, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %q", dir)
	}

	p := &pebbleImpl{
		pdb:        pdb,
		writeOpts:  pebble.NoSync,
		clock:      opts.Clock,
		gcInterval: opts.GCInterval,
		stop:       make(chan struct{}),
	}
	if opts.Sync {
		p.writeOpts = pebble.Sync
	}

	if err := p.restoreMeta(opts.SchemaVersion); err != nil {
		_ = pdb.Close()
		return nil, err
	}

	p.stopped.Add(1)
	go p.collect()

	return p, nil
}

// restoreMeta reads the persisted write index and schema version, or records the
// configured version for a fresh database.
func (p *pebbleImpl) restoreMeta(configured schema.Version) error {
	if v, ok, err := p.getMeta(metaWriteIdx); err != nil {
		return err
	} else if ok {
		p.currIndex.Store(v)
	}

	stored, ok, err := p.getMeta(metaSchema)
	if err != nil {
		return err
	}
	version := configured
	if ok {
		version = schema.Version(stored)
		if err := schema.CheckVersion(version); err != nil {
			return errors.Wrap(err, "pebble: stored data")
		}
		if version != configured {
			log.Warningf("data directory uses schema %s, ignoring configured %s", version, configured)
		}
	} else if err := p.setMeta(metaSchema, uint64(version)); err != nil {
		return err
	}

	p.setVersion(version)
	return nil
}

func (p *pebbleImpl) setVersion(v schema.Version) {
	p.version.Store(uint32(v))
	p.filter.Store(schema.NewCompactionFilter(v, p.clock))
}

func (p *pebbleImpl) getMeta(key []byte) (uint64, bool, error) {
	v, closer, err := p.pdb.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, false, fmt.Errorf("pebble: corrupt meta key %q", key)
	}
	return binary.BigEndian.Uint64(v), true, nil
}

func (p *pebbleImpl) setMeta(key []byte, value uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	return p.pdb.Set(key, buf[:], p.writeOpts)
}

// --------------------------------------------------------------------------
// Record helpers
// --------------------------------------------------------------------------

// record is what a read needs to know about a stored entry.
type record struct {
	index    uint64
	expireTs uint32
	live     bool
}

// splitRecord separates the write index from the encoded value.
func splitRecord(v []byte) (uint64, []byte, error) {
	if len(v) < indexSize {
		return 0, nil, errors.Wrapf(schema.ErrMalformedValue, "pebble record of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v[:indexSize]), v[indexSize:], nil
}

// peek reads the index and header of key without keeping the value.
func (p *pebbleImpl) peek(dkey []byte, now uint32) (record, bool, error) {
	v, closer, err := p.pdb.Get(dkey)
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	defer closer.Close()

	idx, raw, err := splitRecord(v)
	if err != nil {
		return record{}, false, err
	}
	expireTs, err := schema.ExtractExpireTs(p.SchemaVersion(), raw)
	if err != nil {
		malformedValues.Inc()
		return record{index: idx}, true, err
	}
	return record{index: idx, expireTs: expireTs, live: !schema.IsExpired(now, expireTs)}, true, nil
}

// writeRecord stores the segments under dkey with a single deferred batch op, so
// the segments are copied straight into the batch.
func (p *pebbleImpl) writeRecord(dkey []byte, value schema.Segments, idx uint64) error {
	batch := p.pdb.NewBatch()
	defer batch.Close()

	op := batch.SetDeferred(len(dkey), indexSize+value.Len())
	copy(op.Key, dkey)
	binary.BigEndian.PutUint64(op.Value, idx)
	off := indexSize
	for _, seg := range value {
		off += copy(op.Value[off:], seg)
	}
	if err := op.Finish(); err != nil {
		return err
	}

	if err := p.persistWriteIdx(batch); err != nil {
		return err
	}
	return batch.Commit(p.writeOpts)
}

func (p *pebbleImpl) persistWriteIdx(batch *pebble.Batch) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], p.currIndex.Load())
	return batch.Set(metaWriteIdx, buf[:], nil)
}

// segmentsHeader copies the first HeaderSize bytes of value, which may be spread
// over several segments.
func segmentsHeader(value schema.Segments) []byte {
	hdr := make([]byte, 0, schema.HeaderSize)
	for _, seg := range value {
		need := schema.HeaderSize - len(hdr)
		if need == 0 {
			break
		}
		hdr = append(hdr, seg[:min(need, len(seg))]...)
	}
	return hdr
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or replaces the entry for key.
func (p *pebbleImpl) Put(key string, value schema.Segments, writeIdx uint64) error {
	return p.put(key, value, writeIdx, false)
}

// PutIfAbsent inserts the entry for key if there is no live entry.
func (p *pebbleImpl) PutIfAbsent(key string, value schema.Segments, writeIdx uint64) error {
	return p.put(key, value, writeIdx, true)
}

func (p *pebbleImpl) put(key string, value schema.Segments, writeIdx uint64, onlyIfAbsent bool) error {
	if _, err := schema.ExtractExpireTs(p.SchemaVersion(), segmentsHeader(value)); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetWriteIdx(writeIdx)

	dkey := dataKey(key)
	old, loaded, err := p.peek(dkey, p.clock())
	if err != nil && !errors.Is(err, schema.ErrMalformedValue) {
		return err
	}
	if loaded && writeIdx < old.index {
		return nil
	}
	if onlyIfAbsent && loaded && old.live && err == nil {
		return nil
	}
	return p.writeRecord(dkey, value, writeIdx)
}

// Expire rewrites the live entry for key with the expiration timestamp at.
func (p *pebbleImpl) Expire(key string, at uint32, writeIdx uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetWriteIdx(writeIdx)

	dkey := dataKey(key)
	v, closer, err := p.pdb.Get(dkey)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	idx, raw, err := splitRecord(v)
	if err != nil {
		return err
	}
	if writeIdx < idx {
		return nil
	}
	version := p.SchemaVersion()
	expireTs, payload, err := schema.Decode(version, raw)
	if err != nil {
		return err
	}
	if schema.IsExpired(p.clock(), expireTs) {
		return nil
	}

	// payload still points into pebble's buffer, which stays valid until closer.Close
	g := schema.AcquireGenerator()
	defer schema.ReleaseGenerator(g)
	segs, err := g.GenerateValue(version, payload, at)
	if err != nil {
		return err
	}
	return p.writeRecord(dkey, segs, writeIdx)
}

// Delete removes the entry for key.
func (p *pebbleImpl) Delete(key string, writeIdx uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SetWriteIdx(writeIdx)

	dkey := dataKey(key)
	old, loaded, err := p.peek(dkey, p.clock())
	if err != nil && !errors.Is(err, schema.ErrMalformedValue) {
		return err
	}
	if !loaded || writeIdx < old.index {
		return nil
	}

	batch := p.pdb.NewBatch()
	defer batch.Close()
	if err := batch.Delete(dkey, nil); err != nil {
		return err
	}
	if err := p.persistWriteIdx(batch); err != nil {
		return err
	}
	return batch.Commit(p.writeOpts)
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns the encoded value of the live entry for key without copying it.
// release closes pebble's value handle.
func (p *pebbleImpl) Get(key string) ([]byte, func(), bool, error) {
	v, closer, err := p.pdb.Get(dataKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	_, raw, err := splitRecord(v)
	if err != nil {
		_ = closer.Close()
		return nil, nil, false, err
	}
	expired, err := schema.IsExpiredFromEncoded(p.SchemaVersion(), p.clock(), raw)
	if err != nil {
		malformedValues.Inc()
		_ = closer.Close()
		return nil, nil, false, err
	}
	if expired {
		expiredReads.Inc()
		_ = closer.Close()
		return nil, nil, false, nil
	}

	return raw, func() { _ = closer.Close() }, true, nil
}

// Has reports whether a live entry exists for key.
func (p *pebbleImpl) Has(key string) (bool, error) {
	r, loaded, err := p.peek(dataKey(key), p.clock())
	if err != nil {
		return false, err
	}
	if loaded && !r.live {
		expiredReads.Inc()
	}
	return loaded && r.live, nil
}

// ExpireTs returns the expiration timestamp of the live entry for key.
func (p *pebbleImpl) ExpireTs(key string) (uint32, bool, error) {
	r, loaded, err := p.peek(dataKey(key), p.clock())
	if err != nil || !loaded || !r.live {
		return 0, false, err
	}
	return r.expireTs, true, nil
}

// --------------------------------------------------------------------------
// Compaction
// --------------------------------------------------------------------------

// collect runs Compact every gcInterval until Close.
func (p *pebbleImpl) collect() {
	defer p.stopped.Done()

	ticker := time.NewTicker(p.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if stats, err := p.Compact(); err != nil {
				log.Errorf("background compaction failed: %v", err)
			} else if stats.Removed > 0 {
				log.Debugf("background compaction removed %d of %d records", stats.Removed, stats.Scanned)
			}
		}
	}
}

// Compact deletes every record the compaction filter marks as dead, in one batch.
// Only the index and header of each record are inspected.
func (p *pebbleImpl) Compact() (db.CompactionStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	filter := p.filter.Load()
	now := p.clock()
	var stats db.CompactionStats

	iter := p.pdb.NewIter(&pebble.IterOptions{LowerBound: dataPrefix, UpperBound: dataUpperBound})
	batch := p.pdb.NewBatch()
	defer batch.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		stats.Scanned++
		v := iter.Value()
		if len(v) < indexSize {
			stats.Malformed++
			continue
		}
		decision, err := filter.FilterAt(now, v[indexSize:min(len(v), indexSize+schema.HeaderSize)])
		if err != nil {
			stats.Malformed++
			malformedValues.Inc()
			log.Warningf("compaction kept undecodable value for %q: %v", iter.Key()[len(dataPrefix):], err)
			continue
		}
		if decision == schema.FilterRemove {
			if err := batch.Delete(iter.Key(), nil); err != nil {
				_ = iter.Close()
				return stats, err
			}
			stats.Removed++
		}
	}
	if err := iter.Close(); err != nil {
		return stats, err
	}

	if stats.Removed > 0 {
		if err := batch.Commit(p.writeOpts); err != nil {
			return stats, err
		}
		compactionRemoved.Add(stats.Removed)
	}
	return stats, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save streams a consistent snapshot of all live records.
// Format (little endian): magic, format version (u8), schema version (u32), write
// index (u64), then records of [1 (u8), key length (u32), key, write index (u64),
// value length (u32), encoded value], terminated by a single 0 byte.
func (p *pebbleImpl) Save(w io.Writer) error {
	snap := p.pdb.NewSnapshot()
	defer snap.Close()

	bw := bufio.NewWriterSize(w, 1024*1024)
	version := p.SchemaVersion()
	now := p.clock()

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	header := []any{uint8(snapshotVersion), uint32(version), p.currIndex.Load()}
	for _, field := range header {
		if err := binary.Write(bw, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	iter := snap.NewIter(&pebble.IterOptions{LowerBound: dataPrefix, UpperBound: dataUpperBound})
	var scratch [8]byte
	for iter.First(); iter.Valid(); iter.Next() {
		idx, raw, err := splitRecord(iter.Value())
		if err != nil {
			_ = iter.Close()
			return err
		}
		if expired, err := schema.IsExpiredFromEncoded(version, now, raw); err == nil && expired {
			continue
		}
		key := iter.Key()[len(dataPrefix):]

		if err := bw.WriteByte(1); err != nil {
			_ = iter.Close()
			return err
		}
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(key)))
		_, _ = bw.Write(scratch[:4])
		_, _ = bw.Write(key)
		binary.LittleEndian.PutUint64(scratch[:], idx)
		_, _ = bw.Write(scratch[:])
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(raw)))
		_, _ = bw.Write(scratch[:4])
		if _, err := bw.Write(raw); err != nil {
			_ = iter.Close()
			return err
		}
	}
	if err := iter.Close(); err != nil {
		return err
	}

	if err := bw.WriteByte(0); err != nil {
		return err
	}
	return bw.Flush()
}

// Load replaces all records with the content of a snapshot written by Save.
// The replacement is a single atomic batch; on error nothing changes.
func (p *pebbleImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var (
		format     uint8
		rawVersion uint32
		writeIdx   uint64
	)
	if err := binary.Read(br, binary.LittleEndian, &format); err != nil {
		return err
	}
	if format != snapshotVersion {
		return fmt.Errorf("unsupported snapshot format: %d (expected %d)", format, snapshotVersion)
	}
	if err := binary.Read(br, binary.LittleEndian, &rawVersion); err != nil {
		return err
	}
	version := schema.Version(rawVersion)
	if err := schema.CheckVersion(version); err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}

	batch := p.pdb.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(dataPrefix, dataUpperBound, nil); err != nil {
		return err
	}

	var scratch [8]byte
	for i := 0; ; i++ {
		more, err := br.ReadByte()
		if err != nil {
			return err
		}
		if more == 0 {
			break
		}

		if _, err := io.ReadFull(br, scratch[:4]); err != nil {
			return err
		}
		keyLen, err := db.CheckSnapshotField("key", binary.LittleEndian.Uint32(scratch[:4]))
		if err != nil {
			return errors.Wrapf(err, "load snapshot record %d", i)
		}
		key := make([]byte, len(dataPrefix)+keyLen)
		copy(key, dataPrefix)
		if _, err := io.ReadFull(br, key[len(dataPrefix):]); err != nil {
			return err
		}
		if _, err := io.ReadFull(br, scratch[:]); err != nil {
			return err
		}
		idx := binary.LittleEndian.Uint64(scratch[:])
		if _, err := io.ReadFull(br, scratch[:4]); err != nil {
			return err
		}

		valueLen, err := db.CheckSnapshotField("value", binary.LittleEndian.Uint32(scratch[:4]))
		if err != nil {
			return errors.Wrapf(err, "load snapshot record %d", i)
		}
		op := batch.SetDeferred(len(key), indexSize+valueLen)
		copy(op.Key, key)
		binary.BigEndian.PutUint64(op.Value, idx)
		if _, err := io.ReadFull(br, op.Value[indexSize:]); err != nil {
			return err
		}
		if _, err := schema.ExtractExpireTs(version, op.Value[indexSize:]); err != nil {
			return errors.Wrapf(err, "load snapshot record %d", i)
		}
		if err := op.Finish(); err != nil {
			return err
		}
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	if err := batch.Set(metaSchema, buf[:], nil); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(buf[:], writeIdx)
	if err := batch.Set(metaWriteIdx, buf[:], nil); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := batch.Commit(p.writeOpts); err != nil {
		return err
	}
	p.setVersion(version)
	p.currIndex.Store(writeIdx)
	return nil
}

// --------------------------------------------------------------------------
// Features and Metadata
// --------------------------------------------------------------------------

const supportedFeatures = db.FeaturePut |
	db.FeaturePutIfAbsent |
	db.FeatureGet |
	db.FeatureExpire |
	db.FeatureDelete |
	db.FeatureHas |
	db.FeatureTTL |
	db.FeatureSave |
	db.FeatureLoad |
	db.FeatureCompact

// GetInfo reports pebble's own size estimate and LSM shape.
func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	size, err := p.pdb.EstimateDiskUsage(dataPrefix, dataUpperBound)
	if err != nil {
		log.Warningf("estimate disk usage: %v", err)
	}
	m := p.pdb.Metrics()

	var features []db.Feature
	for _, f := range db.AllFeatures {
		if supportedFeatures&f == f {
			features = append(features, f)
		}
	}

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		MemTableSize      uint64 `json:"memtable_size"`
		Compactions       int64  `json:"compactions"`
		Flushes           int64  `json:"flushes"`
		Info              string `json:"info"`
	}{
		CurrentWriteIndex: p.currIndex.Load(),
		MemTableSize:      m.MemTable.Size,
		Compactions:       m.Compact.Count,
		Flushes:           m.Flush.Count,
		Info:              "SizeBytes is pebble's on-disk estimate and excludes the memtable.",
	}

	return db.DatabaseInfo{
		SizeBytes:         int(size),
		DbType:            db.ImplPebble,
		SchemaVersion:     p.SchemaVersion(),
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// SchemaVersion returns the version all values are encoded with.
func (p *pebbleImpl) SchemaVersion() schema.Version {
	return schema.Version(p.version.Load())
}

// SetWriteIdx raises the current index; smaller values are ignored.
func (p *pebbleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := p.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if p.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (p *pebbleImpl) WriteIdx() uint64 {
	return p.currIndex.Load()
}

// Close stops the background compaction and closes pebble.
func (p *pebbleImpl) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		p.stopped.Wait()

		p.mu.Lock()
		defer p.mu.Unlock()
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], p.currIndex.Load())
		if setErr := p.pdb.Set(metaWriteIdx, buf[:], p.writeOpts); setErr != nil {
			log.Warningf("persist write index: %v", setErr)
		}
		err = p.pdb.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Logging
// --------------------------------------------------------------------------

// pebbleLogger routes pebble's internal logging through the project logger.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) { log.Debugf(format, args...) }

func (pebbleLogger) Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func (pebbleLogger) Fatalf(format string, args ...interface{}) { log.Panicf(format, args...) }
