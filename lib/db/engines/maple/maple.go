package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/ttlKV/lib/db/util"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var log = logger.GetLogger("maple")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum          = "MAPLEDB\x00"          // File format identifier
	mapleVersion      = 4                      // Snapshot format version
	defaultGCInterval = 100 * time.Millisecond // Default interval between collector runs
)

var (
	compactionRemoved = metrics.GetOrCreateCounter(`ttlkv_compaction_removed_total{engine="maple"}`)
	expiredReads      = metrics.GetOrCreateCounter(`ttlkv_expired_reads_total{engine="maple"}`)
	malformedValues   = metrics.GetOrCreateCounter(`ttlkv_schema_errors_total{engine="maple",kind="malformed"}`)
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl implements db.KVDB with sharded in-memory maps
type mapleImpl struct {
	numShards int
	seed      uint64
	shards    []*internal.Shard
	currIndex atomic.Uint64

	version schema.Version
	clock   schema.Clock
	filter  *schema.CompactionFilter

	// background collection
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcDone      sync.WaitGroup
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	db.Options
	NumShards  int           // Number of shards (0 = number of CPUs)
	GCInterval time.Duration // Time between collector runs (0 = default)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		NumShards:  runtime.NumCPU(),
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// NewMapleDB creates a new MapleDB instance with the specified options (optional).
// It fails if the configured schema version is not supported by this build.
func NewMapleDB(opts *DBOptions) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.Options.Normalize(); err != nil {
		return nil, err
	}
	if opts.NumShards <= 0 {
		opts.NumShards = runtime.NumCPU()
	}
	if opts.GCInterval <= 0 {
		opts.GCInterval = defaultGCInterval
	}

	newDB := &mapleImpl{
		numShards:  opts.NumShards,
		seed:       util.GenerateSeed(),
		version:    opts.SchemaVersion,
		clock:      opts.Clock,
		filter:     schema.NewCompactionFilter(opts.SchemaVersion, opts.Clock),
		gcInterval: opts.GCInterval,
	}
	newDB.shards = newDB.newShards()
	newDB.startGC()

	return newDB, nil
}

func (maple *mapleImpl) newShards() []*internal.Shard {
	hasher := createIdentityHasher()
	shards := make([]*internal.Shard, maple.numShards)
	for i := range shards {
		shards[i] = internal.NewShard(hasher)
	}
	return shards
}

// --------------------------------------------------------------------------
// Hash Helper Functions
// --------------------------------------------------------------------------

// StringToUint64 hashes a key with this database's seed.
func (maple *mapleImpl) StringToUint64(s string) util.UintKey {
	return util.HashString(s, maple.seed)
}

// createIdentityHasher creates a hash function that combines a key with a seed
func createIdentityHasher() func(util.UintKey, uint64) uint64 {
	return func(key util.UintKey, mapSeed uint64) uint64 {
		return uint64(key) ^ mapSeed
	}
}

// expired applies the liveness predicate to a stored value.
func (maple *mapleImpl) expired(now uint32, raw []byte) (bool, error) {
	expired, err := schema.IsExpiredFromEncoded(maple.version, now, raw)
	if err != nil {
		malformedValues.Inc()
	}
	return expired, err
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Put inserts or replaces the entry for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key string, value schema.Segments, writeIdx uint64) error {
	raw, err := maple.ownedCopy(value)
	if err != nil {
		return err
	}
	maple.write(key, raw, writeIdx, nil)
	return nil
}

// PutIfAbsent inserts the entry for key only if there is no live entry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) PutIfAbsent(key string, value schema.Segments, writeIdx uint64) error {
	raw, err := maple.ownedCopy(value)
	if err != nil {
		return err
	}
	maple.write(key, raw, writeIdx, func(_ internal.Entry, live bool) bool {
		return !live
	})
	return nil
}

// ownedCopy assembles the segments into a buffer owned by the database and
// checks that it carries a header.
func (maple *mapleImpl) ownedCopy(value schema.Segments) ([]byte, error) {
	raw := value.Bytes()
	if _, err := schema.ExtractExpireTs(maple.version, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// write stores raw under key unless the write is stale or cond rejects it.
// cond sees the current entry and whether it is live (present and not expired).
//
// Thread-safety: uses xsync's per-bucket locking through Compute.
func (maple *mapleImpl) write(key string, raw []byte, writeIdx uint64, cond func(old internal.Entry, live bool) bool) {
	maple.SetWriteIdx(writeIdx)

	intKey := maple.StringToUint64(key)
	shard := internal.GetShard(intKey, maple.shards)
	now := maple.clock()

	var notify bool
	shard.Data.Compute(intKey, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		// stale writes are ignored
		if loaded && writeIdx < old.Index {
			return old, false
		}

		if cond != nil {
			live := false
			if loaded {
				expired, err := maple.expired(now, old.Raw)
				live = err == nil && !expired
			}
			if !cond(old, live) {
				return old, !loaded // don't create an entry if there was none
			}
		}

		notify = true
		return internal.Entry{Raw: raw, Index: writeIdx}, false
	})

	if notify {
		shard.Events.Push(internal.Event{Type: internal.EventTWrite, Key: intKey})
	}
}

// Expire rewrites the live entry for key with the expiration timestamp at.
// The payload is carried over unchanged.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Expire(key string, at uint32, writeIdx uint64) error {
	maple.SetWriteIdx(writeIdx)

	intKey := maple.StringToUint64(key)
	shard := internal.GetShard(intKey, maple.shards)
	now := maple.clock()

	var (
		notify bool
		err    error
	)
	shard.Data.Compute(intKey, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return old, true
		}
		if writeIdx < old.Index {
			return old, false
		}
		expired, decodeErr := maple.expired(now, old.Raw)
		if decodeErr != nil {
			err = decodeErr
			return old, false
		}
		if expired {
			return old, false
		}

		_, payload, decodeErr := schema.Decode(maple.version, old.Raw)
		if decodeErr != nil {
			err = decodeErr
			return old, false
		}

		g := schema.AcquireGenerator()
		defer schema.ReleaseGenerator(g)
		segs, genErr := g.GenerateValue(maple.version, payload, at)
		if genErr != nil {
			err = genErr
			return old, false
		}

		notify = true
		return internal.Entry{Raw: segs.Bytes(), Index: writeIdx}, false
	})

	if notify {
		shard.Events.Push(internal.Event{Type: internal.EventTWrite, Key: intKey})
	}
	return err
}

// Delete removes the entry for key. The removal is immediate.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, writeIdx uint64) error {
	maple.SetWriteIdx(writeIdx)

	intKey := maple.StringToUint64(key)
	shard := internal.GetShard(intKey, maple.shards)

	var notify bool
	shard.Data.Compute(intKey, func(old internal.Entry, loaded bool) (internal.Entry, bool) {
		if !loaded {
			return old, true
		}
		if writeIdx < old.Index {
			return old, false
		}
		notify = true
		return old, true
	})

	if notify {
		shard.Events.Push(internal.Event{Type: internal.EventTDelete, Key: intKey})
	}
	return nil
}

// --------------------------------------------------------------------------
// Core KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// load returns the live entry for key.
func (maple *mapleImpl) load(key string) (internal.Entry, bool, error) {
	intKey := maple.StringToUint64(key)
	shard := internal.GetShard(intKey, maple.shards)

	e, ok := shard.Data.Load(intKey)
	if !ok {
		return internal.Entry{}, false, nil
	}
	expired, err := maple.expired(maple.clock(), e.Raw)
	if err != nil {
		return internal.Entry{}, false, err
	}
	if expired {
		expiredReads.Inc()
		return internal.Entry{}, false, nil
	}
	return e, true, nil
}

// Get returns the live encoded value for key without copying it. Entries are
// replaced, never modified, so the slice stays valid after later writes and
// release has nothing to hand back.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string) ([]byte, func(), bool, error) {
	e, ok, err := maple.load(key)
	if err != nil || !ok {
		return nil, nil, false, err
	}
	return e.Raw, func() {}, true, nil
}

// Has reports whether a live entry exists for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Has(key string) (bool, error) {
	_, ok, err := maple.load(key)
	return ok, err
}

// ExpireTs returns the expiration timestamp of the live entry for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) ExpireTs(key string) (uint32, bool, error) {
	e, ok, err := maple.load(key)
	if err != nil || !ok {
		return 0, false, err
	}
	ts, err := schema.ExtractExpireTs(maple.version, e.Raw)
	return ts, err == nil, err
}

// --------------------------------------------------------------------------
// Background Collection
// --------------------------------------------------------------------------

// startGC starts one collector goroutine per shard.
// If the collectors are already running, this function does nothing.
func (maple *mapleImpl) startGC() {
	if !maple.gcIsRunning.CompareAndSwap(false, true) {
		return
	}
	for _, shard := range maple.shards {
		maple.gcDone.Add(1)
		go func(s *internal.Shard) {
			defer maple.gcDone.Done()
			maple.collect(s)
		}(shard)
	}
}

// stopGC closes the shards' event queues and waits for the collectors to exit.
// Collectors of the current shards can't be restarted; Load creates new shards.
func (maple *mapleImpl) stopGC() {
	if !maple.gcIsRunning.CompareAndSwap(true, false) {
		return
	}
	for _, shard := range maple.shards {
		shard.Events.Close()
	}
	maple.gcDone.Wait()
}

// collect is the collector loop of a single shard. It is the only goroutine
// touching shard.Expiry.
func (maple *mapleImpl) collect(shard *internal.Shard) {
	ticker := time.NewTicker(maple.gcInterval)
	defer ticker.Stop()

	var batch []internal.Event
	for {
		select {
		case <-shard.Events.Ready():
			batch = maple.applyEvents(shard, batch[:0])
		case <-ticker.C:
			batch = maple.applyEvents(shard, batch[:0])
			maple.collectDue(shard)
		case <-shard.Events.Done():
			return
		}
	}
}

// applyEvents brings the expiry heap in line with the entries that changed.
// The current entry is re-read, so events applied out of order are harmless.
func (maple *mapleImpl) applyEvents(shard *internal.Shard, batch []internal.Event) []internal.Event {
	batch = shard.Events.Drain(batch)
	for _, event := range batch {
		switch event.Type {
		case internal.EventTWrite, internal.EventTDelete:
			e, ok := shard.Data.Load(event.Key)
			if !ok {
				shard.Expiry.Unschedule(event.Key)
				continue
			}
			expireTs, err := schema.ExtractExpireTs(maple.version, e.Raw)
			if err != nil || expireTs == 0 {
				shard.Expiry.Unschedule(event.Key)
				continue
			}
			shard.Expiry.Schedule(event.Key, expireTs)
		default:
			panic(fmt.Sprintf("unknown event %s", event))
		}
	}
	return batch
}

// collectDue removes every entry whose scheduled expiration has passed.
func (maple *mapleImpl) collectDue(shard *internal.Shard) {
	// one "now" per run, so the loop terminates even if the clock moves
	now := maple.clock()

	for {
		key, ok := shard.Expiry.PopDue(now)
		if !ok {
			return
		}

		// the entry may have been rewritten since it was scheduled; in that case a
		// write event is queued and reschedules it
		shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
			if !loaded {
				return e, true
			}
			decision, err := maple.filter.FilterAt(now, e.Header(schema.HeaderSize))
			if err != nil {
				return e, false
			}
			if decision == schema.FilterRemove {
				compactionRemoved.Inc()
				return e, true
			}
			return e, false
		})
	}
}

// Compact runs the compaction filter over all entries right away.
// Entries removed here may still be scheduled in a collector's heap; the
// collector skips them once they are due.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Compact() (db.CompactionStats, error) {
	now := maple.clock()
	var stats db.CompactionStats

	for _, shard := range maple.shards {
		var dead []util.UintKey
		shard.Data.Range(func(key util.UintKey, e internal.Entry) bool {
			stats.Scanned++
			decision, err := maple.filter.FilterAt(now, e.Header(schema.HeaderSize))
			if err != nil {
				stats.Malformed++
				log.Warningf("compaction kept undecodable value (key hash %d): %v", key, err)
				return true
			}
			if decision == schema.FilterRemove {
				dead = append(dead, key)
			}
			return true
		})

		for _, key := range dead {
			shard.Data.Compute(key, func(e internal.Entry, loaded bool) (internal.Entry, bool) {
				if !loaded {
					return e, true
				}
				// re-check, the entry may have been replaced
				if decision, err := maple.filter.FilterAt(now, e.Header(schema.HeaderSize)); err == nil && decision == schema.FilterRemove {
					stats.Removed++
					return e, true
				}
				return e, false
			})
		}
	}

	compactionRemoved.Add(stats.Removed)
	return stats, nil
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a fuzzy snapshot of all live entries.
// Format (little endian): magic, format version (u8), schema version (u32),
// seed (u64), entry count (u64), then per entry: key hash (u64), write index
// (u64), value length (u32), encoded value.
//
// Thread-safety: allows concurrent operations with all other functions except Load.
func (maple *mapleImpl) Save(w io.Writer) error {
	bw := bufio.NewWriterSize(w, 1024*1024)
	now := maple.clock()

	type entryToSave struct {
		key   util.UintKey
		entry internal.Entry
	}

	// entries are immutable, so holding on to them is a consistent copy
	var entries []entryToSave
	for _, shard := range maple.shards {
		shard.Data.Range(func(key util.UintKey, e internal.Entry) bool {
			if expired, err := maple.expired(now, e.Raw); err == nil && expired {
				return true
			}
			entries = append(entries, entryToSave{key, e})
			return true
		})
	}

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	header := []any{uint8(mapleVersion), uint32(maple.version), maple.seed, uint64(len(entries))}
	for _, field := range header {
		if err := binary.Write(bw, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	var scratch [20]byte
	for _, item := range entries {
		binary.LittleEndian.PutUint64(scratch[0:], uint64(item.key))
		binary.LittleEndian.PutUint64(scratch[8:], item.entry.Index)
		binary.LittleEndian.PutUint32(scratch[16:], uint32(len(item.entry.Raw)))
		if _, err := bw.Write(scratch[:]); err != nil {
			return err
		}
		if _, err := bw.Write(item.entry.Raw); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the database content with a snapshot written by Save.
// On error the current content is left untouched.
//
// Thread-safety: This function is not thread-safe and should not be called concurrently
func (maple *mapleImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var formatVersion uint8
	if err := binary.Read(br, binary.LittleEndian, &formatVersion); err != nil {
		return err
	}
	if int(formatVersion) != mapleVersion {
		return fmt.Errorf("unsupported snapshot format: %d (expected %d)", formatVersion, mapleVersion)
	}

	var rawVersion uint32
	if err := binary.Read(br, binary.LittleEndian, &rawVersion); err != nil {
		return err
	}
	version := schema.Version(rawVersion)
	if err := schema.CheckVersion(version); err != nil {
		return errors.Wrap(err, "load snapshot")
	}

	var seed, count uint64
	if err := binary.Read(br, binary.LittleEndian, &seed); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	shards := maple.newShards()
	var (
		maxIndex uint64
		scratch  [20]byte
	)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, scratch[:]); err != nil {
			return err
		}
		key := util.UintKey(binary.LittleEndian.Uint64(scratch[0:]))
		index := binary.LittleEndian.Uint64(scratch[8:])
		n, err := db.CheckSnapshotField("value", binary.LittleEndian.Uint32(scratch[16:]))
		if err != nil {
			return errors.Wrapf(err, "load snapshot entry %d", i)
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(br, raw); err != nil {
			return err
		}

		expireTs, err := schema.ExtractExpireTs(version, raw)
		if err != nil {
			return errors.Wrapf(err, "load snapshot entry %d", i)
		}

		maxIndex = max(maxIndex, index)
		shard := internal.GetShard(key, shards)
		shard.Data.Store(key, internal.Entry{Raw: raw, Index: index})
		// the collectors of the new shards are not running yet
		if expireTs != 0 {
			shard.Expiry.Schedule(key, expireTs)
		}
	}

	maple.stopGC()
	maple.shards = shards
	maple.seed = seed
	maple.version = version
	maple.filter = schema.NewCompactionFilter(version, maple.clock)
	maple.currIndex.Store(0)
	maple.SetWriteIdx(maxIndex)
	maple.startGC()

	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
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

// GetInfo returns estimated statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	now := maple.clock()

	histogram := util.NewSizeHistogram()
	samplesPerShard := 100

	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		samplesCount   int
		expiredBacklog int
		withTTL        int
		shardSizes     = make([]float64, len(maple.shards))
	)
	wg.Add(len(maple.shards))

	for shardIndex, shard := range maple.shards {
		go func(i int, s *internal.Shard) {
			defer wg.Done()
			count, expiredCount, ttlCount := 0, 0, 0
			s.Data.Range(func(_ util.UintKey, e internal.Entry) bool {
				histogram.AddSample(len(e.Raw))
				if ts, err := schema.ExtractExpireTs(maple.version, e.Raw); err == nil && ts != 0 {
					ttlCount++
					if schema.IsExpired(now, ts) {
						expiredCount++
					}
				}
				count++
				return count < samplesPerShard
			})

			mu.Lock()
			defer mu.Unlock()
			samplesCount += count
			expiredBacklog += expiredCount
			withTTL += ttlCount
			shardSizes[i] = float64(s.Data.Size())
		}(shardIndex, shard)
	}
	wg.Wait()

	var totalEntries float64
	for _, n := range shardSizes {
		totalEntries += n
	}

	// 8 bytes key hash + 8 bytes write index
	entryOverhead := 16
	medianSize := histogram.MedianEstimate() + entryOverhead
	avgSize := histogram.AverageSize() + entryOverhead
	// weighted estimate (60% median, 40% average)
	sizeBytes := int(totalEntries) * ((medianSize*60 + avgSize*40) / 100)

	ratio := func(n int) float64 {
		if samplesCount == 0 {
			return 0
		}
		return float64(n) / float64(samplesCount)
	}

	meta := &struct {
		CurrentWriteIndex uint64                 `json:"current_write_index"`
		Entries           int                    `json:"entries"`
		ShardCount        int                    `json:"shard_count"`
		ShardDistribution util.DistributionStats `json:"shard_distribution"`
		TTLRatio          float64                `json:"ttl_ratio"`
		ExpiredBacklog    float64                `json:"expired_backlog"`
		Info              string                 `json:"info"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		Entries:           int(totalEntries),
		ShardCount:        len(maple.shards),
		ShardDistribution: util.NewDistributionStats(shardSizes),
		TTLRatio:          ratio(withTTL),
		ExpiredBacklog:    ratio(expiredBacklog), // expired but not yet collected
		Info:              "All values (including SizeBytes) are estimates and may vary depending on the database state.",
	}

	var features []db.Feature
	for _, f := range db.AllFeatures {
		if supportedFeatures&f == f {
			features = append(features, f)
		}
	}

	return db.DatabaseInfo{
		SizeBytes:         sizeBytes,
		DbType:            db.ImplMaple,
		SchemaVersion:     maple.version,
		SupportedFeatures: features,
		Metadata:          meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	return supportedFeatures&feature == feature
}

// SchemaVersion returns the version all values are encoded with.
func (maple *mapleImpl) SchemaVersion() schema.Version {
	return maple.version
}

// Close stops the background collectors
func (maple *mapleImpl) Close() error {
	maple.stopGC()
	return nil
}

// --------------------------------------------------------------------------
// Index Management
// --------------------------------------------------------------------------

// SetWriteIdx raises the current index; smaller values are ignored.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}
