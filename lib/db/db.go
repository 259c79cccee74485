package db

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ValentinKolb/ttlKV/lib/schema"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplPebble Implementation = "pebble"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeaturePut         Feature = 1 << iota // Support for Put operations
	FeaturePutIfAbsent                     // Support for PutIfAbsent operations
	FeatureGet                             // Support for Get operations
	FeatureExpire                          // Support for Expire operations
	FeatureDelete                          // Support for Delete operations
	FeatureHas                             // Support for Has operations
	FeatureTTL                             // Support for ExpireTs operations
	FeatureSave                            // Support for Save operations
	FeatureLoad                            // Support for Load operations
	FeatureCompact                         // Support for Compact operations
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeaturePutIfAbsent:
		return "PutIfAbsent"
	case FeatureGet:
		return "Get"
	case FeatureExpire:
		return "Expire"
	case FeatureDelete:
		return "Delete"
	case FeatureHas:
		return "Has"
	case FeatureTTL:
		return "TTL"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureCompact:
		return "Compact"
	default:
		return "Unknown"
	}
}

// AllFeatures lists every single feature flag, in declaration order.
var AllFeatures = []Feature{
	FeaturePut, FeaturePutIfAbsent, FeatureGet, FeatureExpire, FeatureDelete,
	FeatureHas, FeatureTTL, FeatureSave, FeatureLoad, FeatureCompact,
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SchemaVersion     schema.Version `json:"schema_version"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// CompactionStats reports the outcome of one compaction pass.
type CompactionStats struct {
	Scanned   int `json:"scanned"`
	Removed   int `json:"removed"`
	Malformed int `json:"malformed"`
}

// Add accumulates o into s.
func (s *CompactionStats) Add(o CompactionStats) {
	s.Scanned += o.Scanned
	s.Removed += o.Removed
	s.Malformed += o.Malformed
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for key-value database implementations.
// Values are stored in their encoded form (see package schema): a 4 byte
// expiration header followed by the payload. The schema version the values are
// encoded with is fixed per database and reported by SchemaVersion.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or replaces the entry for key with the encoded value.
	// The segments are only read during the call; the database keeps its own copy.
	// The writeIndex parameter is a logical timestamp, writes with an index lower
	// than the one of the stored entry are ignored.
	Put(key string, value schema.Segments, writeIndex uint64) error

	// PutIfAbsent behaves like Put but only writes if no live entry exists.
	// An expired entry counts as absent.
	PutIfAbsent(key string, value schema.Segments, writeIndex uint64) error

	// Expire replaces the live entry for key with one carrying the same payload
	// and the expiration timestamp at. Missing or expired entries are left alone.
	Expire(key string, at uint32, writeIndex uint64) error

	// Delete removes the entry for key.
	Delete(key string, writeIndex uint64) error

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the encoded value of the live entry for key.
	// Ownership of raw passes to the caller, who must call release exactly once
	// when done with it (usually by handing both to schema.ExtractUserData).
	// If loaded is false, raw and release are nil.
	Get(key string) (raw []byte, release func(), loaded bool, err error)

	// Has reports whether a live entry exists for key.
	Has(key string) (loaded bool, err error)

	// ExpireTs returns the expiration timestamp of the live entry for key,
	// reading only the value header.
	ExpireTs(key string) (expireTs uint32, loaded bool, err error)

	// --------------------------------------------------------------------------
	// Maintenance and Persistence Operations
	// --------------------------------------------------------------------------

	// Compact runs the compaction filter over every entry and physically removes
	// the expired ones. Engines also do this in the background.
	Compact() (stats CompactionStats, err error)

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// SchemaVersion returns the version all values of this database are encoded with.
	SchemaVersion() schema.Version

	// --------------------------------------------------------------------------
	// Write Index Operations
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}

// MaxSnapshotField is the largest key or value a snapshot may declare. Larger
// lengths mean the snapshot is corrupt.
const MaxSnapshotField = 64 * 1024 * 1024

// ErrCorruptSnapshot is returned by Load for snapshots that can't be read back.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// CheckSnapshotField validates a length read from a snapshot before anything is
// allocated for it.
func CheckSnapshotField(what string, n uint32) (int, error) {
	if n > MaxSnapshotField {
		return 0, errors.Wrapf(ErrCorruptSnapshot, "%s of %d bytes exceeds %d", what, n, MaxSnapshotField)
	}
	return int(n), nil
}

// Options are shared by all engines.
type Options struct {
	// SchemaVersion all values are encoded with. Must pass schema.CheckVersion.
	SchemaVersion schema.Version
	// Clock returns "now" in schema epoch seconds (nil = schema.EpochNow).
	Clock schema.Clock
}

// Normalize validates o and fills in defaults.
func (o *Options) Normalize() error {
	if err := schema.CheckVersion(o.SchemaVersion); err != nil {
		return err
	}
	if o.Clock == nil {
		o.Clock = schema.EpochNow
	}
	return nil
}
