package schema

// FilterDecision is the outcome of running a record through a CompactionFilter.
type FilterDecision int

const (
	FilterKeep FilterDecision = iota
	FilterRemove
)

func (d FilterDecision) String() string {
	if d == FilterRemove {
		return "remove"
	}
	return "keep"
}

// CompactionFilter decides during background collection whether a stored record
// can be physically dropped. Only the header bytes are inspected.
type CompactionFilter struct {
	Version Version
	Now     Clock
}

// NewCompactionFilter returns a filter for values written with version v.
// A nil clock defaults to EpochNow.
func NewCompactionFilter(v Version, now Clock) *CompactionFilter {
	if now == nil {
		now = EpochNow
	}
	return &CompactionFilter{Version: v, Now: now}
}

// Name identifies the filter in logs.
func (f *CompactionFilter) Name() string {
	return "ttl-compaction-filter-" + f.Version.String()
}

// Filter inspects one encoded record. raw may be truncated to HeaderSize bytes.
// Records that cannot be decoded are kept, and the decode error is returned so
// the caller can report it.
func (f *CompactionFilter) Filter(raw []byte) (FilterDecision, error) {
	return f.FilterAt(f.Now(), raw)
}

// FilterAt is Filter with an explicit time, so one pass can use a single "now".
func (f *CompactionFilter) FilterAt(now uint32, raw []byte) (FilterDecision, error) {
	expired, err := IsExpiredFromEncoded(f.Version, now, raw)
	if err != nil {
		return FilterKeep, err
	}
	if expired {
		return FilterRemove, nil
	}
	return FilterKeep, nil
}
