package internal

import (
	"fmt"

	"github.com/ValentinKolb/ttlKV/lib/db/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Events tell a shard's collector which keys changed
// --------------------------------------------------------------------------

type EventType int

const (
	EventTWrite EventType = iota
	EventTDelete
)

func (e EventType) String() string {
	switch e {
	case EventTWrite:
		return "Write"
	case EventTDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type EventType
	Key  util.UintKey
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Type: %s, Key: %d}", e.Type, e.Key)
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is one stored value. Raw is the encoded value (header + payload) and is
// never modified after the entry is created; updates replace the whole entry.
type Entry struct {
	Raw   []byte
	Index uint64 // write index of the last update
}

// Header returns the bytes the compaction filter needs.
func (e Entry) Header(n int) []byte {
	if len(e.Raw) < n {
		return e.Raw
	}
	return e.Raw[:n]
}

// --------------------------------------------------------------------------
// Shard
// --------------------------------------------------------------------------

// Shard is a partition of the key space with its own map, expiry heap and event
// queue. Expiry is only touched by the shard's collector goroutine.
type Shard struct {
	Data   *xsync.MapOf[util.UintKey, Entry]
	Expiry *util.ExpiryHeap
	Events *util.EventQueue[Event]
}

// NewShard creates a new shard with the provided hash function
func NewShard(hasher func(util.UintKey, uint64) uint64) *Shard {
	return &Shard{
		Data:   xsync.NewMapOfWithHasher[util.UintKey, Entry](hasher),
		Expiry: util.NewExpiryHeap(),
		Events: util.NewEventQueue[Event](), // closed to stop the shard's collector
	}
}

// GetShard returns the shard responsible for key.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	// the low bits are also used by xsync internally, so pick higher ones
	return shards[(uint64(key)>>7)%uint64(len(shards))]
}
