package util

import "container/heap"

// scheduled is one key waiting for its expiration timestamp.
type scheduled struct {
	key      UintKey
	expireTs uint32
	pos      int
}

// ExpiryHeap orders keys by expiration timestamp (earliest first) and supports
// rescheduling and removal by key in O(log n).
//
// Thread-safety: ExpiryHeap is not safe for concurrent use. Each engine shard owns
// one and only touches it from its collector goroutine.
type ExpiryHeap struct {
	entries []*scheduled
	byKey   map[UintKey]*scheduled
}

// NewExpiryHeap creates an empty heap.
func NewExpiryHeap() *ExpiryHeap {
	return &ExpiryHeap{byKey: make(map[UintKey]*scheduled)}
}

// heap.Interface, not meant to be called directly

func (h *ExpiryHeap) Len() int { return len(h.entries) }

func (h *ExpiryHeap) Less(i, j int) bool {
	return h.entries[i].expireTs < h.entries[j].expireTs
}

func (h *ExpiryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].pos = i
	h.entries[j].pos = j
}

func (h *ExpiryHeap) Push(x any) {
	s := x.(*scheduled)
	s.pos = len(h.entries)
	h.entries = append(h.entries, s)
	h.byKey[s.key] = s
}

func (h *ExpiryHeap) Pop() any {
	n := len(h.entries) - 1
	s := h.entries[n]
	h.entries[n] = nil
	h.entries = h.entries[:n]
	s.pos = -1
	delete(h.byKey, s.key)
	return s
}

// Schedule adds key with expireTs, or moves it if it is already scheduled.
func (h *ExpiryHeap) Schedule(key UintKey, expireTs uint32) {
	if s, ok := h.byKey[key]; ok {
		s.expireTs = expireTs
		heap.Fix(h, s.pos)
		return
	}
	heap.Push(h, &scheduled{key: key, expireTs: expireTs})
}

// Unschedule removes key. It reports whether the key was scheduled.
func (h *ExpiryHeap) Unschedule(key UintKey) bool {
	s, ok := h.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(h, s.pos)
	return true
}

// Peek returns the key that expires first.
func (h *ExpiryHeap) Peek() (key UintKey, expireTs uint32, ok bool) {
	if len(h.entries) == 0 {
		return 0, 0, false
	}
	return h.entries[0].key, h.entries[0].expireTs, true
}

// PopDue removes and returns the earliest key if its timestamp is <= now.
func (h *ExpiryHeap) PopDue(now uint32) (UintKey, bool) {
	if len(h.entries) == 0 || h.entries[0].expireTs > now {
		return 0, false
	}
	return heap.Pop(h).(*scheduled).key, true
}

// Contains reports whether key is scheduled.
func (h *ExpiryHeap) Contains(key UintKey) bool {
	_, ok := h.byKey[key]
	return ok
}

// ExpireTs returns the timestamp key is scheduled for.
func (h *ExpiryHeap) ExpireTs(key UintKey) (uint32, bool) {
	s, ok := h.byKey[key]
	if !ok {
		return 0, false
	}
	return s.expireTs, true
}

// Reset drops every scheduled key.
func (h *ExpiryHeap) Reset() {
	clear(h.entries)
	h.entries = h.entries[:0]
	clear(h.byKey)
}
