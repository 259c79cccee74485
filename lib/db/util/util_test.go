package util

import (
	"sort"
	"sync"
	"testing"
	"time"
)

func TestHashString(t *testing.T) {
	if HashString("key", 1) != HashString("key", 1) {
		t.Fatal("hash is not deterministic")
	}
	if HashString("key", 1) == HashString("key", 2) {
		t.Error("different seeds should give different hashes")
	}
	if HashString("a", 1) == HashString("b", 1) {
		t.Error("different keys should give different hashes")
	}
}

func TestExpiryHeap_Order(t *testing.T) {
	h := NewExpiryHeap()
	h.Schedule(1, 300)
	h.Schedule(2, 100)
	h.Schedule(3, 200)

	if h.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", h.Len())
	}

	key, ts, ok := h.Peek()
	if !ok || key != 2 || ts != 100 {
		t.Fatalf("expected (2,100), got (%d,%d,%v)", key, ts, ok)
	}

	var popped []UintKey
	for {
		k, ok := h.PopDue(250)
		if !ok {
			break
		}
		popped = append(popped, k)
	}
	if len(popped) != 2 || popped[0] != 2 || popped[1] != 3 {
		t.Errorf("expected [2 3], got %v", popped)
	}
	if !h.Contains(1) || h.Len() != 1 {
		t.Error("key 1 should still be scheduled")
	}
}

func TestExpiryHeap_Reschedule(t *testing.T) {
	h := NewExpiryHeap()
	h.Schedule(1, 100)
	h.Schedule(2, 200)
	h.Schedule(1, 300)

	if h.Len() != 2 {
		t.Fatalf("reschedule must not duplicate, got %d entries", h.Len())
	}
	if ts, _ := h.ExpireTs(1); ts != 300 {
		t.Errorf("expected 300, got %d", ts)
	}
	if key, _, _ := h.Peek(); key != 2 {
		t.Errorf("expected key 2 first, got %d", key)
	}
}

func TestExpiryHeap_Unschedule(t *testing.T) {
	h := NewExpiryHeap()
	for i := 0; i < 100; i++ {
		h.Schedule(UintKey(i), uint32(1000-i))
	}
	for i := 0; i < 100; i += 2 {
		if !h.Unschedule(UintKey(i)) {
			t.Fatalf("key %d should have been scheduled", i)
		}
	}
	if h.Unschedule(0) {
		t.Error("double unschedule should report false")
	}

	var got []uint32
	for {
		key, ts, ok := h.Peek()
		if !ok {
			break
		}
		if key%2 == 0 {
			t.Fatalf("unscheduled key %d still present", key)
		}
		h.PopDue(ts)
		got = append(got, ts)
	}
	if len(got) != 50 || !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Errorf("expected 50 ascending timestamps, got %v", got)
	}

	h.Schedule(7, 1)
	h.Reset()
	if h.Len() != 0 || h.Contains(7) {
		t.Error("reset should drop everything")
	}
}

func TestEventQueue_DrainOrder(t *testing.T) {
	q := NewEventQueue[int]()
	for i := 0; i < 10; i++ {
		if !q.Push(i) {
			t.Fatalf("push %d failed", i)
		}
	}

	select {
	case <-q.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal")
	}

	got := q.Drain(nil)
	if len(got) != 10 {
		t.Fatalf("expected 10 events, got %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("expected %d at %d, got %d", i, i, v)
		}
	}
	if len(q.Drain(nil)) != 0 {
		t.Error("queue should be empty after drain")
	}
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := NewEventQueue[int]()
	const producers, perProducer = 8, 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}

	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var batch []int
	for finished := false; !finished; {
		select {
		case <-q.Ready():
		case <-done:
			finished = true
		}
		batch = q.Drain(batch[:0])
		for _, v := range batch {
			if seen[v] {
				t.Fatalf("duplicate event %d", v)
			}
			seen[v] = true
		}
	}
	for _, v := range q.Drain(nil) {
		seen[v] = true
	}

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d events, got %d", producers*perProducer, len(seen))
	}
}

func TestEventQueue_Close(t *testing.T) {
	q := NewEventQueue[string]()
	q.Push("before")
	q.Close()
	q.Close()

	if q.Push("after") {
		t.Error("push after close should fail")
	}
	if !q.IsClosed() {
		t.Error("queue should report closed")
	}
	select {
	case <-q.Done():
	default:
		t.Error("done channel should be closed")
	}
	if got := q.Drain(nil); len(got) != 1 || got[0] != "before" {
		t.Errorf("queued events must survive close, got %v", got)
	}
}

func TestBufferPool(t *testing.T) {
	tests := []struct {
		size    int
		wantCap int
	}{
		{0, 64},
		{1, 64},
		{64, 64},
		{65, 128},
		{1000, 1024},
		{1 << 20, 1 << 20},
		{1<<20 + 1, 1<<20 + 1},
	}

	for _, tt := range tests {
		buf := GetBuffer(tt.size)
		if len(buf) != tt.size {
			t.Errorf("GetBuffer(%d): len %d", tt.size, len(buf))
		}
		if cap(buf) != tt.wantCap {
			t.Errorf("GetBuffer(%d): cap %d, want %d", tt.size, cap(buf), tt.wantCap)
		}
		PutBuffer(buf)
	}

	// foreign buffers are ignored
	PutBuffer(make([]byte, 100))
	PutBuffer(nil)
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()
	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Fatal("empty histogram should report zero")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(100)
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1 << 20)
	}

	if h.Count() != 100 {
		t.Errorf("expected 100 samples, got %d", h.Count())
	}
	if m := h.MedianEstimate(); m != (64+256)/2 {
		t.Errorf("unexpected median estimate %d", m)
	}
	if p := h.Percentile(99); p <= 256 {
		t.Errorf("p99 should land in the large bucket, got %d", p)
	}
	if h.Percentile(101) != 0 {
		t.Error("out of range percentile should be 0")
	}
}

func TestDistributionStats(t *testing.T) {
	even := NewDistributionStats([]float64{10, 10, 10, 10})
	if even.DistributionQuality != 1 {
		t.Errorf("even spread should have quality 1, got %f", even.DistributionQuality)
	}

	skewed := NewDistributionStats([]float64{0, 0, 0, 40})
	if skewed.DistributionQuality >= even.DistributionQuality {
		t.Errorf("skewed spread should score lower, got %f", skewed.DistributionQuality)
	}
	if (NewStats(nil) != Stats{}) {
		t.Error("stats of nothing should be zero")
	}
}
