package util

import (
	"sync"
	"sync/atomic"
)

type qnode[T any] struct {
	value T
	next  *qnode[T]
}

// EventQueue is an unbounded lock-free multi-producer single-consumer queue.
//
// Producers push with a CAS onto an intrusive stack. The consumer takes the whole
// stack with one atomic swap and reverses it, so each Drain returns events in push
// order (for pushes that did not race with each other) without ever blocking a
// producer.
type EventQueue[T any] struct {
	top       atomic.Pointer[qnode[T]]
	notify    chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewEventQueue creates an empty queue.
func NewEventQueue[T any]() *EventQueue[T] {
	return &EventQueue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push adds v. It returns false if the queue is closed.
//
// Thread-safety: safe for any number of concurrent producers.
func (q *EventQueue[T]) Push(v T) bool {
	if q.closed.Load() {
		return false
	}
	n := &qnode[T]{value: v}
	for {
		top := q.top.Load()
		n.next = top
		if q.top.CompareAndSwap(top, n) {
			break
		}
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// Ready is signalled at least once after one or more Push calls.
func (q *EventQueue[T]) Ready() <-chan struct{} {
	return q.notify
}

// Done is closed by Close.
func (q *EventQueue[T]) Done() <-chan struct{} {
	return q.done
}

// Drain appends all queued events to dst, oldest first.
//
// Thread-safety: only one goroutine may drain.
func (q *EventQueue[T]) Drain(dst []T) []T {
	n := q.top.Swap(nil)
	start := len(dst)
	for ; n != nil; n = n.next {
		dst = append(dst, n.value)
	}
	for i, j := start, len(dst)-1; i < j; i, j = i+1, j-1 {
		dst[i], dst[j] = dst[j], dst[i]
	}
	return dst
}

// Close stops accepting events. Events already queued can still be drained.
func (q *EventQueue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// IsClosed reports whether Close was called.
func (q *EventQueue[T]) IsClosed() bool {
	return q.closed.Load()
}
