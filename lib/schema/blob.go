package schema

import "sync/atomic"

// sharedBuffer is the control block shared by all views of one decoded value.
type sharedBuffer struct {
	data    []byte
	refs    atomic.Int64
	release func()
}

func (b *sharedBuffer) unref() {
	if b.refs.Add(-1) == 0 {
		if b.release != nil {
			b.release()
		}
		b.data = nil
	}
}

// Blob is a read-only view of a value payload. Several Blobs can share one
// underlying buffer; the buffer is handed back (its release callback runs) exactly
// once, by whichever goroutine releases the last view.
//
// A Blob must be released exactly once. Releasing it again is a no-op. The bytes
// returned by Bytes must not be used after Release and must not be modified.
//
// Bytes, Len, String, Clone, Retain and Release are safe to call on a nil *Blob;
// Slice is not. A released view reports no payload.
type Blob struct {
	buf      *sharedBuffer
	offset   int
	length   int
	released atomic.Bool
}

// NewBlob wraps data in a Blob. release may be nil.
func NewBlob(data []byte, release func()) *Blob {
	return newBlob(data, 0, len(data), release)
}

func newBlob(data []byte, offset, length int, release func()) *Blob {
	buf := &sharedBuffer{data: data, release: release}
	buf.refs.Store(1)
	return &Blob{buf: buf, offset: offset, length: length}
}

// Bytes returns the payload. The slice is capacity limited, so appending to it
// never writes into the shared buffer.
func (b *Blob) Bytes() []byte {
	if b == nil || b.released.Load() {
		return nil
	}
	end := b.offset + b.length
	return b.buf.data[b.offset:end:end]
}

// Len returns the payload length, 0 once the view is released.
func (b *Blob) Len() int {
	if b == nil || b.released.Load() {
		return 0
	}
	return b.length
}

// String returns a copy of the payload as a string.
func (b *Blob) String() string {
	return string(b.Bytes())
}

// Clone returns a copy of the payload that is independent of the Blob.
func (b *Blob) Clone() []byte {
	data := b.Bytes()
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// Retain returns a new view of the same payload that must be released separately.
func (b *Blob) Retain() *Blob {
	return b.Slice(0, b.Len())
}

// Slice returns a new view of payload[off:off+n] sharing the same buffer.
// It panics if the range is out of bounds or if b was already released.
func (b *Blob) Slice(off, n int) *Blob {
	if b == nil {
		if off == 0 && n == 0 {
			return nil
		}
		panic("schema: Slice of nil Blob")
	}
	if b.released.Load() {
		panic("schema: Slice of released Blob")
	}
	if off < 0 || n < 0 || off+n > b.length {
		panic("schema: Blob slice out of range")
	}
	b.buf.refs.Add(1)
	return &Blob{buf: b.buf, offset: b.offset + off, length: n}
}

// Release drops this view. The underlying buffer is handed back when the last
// view sharing it is released.
func (b *Blob) Release() {
	if b == nil || !b.released.CompareAndSwap(false, true) {
		return
	}
	b.buf.unref()
}
