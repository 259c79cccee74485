package schema

import (
	"io"
	"net"
	"sync"
)

// Segments is an encoded value split into non-contiguous parts, in order.
// Storage engines write them with a scatter-gather primitive instead of
// assembling one contiguous buffer first.
type Segments [][]byte

// Len returns the total encoded length.
func (s Segments) Len() int {
	n := 0
	for _, seg := range s {
		n += len(seg)
	}
	return n
}

// AppendTo appends all segments to dst and returns the extended slice.
func (s Segments) AppendTo(dst []byte) []byte {
	for _, seg := range s {
		dst = append(dst, seg...)
	}
	return dst
}

// Bytes returns a new contiguous copy of the encoded value.
func (s Segments) Bytes() []byte {
	return s.AppendTo(make([]byte, 0, s.Len()))
}

// WriteTo writes all segments to w, using writev where the writer supports it.
func (s Segments) WriteTo(w io.Writer) (int64, error) {
	// net.Buffers consumes its receiver, so hand it a copy of the slice headers
	bufs := make(net.Buffers, len(s))
	copy(bufs, s)
	return bufs.WriteTo(w)
}

// --------------------------------------------------------------------------
// Generator
// --------------------------------------------------------------------------

// Generator encodes values. It owns a scratch header buffer and a segment slice
// that are reused by every call.
//
// Thread-safety: a Generator must not be shared between concurrent writers. Use
// one per goroutine (or per in-flight request), or borrow one with AcquireGenerator.
type Generator struct {
	writeBuf    [HeaderSize]byte
	writeSlices Segments
}

// NewGenerator creates an encoder with its own scratch state.
func NewGenerator() *Generator {
	return &Generator{writeSlices: make(Segments, 0, 2)}
}

// GenerateValue encodes userData with the given expiration timestamp.
//
// The first segment is the header and lives in the generator's scratch buffer. If
// userData is non-empty it is appended as a second segment without being copied.
// The result is valid until the next call on the same generator; callers that
// need to keep it must copy it (for example with Segments.Bytes).
func (g *Generator) GenerateValue(v Version, userData []byte, expireTs uint32) (Segments, error) {
	if err := CheckVersion(v); err != nil {
		return nil, err
	}
	return layoutOf(v).generate(g, userData, expireTs), nil
}

func generateV0(g *Generator, userData []byte, expireTs uint32) Segments {
	wireOrder.PutUint32(g.writeBuf[:], expireTs)
	g.writeSlices = append(g.writeSlices[:0], g.writeBuf[:])
	if len(userData) > 0 {
		g.writeSlices = append(g.writeSlices, userData)
	}
	return g.writeSlices
}

// --------------------------------------------------------------------------
// Pool
// --------------------------------------------------------------------------

var generatorPool = sync.Pool{
	New: func() any { return NewGenerator() },
}

// AcquireGenerator borrows a generator from the package pool.
// Return it with ReleaseGenerator once the produced segments are no longer used.
func AcquireGenerator() *Generator {
	return generatorPool.Get().(*Generator)
}

// ReleaseGenerator returns a generator to the pool.
func ReleaseGenerator(g *Generator) {
	if g == nil {
		return
	}
	clear(g.writeSlices[:cap(g.writeSlices)])
	g.writeSlices = g.writeSlices[:0]
	generatorPool.Put(g)
}
