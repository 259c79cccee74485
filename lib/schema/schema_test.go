package schema

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateValue_Layout(t *testing.T) {
	g := NewGenerator()

	segs, err := g.GenerateValue(0, []byte("hello"), 1000)
	require.NoError(t, err)
	require.Len(t, segs, 2)

	want := append(binary.BigEndian.AppendUint32(nil, 1000), "hello"...)
	assert.Equal(t, want, segs.Bytes())
	assert.Equal(t, 9, segs.Len())

	expireTs, payload, err := Decode(0, segs.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), expireTs)
	assert.Equal(t, "hello", string(payload))
}

func TestGenerateValue_BorrowsPayload(t *testing.T) {
	g := NewGenerator()
	payload := []byte("borrowed")

	segs, err := g.GenerateValue(0, payload, 7)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Same(t, &payload[0], &segs[1][0], "payload segment must not be a copy")
}

func TestGenerateValue_EmptyPayload(t *testing.T) {
	g := NewGenerator()

	for _, payload := range [][]byte{nil, {}} {
		segs, err := g.GenerateValue(0, payload, 42)
		require.NoError(t, err)
		require.Len(t, segs, 1)
		raw := segs.Bytes()
		assert.Len(t, raw, HeaderSize)

		expireTs, data, err := Decode(0, raw)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), expireTs)
		assert.Empty(t, data)
	}
}

func TestGenerateValue_ReusesScratch(t *testing.T) {
	g := NewGenerator()

	first, err := g.GenerateValue(0, []byte("a"), 1)
	require.NoError(t, err)
	header := first[0]

	_, err = g.GenerateValue(0, []byte("b"), 2)
	require.NoError(t, err)
	// the first result is invalidated by the second call
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(header))
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	g := NewGenerator()
	timestamps := []uint32{0, 1, 1000, math.MaxUint32 - 1, math.MaxUint32}
	for i := 0; i < 32; i++ {
		timestamps = append(timestamps, rng.Uint32())
	}

	for _, ts := range timestamps {
		payload := make([]byte, rng.Intn(512))
		rng.Read(payload)

		segs, err := g.GenerateValue(0, payload, ts)
		require.NoError(t, err)

		gotTs, gotPayload, err := Decode(0, segs.Bytes())
		require.NoError(t, err)
		assert.Equal(t, ts, gotTs)
		assert.True(t, bytes.Equal(payload, gotPayload))

		headerTs, err := ExtractExpireTs(0, segs.Bytes()[:HeaderSize])
		require.NoError(t, err)
		assert.Equal(t, ts, headerTs)
	}
}

func TestVersionGate(t *testing.T) {
	g := NewGenerator()
	raw := []byte{0, 0, 0, 1, 'x'}

	_, err := g.GenerateValue(MaxVersion+1, []byte("x"), 1)
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	_, _, err = Decode(MaxVersion+1, raw)
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	_, err = ExtractExpireTs(7, raw)
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	_, err = IsExpiredFromEncoded(MaxVersion+1, 10, raw)
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	released := 0
	_, blob, err := ExtractUserData(MaxVersion+1, raw, func() { released++ })
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)
	assert.Nil(t, blob)
	assert.Equal(t, 1, released)

	assert.NoError(t, CheckVersion(MaxVersion))
}

func TestMalformedValue(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, {1}, {1, 2, 3}} {
		_, _, err := Decode(0, raw)
		assert.ErrorIs(t, err, ErrMalformedValue)
		assert.NotErrorIs(t, err, ErrUnsupportedSchemaVersion)

		_, err = IsExpiredFromEncoded(0, 0, raw)
		assert.ErrorIs(t, err, ErrMalformedValue)
	}

	// must not read past the end even if the backing array is larger
	backing := []byte{0, 0, 0, 9}
	_, err := ExtractExpireTs(0, backing[:3])
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestExtractUserData_ZeroCopy(t *testing.T) {
	g := NewGenerator()
	payload := bytes.Repeat([]byte("z"), 1<<20)
	segs, err := g.GenerateValue(0, payload, 99)
	require.NoError(t, err)
	raw := segs.Bytes()

	var released atomic.Int32
	expireTs, blob, err := ExtractUserData(0, raw, func() { released.Add(1) })
	require.NoError(t, err)
	raw = nil

	assert.Equal(t, uint32(99), expireTs)
	assert.Equal(t, len(payload), blob.Len())
	assert.True(t, bytes.Equal(payload, blob.Bytes()))

	blob.Release()
	assert.Equal(t, int32(1), released.Load())
	assert.Nil(t, blob.Bytes())
}

func TestExtractUserData_AliasesInput(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 'a', 'b', 'c'}
	_, blob, err := ExtractUserData(0, raw, nil)
	require.NoError(t, err)
	defer blob.Release()

	assert.Same(t, &raw[HeaderSize], &blob.Bytes()[0])
}

func TestExtractUserData_AllocationsIndependentOfSize(t *testing.T) {
	allocs := func(size int) float64 {
		raw := make([]byte, HeaderSize+size)
		return testing.AllocsPerRun(100, func() {
			_, blob, err := ExtractUserData(0, raw, nil)
			if err != nil {
				panic(err)
			}
			blob.Release()
		})
	}
	assert.Equal(t, allocs(8), allocs(4<<20))
}

func TestExtractUserData_EmptyPayload(t *testing.T) {
	released := false
	expireTs, blob, err := ExtractUserData(0, []byte{0, 0, 0, 5}, func() { released = true })
	require.NoError(t, err)
	assert.Equal(t, uint32(5), expireTs)
	assert.Equal(t, 0, blob.Len())
	assert.Empty(t, blob.Bytes())
	blob.Release()
	assert.True(t, released)
}

func TestBlob_SharedRelease(t *testing.T) {
	var released atomic.Int32
	blob := NewBlob([]byte("0123456789"), func() { released.Add(1) })

	head := blob.Slice(0, 4)
	tail := blob.Slice(4, 6)
	clone := blob.Retain()

	blob.Release()
	blob.Release() // no-op
	assert.Equal(t, "0123", head.String())
	assert.Equal(t, "456789", tail.String())
	assert.Equal(t, int32(0), released.Load())

	head.Release()
	tail.Release()
	assert.Equal(t, int32(0), released.Load())
	assert.Equal(t, "0123456789", clone.String())

	clone.Release()
	assert.Equal(t, int32(1), released.Load())
}

func TestBlob_ConcurrentRelease(t *testing.T) {
	var released atomic.Int32
	blob := NewBlob(make([]byte, 64), func() { released.Add(1) })

	views := make([]*Blob, 32)
	for i := range views {
		views[i] = blob.Retain()
	}
	blob.Release()

	var wg sync.WaitGroup
	for _, v := range views {
		wg.Add(1)
		go func(v *Blob) {
			defer wg.Done()
			_ = v.Bytes()
			v.Release()
			v.Release()
		}(v)
	}
	wg.Wait()

	assert.Equal(t, int32(1), released.Load())
}

func TestBlob_Nil(t *testing.T) {
	var blob *Blob
	assert.Nil(t, blob.Bytes())
	assert.Equal(t, 0, blob.Len())
	assert.Equal(t, "", blob.String())
	assert.Nil(t, blob.Retain())
	assert.Nil(t, blob.Clone())
	assert.Panics(t, func() { blob.Slice(0, 1) })
	blob.Release()
}

func TestBlob_ReleasedViewIsEmpty(t *testing.T) {
	blob := NewBlob([]byte("payload"), nil)
	other := blob.Retain()
	defer other.Release()

	blob.Release()
	assert.Equal(t, 0, blob.Len())
	assert.Nil(t, blob.Bytes())
	assert.Equal(t, "", blob.String())
	assert.Equal(t, 7, other.Len())
}

func TestBlob_BytesIsCapacityLimited(t *testing.T) {
	raw := []byte{0, 0, 0, 0, 'a', 'b', 'c', 'd'}
	_, blob, err := ExtractUserData(0, raw, nil)
	require.NoError(t, err)
	head := blob.Slice(0, 2)

	_ = append(head.Bytes(), 'X')
	assert.Equal(t, "abcd", blob.String())

	head.Release()
	blob.Release()
}

func TestBlob_SliceOutOfRange(t *testing.T) {
	blob := NewBlob([]byte("abc"), nil)
	defer blob.Release()

	assert.Panics(t, func() { blob.Slice(2, 2) })
	assert.Panics(t, func() { blob.Slice(-1, 1) })
}

func TestSegments_WriteTo(t *testing.T) {
	g := NewGenerator()
	segs, err := g.GenerateValue(0, []byte("payload"), 3)
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := segs.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(segs.Len()), n)
	assert.Equal(t, segs.Bytes(), buf.Bytes())
	// WriteTo must not consume the segments
	assert.Len(t, segs, 2)
}

func TestGeneratorPool(t *testing.T) {
	g := AcquireGenerator()
	segs, err := g.GenerateValue(0, []byte("pooled"), 11)
	require.NoError(t, err)
	raw := segs.Bytes()
	ReleaseGenerator(g)
	ReleaseGenerator(nil)

	expireTs, payload, err := Decode(0, raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), expireTs)
	assert.Equal(t, "pooled", string(payload))
}

func TestLayoutTableCoversMaxVersion(t *testing.T) {
	for v := Version(0); v <= MaxVersion; v++ {
		assert.NotPanics(t, func() { layoutOf(v) })
	}
}
