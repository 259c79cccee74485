package schema

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name     string
		now      uint32
		expireTs uint32
		want     bool
	}{
		{"boundary is inclusive", 1000, 1000, true},
		{"one second before", 999, 1000, false},
		{"long past", 5000, 1000, true},
		{"never expires at zero", 0, 0, false},
		{"never expires far in the future", 4000000000, 0, false},
		{"never expires at max", math.MaxUint32, 0, false},
		{"max timestamp", math.MaxUint32, math.MaxUint32, true},
		{"timestamp one", 0, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpired(tt.now, tt.expireTs))
		})
	}
}

func TestIsExpiredFromEncoded(t *testing.T) {
	g := NewGenerator()

	segs, err := g.GenerateValue(0, []byte("some payload"), 0)
	require.NoError(t, err)
	expired, err := IsExpiredFromEncoded(0, 4000000000, segs.Bytes())
	require.NoError(t, err)
	assert.False(t, expired)

	segs, err = g.GenerateValue(0, []byte("some payload"), 1000)
	require.NoError(t, err)
	raw := segs.Bytes()

	// header only
	expired, err = IsExpiredFromEncoded(0, 1000, raw[:HeaderSize])
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = IsExpiredFromEncoded(0, 999, raw)
	require.NoError(t, err)
	assert.False(t, expired)
}

func TestExpireTsFromTTL(t *testing.T) {
	assert.Equal(t, uint32(0), ExpireTsFromTTL(100, 0))
	assert.Equal(t, uint32(160), ExpireTsFromTTL(100, 60))
	assert.Equal(t, uint32(math.MaxUint32), ExpireTsFromTTL(math.MaxUint32-10, 60))
}

func TestRemainingTTL(t *testing.T) {
	assert.Equal(t, int64(-1), RemainingTTL(100, 0))
	assert.Equal(t, int64(0), RemainingTTL(100, 100))
	assert.Equal(t, int64(0), RemainingTTL(200, 100))
	assert.Equal(t, int64(40), RemainingTTL(60, 100))
}

func TestEpochConversion(t *testing.T) {
	assert.Equal(t, uint32(0), ToEpoch(time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, uint32(0), ToEpoch(time.Unix(EpochBegin, 0)))
	assert.Equal(t, uint32(86400), ToEpoch(time.Date(2016, 1, 2, 0, 0, 0, 0, time.UTC)))

	ts := uint32(300000000)
	assert.Equal(t, ts, ToEpoch(FromEpoch(ts)))
	assert.Greater(t, EpochNow(), uint32(0))
}

func TestCompactionFilter(t *testing.T) {
	now := uint32(1000)
	f := NewCompactionFilter(0, func() uint32 { return now })
	g := NewGenerator()

	encode := func(expireTs uint32) []byte {
		segs, err := g.GenerateValue(0, []byte("v"), expireTs)
		require.NoError(t, err)
		return segs.Bytes()
	}

	tests := []struct {
		name string
		raw  []byte
		want FilterDecision
		err  error
	}{
		{"never expires", encode(0), FilterKeep, nil},
		{"live", encode(1001), FilterKeep, nil},
		{"expired at boundary", encode(1000), FilterRemove, nil},
		{"expired", encode(1), FilterRemove, nil},
		{"header only", encode(5)[:HeaderSize], FilterRemove, nil},
		{"malformed is kept", []byte{1, 2}, FilterKeep, ErrMalformedValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Filter(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, "ttl-compaction-filter-v0", f.Name())

	unsupported := NewCompactionFilter(MaxVersion+1, nil)
	got, err := unsupported.Filter(encode(1))
	assert.ErrorIs(t, err, ErrUnsupportedSchemaVersion)
	assert.Equal(t, FilterKeep, got)
}
