package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTTL(t *testing.T) {
	ttl, err := ParseTTL("90")
	require.NoError(t, err)
	assert.Equal(t, uint32(90), ttl)

	ttl, err = ParseTTL("1m30s")
	require.NoError(t, err)
	assert.Equal(t, uint32(90), ttl)

	ttl, err = ParseTTL("0")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	ttl, err = ParseTTL("0s")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	// sub-second durations must not turn into "never expires"
	for in, want := range map[string]uint32{"1ns": 1, "500ms": 1, "999ms": 1, "1s": 1, "1.5s": 2} {
		ttl, err = ParseTTL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, ttl, in)
	}

	_, err = ParseTTL("-5s")
	assert.Error(t, err)
	_, err = ParseTTL("soon")
	assert.Error(t, err)
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "never", FormatTTL(-1))
	assert.Equal(t, "1m30s", FormatTTL(90))
	assert.Equal(t, "0s", FormatTTL(0))
}

func TestWrapString(t *testing.T) {
	wrapped := WrapString(strings.Repeat("word ", 30))
	for _, line := range strings.Split(wrapped, "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, strings.Repeat("word ", 30), strings.ReplaceAll(wrapped, "\n", " ")+" ")
}
