package inspect

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDescribe(t *testing.T) {
	const now = 1000

	raw, err := encodeValue(0, []byte("hello"), now, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0x03, 0xF2, 'h', 'e', 'l', 'l', 'o'}, raw)

	var out bytes.Buffer
	require.NoError(t, describeValue(&out, 0, now, raw))
	assert.Contains(t, out.String(), "expire_ts=1010")
	assert.Contains(t, out.String(), "expired=false")
	assert.Contains(t, out.String(), `value="hello"`)

	out.Reset()
	require.NoError(t, describeValue(&out, 0, 1010, raw))
	assert.Contains(t, out.String(), "expired=true")

	out.Reset()
	raw, err = encodeValue(0, nil, now, 0)
	require.NoError(t, err)
	require.NoError(t, describeValue(&out, 0, now, raw))
	assert.Contains(t, out.String(), "ttl=never")
}

func TestDescribeRejectsBadInput(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, describeValue(&out, 0, 0, []byte{1, 2}), schema.ErrMalformedValue)
	assert.ErrorIs(t, describeValue(&out, 1, 0, []byte{0, 0, 0, 0}), schema.ErrUnsupportedSchemaVersion)
}

func TestShardDir(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("data-dir", "/var/lib/ttlkv")
	viper.Set("shard", 7)
	assert.Equal(t, filepath.Join("/var/lib/ttlkv", "pebble", "local", "shard-7"), shardDir())

	viper.Set("raft", true)
	assert.Equal(t, filepath.Join("/var/lib/ttlkv", "pebble", "raft", "shard-7"), shardDir())

	viper.Set("dir", "/tmp/x")
	assert.Equal(t, "/tmp/x", shardDir())
}

func TestWithDBOpensDirectory(t *testing.T) {
	t.Cleanup(viper.Reset)
	dir := t.TempDir()

	p, err := pebble.NewPebbleDB(&pebble.DBOptions{Dir: dir})
	require.NoError(t, err)
	segs, err := schema.NewGenerator().GenerateValue(0, []byte("v"), 0)
	require.NoError(t, err)
	require.NoError(t, p.Put("k", segs, 1))
	require.NoError(t, p.Close())

	viper.Set("dir", dir)
	var found bool
	run := withDB(func(_ *cobra.Command, _ []string) error {
		ok, err := kvdb.Has("k")
		found = ok
		return err
	})
	require.NoError(t, run(nil, nil))
	assert.True(t, found)
}

func TestWithDBMissingDirectory(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("dir", filepath.Join(t.TempDir(), "missing"))

	err := withDB(func(_ *cobra.Command, _ []string) error { return nil })(nil, nil)
	assert.Error(t, err)
}
