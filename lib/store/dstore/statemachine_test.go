package dstore

import (
	"bytes"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/maple"
	dbtesting "github.com/ValentinKolb/ttlKV/lib/db/testing"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMachine(t *testing.T, clock *dbtesting.ManualClock) *KVStateMachine {
	factory := CreateStateMaschineFactory(func() (db.KVDB, error) {
		opts := maple.DefaultOptions()
		opts.Clock = clock.Now
		return maple.NewMapleDB(opts)
	})
	fsm := factory(1, 1).(*KVStateMachine)
	t.Cleanup(func() { _ = fsm.Close() })
	return fsm
}

// propose applies cmds as consecutive log entries starting at index start.
func propose(t *testing.T, fsm *KVStateMachine, start uint64, cmds ...internal.Command) []sm.Entry {
	entries := make([]sm.Entry, len(cmds))
	for i, cmd := range cmds {
		entries[i] = sm.Entry{Index: start + uint64(i), Cmd: cmd.Serialize()}
	}
	out, err := fsm.Update(entries)
	require.NoError(t, err)
	return out
}

func lookupValue(t *testing.T, fsm *KVStateMachine, key string) (string, bool) {
	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTGet, Key: key})
	require.NoError(t, err)
	qr := res.(internal.QueryResult)
	if !qr.Ok {
		return "", false
	}
	_, blob, err := schema.ExtractUserData(qr.Version, qr.Raw, qr.Release)
	require.NoError(t, err)
	defer blob.Release()
	return blob.String(), true
}

func TestUpdateAndLookup(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	fsm := newTestMachine(t, clock)

	entries := propose(t, fsm, 1,
		internal.Command{Type: internal.CommandTSet, Key: "a", Value: []byte("1")},
		internal.Command{Type: internal.CommandTSet, Key: "b", Value: []byte("2"), ExpireTs: 1_010},
		internal.Command{Type: internal.CommandTSetIfUnset, Key: "a", Value: []byte("ignored")},
		internal.Command{Type: internal.CommandTDelete, Key: "missing"},
	)
	for _, e := range entries {
		assert.Equal(t, uint64(store.RetCSuccess), e.Result.Value, "entry %d: %s", e.Index, e.Result.Data)
	}

	value, ok := lookupValue(t, fsm, "a")
	assert.True(t, ok)
	assert.Equal(t, "1", value)

	res, err := fsm.Lookup(internal.Query{Type: internal.QueryTExpireTs, Key: "b"})
	require.NoError(t, err)
	assert.Equal(t, uint32(1_010), res.(internal.QueryResult).ExpireTs)

	clock.Set(1_010)
	has, err := fsm.Lookup(internal.Query{Type: internal.QueryTHas, Key: "b"})
	require.NoError(t, err)
	assert.Equal(t, false, has)
}

func TestUpdateExpire(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	fsm := newTestMachine(t, clock)

	propose(t, fsm, 1,
		internal.Command{Type: internal.CommandTSet, Key: "a", Value: []byte("1")},
		internal.Command{Type: internal.CommandTExpire, Key: "a", ExpireTs: 1_000},
	)
	_, ok := lookupValue(t, fsm, "a")
	assert.False(t, ok)
}

func TestUpdateRejectsBadEntries(t *testing.T) {
	fsm := newTestMachine(t, dbtesting.NewManualClock(1_000))

	entries, err := fsm.Update([]sm.Entry{
		{Index: 1, Cmd: nil},
		{Index: 2, Cmd: []byte{1, 2}},
		{Index: 3, Cmd: (&internal.Command{Type: 42, Key: "k"}).Serialize()},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(store.RetCInvalidOperation), entries[0].Result.Value)
	assert.Equal(t, uint64(store.RetCInternalError), entries[1].Result.Value)
	assert.Equal(t, uint64(store.RetCInvalidOperation), entries[2].Result.Value)
}

func TestSnapshotRoundTrip(t *testing.T) {
	clock := dbtesting.NewManualClock(1_000)
	src := newTestMachine(t, clock)
	dst := newTestMachine(t, clock)

	propose(t, src, 1,
		internal.Command{Type: internal.CommandTSet, Key: "kept", Value: []byte("v")},
		internal.Command{Type: internal.CommandTSet, Key: "gone", Value: []byte("v"), ExpireTs: 1_001},
	)
	clock.Set(1_001)

	var buf bytes.Buffer
	require.NoError(t, src.SaveSnapshot(nil, &buf, nil, nil))
	require.NoError(t, dst.RecoverFromSnapshot(&buf, nil, nil))

	_, ok := lookupValue(t, dst, "kept")
	assert.True(t, ok)
	_, ok = lookupValue(t, dst, "gone")
	assert.False(t, ok)
}

func TestLookupInvalidQuery(t *testing.T) {
	fsm := newTestMachine(t, dbtesting.NewManualClock(1_000))

	_, err := fsm.Lookup("not a query")
	var storeErr *store.Error
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, store.RetCInternalError, storeErr.Code)
}
