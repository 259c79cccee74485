package server

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	storeShard = 1
	lockShard  = 2
)

func newTestServer(t *testing.T, engine common.EngineType) (*RPCServer, serializer.IRPCSerializer) {
	t.Helper()
	ser := serializer.NewBinarySerializer()
	s := NewRPCServer(common.ServerConfig{
		Shards: []common.ServerShard{
			{ShardID: storeShard, Type: common.ShardTypeLocalIStore},
			{ShardID: lockShard, Type: common.ShardTypeLocalILockManager},
		},
		Engine:   engine,
		DataDir:  t.TempDir(),
		LogLevel: "error",
	}, http.NewHttpServerTransport(), ser)
	require.NoError(t, s.init())
	t.Cleanup(func() { _ = s.Close() })
	return s, ser
}

func call(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer, shard uint64, req *common.Message) *common.Message {
	t.Helper()
	data, err := ser.Serialize(req)
	require.NoError(t, err)
	resp := &common.Message{}
	require.NoError(t, ser.Deserialize(s.handle(shard, data), resp))
	return resp
}

func forEachEngine(t *testing.T, fn func(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer)) {
	for _, engine := range []common.EngineType{common.EngineMaple, common.EnginePebble} {
		t.Run(string(engine), func(t *testing.T) {
			s, ser := newTestServer(t, engine)
			fn(t, s, ser)
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer) {
		resp := call(t, s, ser, storeShard, common.NewSetERequest("k", []byte("v"), 3600))
		require.NoError(t, resp.AsError())

		resp = call(t, s, ser, storeShard, common.NewGetRequest("k"))
		require.NoError(t, resp.AsError())
		assert.True(t, resp.Ok)
		assert.Equal(t, []byte("v"), resp.Value)

		resp = call(t, s, ser, storeShard, common.NewTTLRequest("k"))
		require.NoError(t, resp.AsError())
		assert.True(t, resp.Ok)
		assert.InDelta(t, 3600, resp.TTL, 2)

		resp = call(t, s, ser, storeShard, common.NewExpireRequest("k"))
		require.NoError(t, resp.AsError())

		resp = call(t, s, ser, storeShard, common.NewHasRequest("k"))
		require.NoError(t, resp.AsError())
		assert.False(t, resp.Ok)
	})
}

func TestSetWithoutTTLNeverExpires(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer) {
		require.NoError(t, call(t, s, ser, storeShard, common.NewSetRequest("k", []byte("v"))).AsError())

		resp := call(t, s, ser, storeShard, common.NewTTLRequest("k"))
		assert.True(t, resp.Ok)
		assert.Equal(t, int64(-1), resp.TTL)
	})
}

func TestInfo(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer) {
		resp := call(t, s, ser, storeShard, common.NewInfoRequest())
		require.NoError(t, resp.AsError())

		var info map[string]any
		require.NoError(t, json.Unmarshal(resp.Value, &info))
		assert.Contains(t, info, "db_type")
		assert.EqualValues(t, 0, info["schema_version"])
	})
}

func TestLocks(t *testing.T) {
	forEachEngine(t, func(t *testing.T, s *RPCServer, ser serializer.IRPCSerializer) {
		resp := call(t, s, ser, lockShard, common.NewAcquireRequest("l", 60))
		require.NoError(t, resp.AsError())
		require.True(t, resp.Ok)
		owner := resp.Value

		resp = call(t, s, ser, lockShard, common.NewAcquireRequest("l", 60))
		require.NoError(t, resp.AsError())
		assert.False(t, resp.Ok)

		resp = call(t, s, ser, lockShard, common.NewReleaseRequest("l", owner))
		require.NoError(t, resp.AsError())
		assert.True(t, resp.Ok)

		// kv messages are not routed to lock shards
		resp = call(t, s, ser, lockShard, common.NewGetRequest("l"))
		assert.Equal(t, common.MsgTError, resp.MsgType)
	})
}

func TestErrorResponses(t *testing.T) {
	s, ser := newTestServer(t, common.EngineMaple)

	resp := call(t, s, ser, 99, common.NewGetRequest("k"))
	assert.Equal(t, common.MsgTError, resp.MsgType)
	assert.Contains(t, resp.Err, "shard 99 not found")

	resp = &common.Message{}
	require.NoError(t, ser.Deserialize(s.handle(storeShard, []byte{1}), resp))
	assert.Equal(t, common.MsgTError, resp.MsgType)

	var storeErr *store.Error
	require.ErrorAs(t, resp.AsError(), &storeErr)
	assert.Equal(t, store.RetCInvalidOperation, storeErr.Code)

	resp = call(t, s, ser, storeShard, &common.Message{MsgType: common.MsgTKVSetE, Key: "k", TTL: -5})
	assert.Equal(t, common.MsgTError, resp.MsgType)
}

func TestUnknownEngine(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{Engine: "rocks", LogLevel: "info"}, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
	assert.Error(t, s.init())
}

func TestUnsupportedSchemaVersion(t *testing.T) {
	s := NewRPCServer(common.ServerConfig{SchemaVersion: 3, LogLevel: "info"}, http.NewHttpServerTransport(), serializer.NewJSONSerializer())
	assert.Error(t, s.init())
}
