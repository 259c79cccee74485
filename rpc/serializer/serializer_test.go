package serializer

import (
	"encoding/json"
	"testing"

	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

func forEachSerializer(t *testing.T, fn func(t *testing.T, s IRPCSerializer)) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) { fn(t, factory()) })
	}
}

func roundTrip(t *testing.T, s IRPCSerializer, msg *common.Message) *common.Message {
	t.Helper()
	data, err := s.Serialize(msg)
	require.NoError(t, err)
	result := &common.Message{}
	require.NoError(t, s.Deserialize(data, result))
	return result
}

func TestAcquireRequestKeepsAllFields(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, s IRPCSerializer) {
		msg := &common.Message{
			MsgType: common.MsgTLCKAcquire,
			Key:     "lock",
			TTL:     300,
			Value:   []byte("owner"),
			Ok:      true,
			Meta:    []byte("meta"),
		}
		assert.Equal(t, msg, roundTrip(t, s, msg))
	})
}

func TestNeverExpiringTTLResponse(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, s IRPCSerializer) {
		result := roundTrip(t, s, common.NewTTLResponse(-1, true, nil))
		assert.Equal(t, common.MsgTKVTTL, result.MsgType)
		assert.Equal(t, int64(-1), result.TTL)
		assert.True(t, result.Ok)
	})
}

func TestErrorCodeSurvivesTransport(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, s IRPCSerializer) {
		resp := common.NewGetResponse(nil, nil, false, schema.ErrMalformedValue)
		result := roundTrip(t, s, resp)

		err := result.AsError()
		require.Error(t, err)
		assert.ErrorIs(t, err, schema.ErrMalformedValue)
		assert.NotErrorIs(t, err, schema.ErrUnsupportedSchemaVersion)

		var storeErr *store.Error
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, store.RetCMalformedValue, storeErr.Code)
	})
}

func TestReleaseIsNotSerialized(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, s IRPCSerializer) {
		released := 0
		resp := common.NewGetResponse([]byte("value"), func() { released++ }, true, nil)

		result := roundTrip(t, s, resp)
		assert.Equal(t, []byte("value"), result.Value)

		result.Release()
		assert.Equal(t, 0, released)
		resp.Release()
		resp.Release()
		assert.Equal(t, 1, released)
	})
}

func TestDeserializeResetsPreviousMessage(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, s IRPCSerializer) {
		msg := &common.Message{MsgType: common.MsgTKVGet, Key: "old", TTL: 10, Ok: true, Err: "old"}
		data, err := s.Serialize(common.NewHasRequest("new"))
		require.NoError(t, err)
		require.NoError(t, s.Deserialize(data, msg))

		assert.Equal(t, common.MsgTKVHas, msg.MsgType)
		assert.Equal(t, "new", msg.Key)
		assert.Zero(t, msg.TTL)
		assert.False(t, msg.Ok)
		assert.Empty(t, msg.Err)
	})
}

func TestBinaryEmptyValueIsNotNil(t *testing.T) {
	s := NewBinarySerializer()
	result := roundTrip(t, s, &common.Message{MsgType: common.MsgTKVSet, Key: "k", Value: []byte{}})
	assert.NotNil(t, result.Value)
	assert.Empty(t, result.Value)

	result = roundTrip(t, s, &common.Message{MsgType: common.MsgTKVGet, Key: "k"})
	assert.Nil(t, result.Value)
}

func TestBinaryDoesNotAliasInput(t *testing.T) {
	s := NewBinarySerializer()
	data, err := s.Serialize(common.NewSetRequest("k", []byte("value")))
	require.NoError(t, err)

	var msg common.Message
	require.NoError(t, s.Deserialize(data, &msg))
	for i := range data {
		data[i] = 0
	}
	assert.Equal(t, []byte("value"), msg.Value)
	assert.Equal(t, "k", msg.Key)
}

func TestBinaryRejectsTruncatedInput(t *testing.T) {
	s := NewBinarySerializer()
	data, err := s.Serialize(&common.Message{
		MsgType: common.MsgTKVSetE,
		Key:     "key",
		TTL:     60,
		Value:   []byte("value"),
		Code:    uint64(store.RetCInternalError),
		Err:     "boom",
	})
	require.NoError(t, err)

	for i := 0; i < len(data); i++ {
		var msg common.Message
		assert.Error(t, s.Deserialize(data[:i], &msg), "prefix of length %d", i)
	}
}

func TestJSONUsesMessageTypeNames(t *testing.T) {
	data, err := NewJSONSerializer().Serialize(common.NewInfoRequest())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "info", raw["msg_type"])

	var msg common.Message
	assert.Error(t, NewJSONSerializer().Deserialize([]byte(`{"msg_type":"nope"}`), &msg))
}
