package server

import (
	"encoding/json"

	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s store.IStore) *common.Message {
	if s == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}
	if req.TTL < 0 || req.TTL > int64(^uint32(0)) {
		return common.NewErrorResponse(store.RetCInvalidOperation, "ttl out of range")
	}

	switch req.MsgType {
	case common.MsgTKVSet:
		return common.NewSetResponse(s.Set(req.Key, req.Value))
	case common.MsgTKVSetE:
		return common.NewSetEResponse(s.SetE(req.Key, req.Value, uint32(req.TTL)))
	case common.MsgTKVSetEIfUnset:
		return common.NewSetEIfUnsetResponse(s.SetEIfUnset(req.Key, req.Value, uint32(req.TTL)))
	case common.MsgTKVExpire:
		return common.NewExpireResponse(s.Expire(req.Key))
	case common.MsgTKVDelete:
		return common.NewDeleteResponse(s.Delete(req.Key))
	case common.MsgTKVGet:
		blob, ok, err := s.Get(req.Key)
		if err != nil || !ok {
			return common.NewGetResponse(nil, nil, ok, err)
		}
		// the blob stays alive until the response has been serialized
		return common.NewGetResponse(blob.Bytes(), blob.Release, true, nil)
	case common.MsgTKVHas:
		ok, err := s.Has(req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVTTL:
		ttl, ok, err := s.TTL(req.Key)
		return common.NewTTLResponse(ttl, ok, err)
	case common.MsgTKVInfo:
		info, err := s.GetDBInfo()
		if err != nil {
			return common.NewInfoResponse(nil, err)
		}
		raw, err := json.Marshal(info)
		return common.NewInfoResponse(raw, err)
	default:
		return common.NewErrorResponse(store.RetCInvalidOperation,
			"RPC IStoreAdapter - unsupported message type: "+req.MsgType.String())
	}
}
