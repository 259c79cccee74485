package server

import (
	"github.com/ValentinKolb/ttlKV/lib/lockmgr"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
)

func NewLockManagerServerAdapter() IRPCServerAdapter {
	return &lockMgrServerAdapter{}
}

type lockMgrServerAdapter struct{}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message, s store.IStore) *common.Message {
	if s == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}

	// the lock manager is stateless, all state lives in the store
	locks := lockmgr.NewLockManager(s)

	switch req.MsgType {
	case common.MsgTLCKAcquire:
		if req.TTL < 0 || req.TTL > int64(^uint32(0)) {
			return common.NewErrorResponse(store.RetCInvalidOperation, "ttl out of range")
		}
		ok, ownerID, err := locks.AcquireLock(req.Key, uint32(req.TTL))
		return common.NewAcquireResponse(ok, ownerID, err)
	case common.MsgTLCKRelease:
		ok, err := locks.ReleaseLock(req.Key, req.Value)
		return common.NewReleaseResponse(ok, err)
	default:
		return common.NewErrorResponse(store.RetCInvalidOperation,
			"RPC LockManagerAdapter - unsupported message type: "+req.MsgType.String())
	}
}
