package client

import (
	"github.com/ValentinKolb/ttlKV/lib/lockmgr"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
)

// NewRPCLockMgr connects the transport and returns a lockmgr.ILockManager
// that forwards every call to the given lock shard
func NewRPCLockMgr(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	adapter, err := newAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcLockMgr{adapter}, nil
}

type rpcLockMgr struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcLockMgr) AcquireLock(key string, ttl uint32) (bool, []byte, error) {
	resp, err := i.invoke(common.NewAcquireRequest(key, ttl))
	if err != nil {
		return false, nil, err
	}
	return resp.Ok, resp.Value, nil
}

func (i *rpcLockMgr) ReleaseLock(key string, ownerID []byte) (bool, error) {
	resp, err := i.invoke(common.NewReleaseRequest(key, ownerID))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
