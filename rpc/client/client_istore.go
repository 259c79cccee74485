package client

import (
	"encoding/json"

	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/pkg/errors"
)

// NewRPCStore connects the transport and returns a store.IStore that forwards
// every call to the given shard. Close closes the transport.
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	adapter, err := newAdapter(shardId, config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *rpcStore) Set(key string, value []byte) error {
	_, err := i.invoke(common.NewSetRequest(key, value))
	return err
}

func (i *rpcStore) SetE(key string, value []byte, ttl uint32) error {
	_, err := i.invoke(common.NewSetERequest(key, value, ttl))
	return err
}

func (i *rpcStore) SetEIfUnset(key string, value []byte, ttl uint32) error {
	_, err := i.invoke(common.NewSetEIfUnsetRequest(key, value, ttl))
	return err
}

func (i *rpcStore) Expire(key string) error {
	_, err := i.invoke(common.NewExpireRequest(key))
	return err
}

func (i *rpcStore) Delete(key string) error {
	_, err := i.invoke(common.NewDeleteRequest(key))
	return err
}

// Get returns the value in a blob that owns the response buffer, releasing it is a no-op
func (i *rpcStore) Get(key string) (*schema.Blob, bool, error) {
	resp, err := i.invoke(common.NewGetRequest(key))
	if err != nil || !resp.Ok {
		return nil, false, err
	}
	return schema.NewBlob(resp.Value, nil), true, nil
}

func (i *rpcStore) Has(key string) (bool, error) {
	resp, err := i.invoke(common.NewHasRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (i *rpcStore) TTL(key string) (int64, bool, error) {
	resp, err := i.invoke(common.NewTTLRequest(key))
	if err != nil || !resp.Ok {
		return 0, false, err
	}
	return resp.TTL, true, nil
}

func (i *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	resp, err := i.invoke(common.NewInfoRequest())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return info, store.WrapError(errors.Wrap(err, "invalid info response"))
	}
	return info, nil
}
