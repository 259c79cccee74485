package client

import (
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/pkg/errors"
)

// rpcClientAdapter holds everything an RPC client needs to talk to one shard.
// Embedded by rpcStore and rpcLockMgr.
type rpcClientAdapter struct {
	shardId    uint64
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

func newAdapter(shardId uint64, config common.ClientConfig, t transport.IRPCClientTransport, s serializer.IRPCSerializer) (rpcClientAdapter, error) {
	if err := t.Connect(config); err != nil {
		return rpcClientAdapter{}, store.WrapError(errors.Wrap(err, "failed to connect"))
	}
	return rpcClientAdapter{
		shardId:    shardId,
		config:     config,
		transport:  t,
		serializer: s,
	}, nil
}

// Close closes the underlying transport
func (a *rpcClientAdapter) Close() error {
	return a.transport.Close()
}

// invoke sends req to the shard and returns the response. Error responses are
// turned back into a *store.Error carrying the code the server reported.
// Transport and serialization failures are reported as RetCInternalError.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(req)
	if err != nil {
		return nil, store.WrapError(errors.Wrap(err, "failed to serialize request"))
	}

	respBytes, err := a.transport.Send(a.shardId, reqBytes)
	if err != nil {
		return nil, store.WrapError(errors.Wrapf(err, "%s request failed", req.MsgType))
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, store.WrapError(errors.Wrap(err, "failed to deserialize response"))
	}

	if err := resp.AsError(); err != nil {
		return nil, err
	}
	if resp.MsgType == common.MsgTError {
		return nil, store.NewError(store.RetCInternalError, "error response without message")
	}
	if resp.MsgType != req.MsgType {
		return nil, store.NewError(store.RetCInternalError,
			"unexpected response type "+resp.MsgType.String()+", expected "+req.MsgType.String())
	}
	return resp, nil
}
