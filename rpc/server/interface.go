package server

import (
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// It translates a request into calls on a store.IStore.
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response. Errors are reported
	// inside the response. The response may hold memory owned by the store,
	// the caller must call Release on it once it has been serialized.
	Handle(req *common.Message, store store.IStore) (resp *common.Message)
}
