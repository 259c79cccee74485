package transport

import (
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/pkg/errors"
)

// ErrServerClosed is returned by IRPCServerTransport.Listen after Close was called
var ErrServerClosed = errors.New("rpc server closed")

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc handles a single request for the given shard and returns the
// serialized response. req is only valid until the function returns.
type ServerHandleFunc func(shardId uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the server side of the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers the handler called for every received request.
	// The transport is responsible for passing the shard id of the request along.
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport and blocks until it fails or is closed
	Listen(config common.ServerConfig) error
	// Close stops accepting new requests, Listen returns ErrServerClosed
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(shardId uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
