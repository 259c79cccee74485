package http

import (
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestHTTPTransport(t *testing.T) {
	addr := freeAddr(t)

	server := NewHttpServerTransport()
	server.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte{byte(shardId)}, req...)
	})
	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{TimeoutSecond: 5, Transport: common.ServerTransportConfig{Endpoint: addr}})
	}()

	client := NewHttpClientTransport()
	require.NoError(t, client.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{addr}, RetryCount: 3},
	}))

	var resp []byte
	require.Eventually(t, func() bool {
		var err error
		resp, err = client.Send(3, []byte("abc"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []byte{3, 'a', 'b', 'c'}, resp)

	require.NoError(t, client.Close())
	_, err := client.Send(3, nil)
	assert.Error(t, err)

	require.NoError(t, server.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
