package base_test

import (
	"bytes"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/ValentinKolb/ttlKV/rpc/transport/tcp"
	"github.com/ValentinKolb/ttlKV/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportPair struct {
	server   func() transport.IRPCServerTransport
	client   func() transport.IRPCClientTransport
	endpoint func(t *testing.T) string
}

var transports = map[string]transportPair{
	"tcp": {
		server: tcp.NewTCPServerTransport,
		client: tcp.NewTCPClientTransport,
		endpoint: func(t *testing.T) string {
			l, err := net.Listen("tcp", "127.0.0.1:0")
			require.NoError(t, err)
			addr := l.Addr().String()
			require.NoError(t, l.Close())
			return addr
		},
	},
	"unix": {
		server: unix.NewUnixServerTransport,
		client: unix.NewUnixClientTransport,
		endpoint: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "ttlkv.sock")
		},
	},
}

// startServer starts an echo server that prefixes every payload with its shard id
func startServer(t *testing.T, pair transportPair) (endpoint string) {
	t.Helper()
	endpoint = pair.endpoint(t)

	server := pair.server()
	server.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte(fmt.Sprintf("%d:", shardId)), req...)
	})

	done := make(chan error, 1)
	go func() {
		done <- server.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: endpoint, WorkersPerConn: 8, TCPConf: common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1}},
		})
	}()
	t.Cleanup(func() {
		require.NoError(t, server.Close())
		select {
		case err := <-done:
			assert.ErrorIs(t, err, transport.ErrServerClosed)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return endpoint
}

func connect(t *testing.T, pair transportPair, endpoint string) transport.IRPCClientTransport {
	t.Helper()
	client := pair.client()
	cfg := common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:              []string{endpoint},
			RetryCount:             3,
			ConnectionsPerEndpoint: 2,
			TCPConf:                common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		},
	}
	require.Eventually(t, func() bool { return client.Connect(cfg) == nil }, 5*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRequestResponse(t *testing.T) {
	for name, pair := range transports {
		t.Run(name, func(t *testing.T) {
			client := connect(t, pair, startServer(t, pair))

			resp, err := client.Send(7, []byte("hello"))
			require.NoError(t, err)
			assert.Equal(t, "7:hello", string(resp))

			resp, err = client.Send(1, nil)
			require.NoError(t, err)
			assert.Equal(t, "1:", string(resp))
		})
	}
}

func TestConcurrentRequestsAreCorrelated(t *testing.T) {
	for name, pair := range transports {
		t.Run(name, func(t *testing.T) {
			client := connect(t, pair, startServer(t, pair))

			var wg sync.WaitGroup
			for i := 0; i < 64; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					payload := bytes.Repeat([]byte{byte(i)}, 1+i*512)
					resp, err := client.Send(uint64(i), payload)
					if assert.NoError(t, err) {
						assert.Equal(t, append([]byte(fmt.Sprintf("%d:", i)), payload...), resp)
					}
				}(i)
			}
			wg.Wait()
		})
	}
}

func TestLargeFrame(t *testing.T) {
	pair := transports["unix"]
	client := connect(t, pair, startServer(t, pair))

	payload := bytes.Repeat([]byte("x"), 3<<20)
	resp, err := client.Send(2, payload)
	require.NoError(t, err)
	assert.Len(t, resp, len(payload)+2)
}

func TestConnectWithoutEndpoints(t *testing.T) {
	err := tcp.NewTCPClientTransport().Connect(common.ClientConfig{})
	assert.Error(t, err)
}

func TestSendAfterClose(t *testing.T) {
	pair := transports["unix"]
	client := connect(t, pair, startServer(t, pair))
	require.NoError(t, client.Close())

	_, err := client.Send(1, []byte("x"))
	assert.Error(t, err)
}
