// Package client implements store.IStore and lockmgr.ILockManager on top of an
// RPC transport, so remote shards can be used like local ones.
//
// Errors reported by the server come back as *store.Error with the code the
// server assigned. errors.Is(err, schema.ErrUnsupportedSchemaVersion) and
// errors.Is(err, schema.ErrMalformedValue) therefore work across the wire.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConfig{
//	    Endpoints:  []string{"localhost:8080"},
//	    RetryCount: 3,
//	  },
//	}
//	s, err := client.NewRPCStore(100, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	defer s.Close()
//
//	_ = s.SetE("session", []byte("data"), 60)
//	blob, ok, _ := s.Get("session")
//	if ok {
//	  defer blob.Release()
//	  fmt.Println(blob.String())
//	}
//
// All clients are safe for concurrent use.
package client
