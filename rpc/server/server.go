package server

import (
	"fmt"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/maple"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/ValentinKolb/ttlKV/lib/store"
	"github.com/ValentinKolb/ttlKV/lib/store/dstore"
	"github.com/ValentinKolb/ttlKV/lib/store/lstore"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

var (
	shardNotFound   = metrics.GetOrCreateCounter(`ttlkv_rpc_errors_total{kind="shard_not_found"}`)
	decodeFailures  = metrics.GetOrCreateCounter(`ttlkv_rpc_errors_total{kind="deserialize"}`)
	encodeFailures  = metrics.GetOrCreateCounter(`ttlkv_rpc_errors_total{kind="serialize"}`)
	requestDuration = metrics.GetOrCreateHistogram(`ttlkv_rpc_request_duration_seconds`)
)

// requestCounter returns the request counter for a message type
func requestCounter(t common.MessageType) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`ttlkv_rpc_requests_total{type=%q}`, t.String()))
}

// serverShard bundles the store of a shard with the adapter that
// translates requests for it
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// RPCServer serves the configured shards over a transport
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]

	nodeHost      *dragonboat.NodeHost
	metricsServer *http.Server
	closeOnce     sync.Once
}

// NewRPCServer creates a new RPC server
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// Serve initializes the loggers, the storage engines and the shards and then
// blocks serving requests until the transport fails or Close is called.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	err := s.transport.Listen(s.config)
	if errors.Is(err, transport.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the transport, the metrics endpoint and the raft node host
func (s *RPCServer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.transport.Close()
		if s.metricsServer != nil {
			_ = s.metricsServer.Close()
		}
		s.shards.Range(func(id uint64, shard serverShard) bool {
			if cerr := shard.Store.Close(); cerr != nil {
				Logger.Warningf("failed to close store of shard %d: %v", id, cerr)
			}
			return true
		})
		if s.nodeHost != nil {
			s.nodeHost.Close()
		}
	})
	return err
}

// handle decodes, dispatches and encodes a single request
func (s *RPCServer) handle(shardId uint64, req []byte) []byte {
	start := time.Now()
	defer requestDuration.UpdateDuration(start)

	var resp *common.Message
	var msg common.Message

	if shard, ok := s.shards.Load(shardId); !ok {
		shardNotFound.Inc()
		resp = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		decodeFailures.Inc()
		resp = common.NewErrorResponse(store.RetCInvalidOperation, fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		requestCounter(msg.MsgType).Inc()
		resp = shard.Adapter.Handle(&msg, shard.Store)
	}

	data, err := s.serializer.Serialize(resp)
	resp.Release()
	if err != nil {
		encodeFailures.Inc()
		Logger.Errorf("failed to serialize %s response: %v", resp.MsgType, err)
		data, _ = s.serializer.Serialize(common.NewErrorResponse(store.RetCInternalError,
			fmt.Sprintf("failed to serialize response: %s", err)))
	}
	return data
}

// dbFactory returns the factory for the storage engine of one shard
func (s *RPCServer) dbFactory(shardID uint64, remote bool) store.DBFactory {
	opts := db.Options{SchemaVersion: schema.Version(s.config.SchemaVersion)}

	switch s.config.Engine {
	case common.EnginePebble:
		kind := "local"
		if remote {
			kind = "raft"
		}
		dir := filepath.Join(s.config.DataDir, "pebble", kind, fmt.Sprintf("shard-%d", shardID))
		return func() (db.KVDB, error) {
			return pebble.NewPebbleDB(&pebble.DBOptions{Options: opts, Dir: dir, GCInterval: s.config.GCInterval})
		}
	default:
		return func() (db.KVDB, error) {
			return maple.NewMapleDB(&maple.DBOptions{Options: opts, GCInterval: s.config.GCInterval})
		}
	}
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	Logger.Infof("Created RPC Server\n%s", s.config.String())

	switch s.config.Engine {
	case common.EngineMaple, common.EnginePebble, "":
	default:
		return errors.Errorf("unknown storage engine %q", s.config.Engine)
	}
	if err := schema.CheckVersion(schema.Version(s.config.SchemaVersion)); err != nil {
		return err
	}

	if s.config.HasRemoteShard() {
		nodeHost, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return errors.Wrap(err, "failed to create node host")
		}
		s.nodeHost = nodeHost
	}

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	// A single server hosts any mix of local and raft backed shards, each of
	// them either a plain store or a lock manager on top of a store.
	for _, shardConfig := range s.config.Shards {
		var shard serverShard

		switch shardConfig.Type {
		case common.ShardTypeLocalIStore, common.ShardTypeRemoteIStore:
			shard.Adapter = NewIStoreServerAdapter()
		case common.ShardTypeLocalILockManager, common.ShardTypeRemoteILockManager:
			shard.Adapter = NewLockManagerServerAdapter()
		default:
			return errors.Errorf("invalid shard type: %s", shardConfig.Type)
		}

		switch shardConfig.Type {
		case common.ShardTypeLocalIStore, common.ShardTypeLocalILockManager:
			st, err := lstore.NewLocalStore(s.dbFactory(shardConfig.ShardID, false), nil)
			if err != nil {
				return errors.Wrapf(err, "failed to create store for shard %d", shardConfig.ShardID)
			}
			shard.Store = st

		default:
			factory := dstore.CreateStateMaschineFactory(s.dbFactory(shardConfig.ShardID, true))
			if err := s.nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, factory, s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				return errors.Wrapf(err, "failed to start shard %d", shardConfig.ShardID)
			}
			shard.Store = dstore.NewDistributedStore(s.nodeHost, shardConfig.ShardID, timeout, nil)
		}

		s.shards.Store(shardConfig.ShardID, shard)
		Logger.Infof("created %s for shard %d", shardConfig.Type, shardConfig.ShardID)
	}

	if s.config.MetricsEndpoint != "" {
		s.serveMetrics()
	}

	s.transport.RegisterHandler(s.handle)
	Logger.Infof("ttlKV setup completed successfully")
	return nil
}

// serveMetrics exposes prometheus metrics and pprof on the metrics endpoint
func (s *RPCServer) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s.metricsServer = &http.Server{Addr: s.config.MetricsEndpoint, Handler: mux}
	go func() {
		Logger.Infof("Serving metrics on %s/metrics", s.config.MetricsEndpoint)
		if err := s.metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()
}
