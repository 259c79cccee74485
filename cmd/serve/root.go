package serve

import (
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/db/util"
	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the ttlKV server",
		Long: `Start the ttlKV server with the specified configuration. The configuration can be set via command line flags,
a config file (--config) or environment variables. The format of the environment variables is TTLKV_<flag>
(e.g. TTLKV_TIMEOUT=15, TTLKV_ENGINE=pebble)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	flags := ServeCmd.PersistentFlags()
	flags.String("config", "", cmdUtil.WrapString("Optional config file (yaml, toml or json) with the same keys as the flags"))
	flags.String("shards", "100=lstore,200=lockmgr(lstore)", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: dstore, lstore, lockmgr(dstore), lockmgr(lstore)"))

	// storage
	flags.String("engine", string(common.EngineMaple), cmdUtil.WrapString("Storage engine of every shard: maple (in memory) or pebble (on disk below --data-dir)"))
	flags.Uint32("schema-version", 0, cmdUtil.WrapString("Value schema version new values are written with. A pebble data directory keeps the version it was created with"))
	flags.Duration("gc-interval", 0, cmdUtil.WrapString("Time between background compactions that drop expired values (0 = engine default)"))

	// raft
	flags.Int("rtt-millisecond", 100, cmdUtil.WrapString("(dstore) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. Election and heartbeat timeouts are derived from this value"))
	flags.Int("snapshot-entries", 10, cmdUtil.WrapString("(dstore) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied raft log entries. 0 disables automatic snapshots (not recommended)"))
	flags.Int("compaction-overhead", 5, cmdUtil.WrapString("(dstore) CompactionOverhead defines how many log entries are kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))
	flags.String("data-dir", "data", cmdUtil.WrapString("Directory for raft logs, snapshots and pebble data"))
	flags.String("replica-id", "", cmdUtil.WrapString("(dstore) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))
	flags.String("cluster-members", "", cmdUtil.WrapString("(dstore) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))
	flags.Int64("timeout", 5, cmdUtil.WrapString("Timeout in seconds for raft proposals and connections"))

	// api
	flags.String("endpoint", "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/ttlkv.sock, ...)"))
	flags.Int("workers-per-conn", 4, cmdUtil.WrapString("Requests processed concurrently per connection (tcp, unix)"))
	flags.Int("transport-write-buffer", 512, cmdUtil.WrapString("The size of the socket write buffer (in KB, 0 = OS default)"))
	flags.Int("transport-read-buffer", 512, cmdUtil.WrapString("The size of the socket read buffer (in KB, 0 = OS default)"))
	flags.Bool("transport-tcp-nodelay", true, cmdUtil.WrapString("Whether to enable TCP_NODELAY (only for tcp)"))
	flags.Int("transport-tcp-keepalive", 0, cmdUtil.WrapString("The keepalive interval (in seconds, 0 = disabled, only for tcp)"))
	flags.Int("transport-tcp-linger", -1, cmdUtil.WrapString("The linger time (in seconds, -1 = OS default, only for tcp)"))
	flags.String("metrics-endpoint", "", cmdUtil.WrapString("Address for the prometheus /metrics and /debug/pprof endpoints (empty = disabled)"))

	flags.String("log-level", "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// parseShards parses the --shards flag
func parseShards(value string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	for _, shardConfig := range strings.Split(value, ",") {
		id, kind, ok := strings.Cut(shardConfig, "=")
		if !ok {
			return nil, errors.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid shard ID %s", id)
		}

		var shardType common.ServerShardType
		switch strings.TrimSpace(kind) {
		case "dstore":
			shardType = common.ShardTypeRemoteIStore
		case "lstore":
			shardType = common.ShardTypeLocalIStore
		case "lockmgr(dstore)":
			shardType = common.ShardTypeRemoteILockManager
		case "lockmgr(lstore)":
			shardType = common.ShardTypeLocalILockManager
		default:
			return nil, errors.Errorf("invalid shard type: %s (expected one of: dstore, lstore, lockmgr(dstore), lockmgr(lstore))", kind)
		}
		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// parseClusterMembers parses the --cluster-members flag, replica names are hashed to ids
func parseClusterMembers(value string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(value, ",") {
		name, addr, ok := strings.Cut(member, "=")
		if !ok {
			return nil, errors.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[uint64(util.HashString(strings.TrimSpace(name), 0))] = strings.TrimSpace(addr)
	}
	return members, nil
}

// processConfig converts flags, config file and env vars into the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.Engine = common.EngineType(viper.GetString("engine"))
	serveCmdConfig.SchemaVersion = viper.GetUint32("schema-version")
	serveCmdConfig.GCInterval = viper.GetDuration("gc-interval")

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")

	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:       viper.GetString("endpoint"),
		WorkersPerConn: viper.GetInt("workers-per-conn"),
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if !serveCmdConfig.HasRemoteShard() {
		return nil
	}

	// raft settings are only required in cluster mode
	id := viper.GetString("replica-id")
	if id == "" {
		return errors.New("ReplicaId is required for remote shards")
	}
	serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))

	clusterMembers := viper.GetString("cluster-members")
	if clusterMembers == "" {
		return errors.New("ClusterMembers is required for remote shards")
	}
	if serveCmdConfig.ClusterMembers, err = parseClusterMembers(clusterMembers); err != nil {
		return err
	}
	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok {
		return errors.Errorf("no address found for replica ID %s in cluster members", id)
	}
	return nil
}

// run starts the ttlKV server and stops it on SIGINT/SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Logger.Infof("shutting down")
		_ = serv.Close()
	}()

	return serv.Serve()
}
