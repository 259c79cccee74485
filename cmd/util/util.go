package util

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/ttlKV/rpc/common"
	"github.com/ValentinKolb/ttlKV/rpc/serializer"
	"github.com/ValentinKolb/ttlKV/rpc/transport"
	"github.com/ValentinKolb/ttlKV/rpc/transport/http"
	"github.com/ValentinKolb/ttlKV/rpc/transport/tcp"
	"github.com/ValentinKolb/ttlKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by ttlkv
	EnvPrefix = "ttlkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var lines []string
	var line strings.Builder

	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > Wrap {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// InitConfig loads .env files, an optional config file (--config) and binds
// environment variables with the TTLKV_ prefix. Flag names map to variables by
// upper casing them and replacing '-' with '_' (--log-level -> TTLKV_LOG_LEVEL).
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper and reads the config file
// given with --config (if any)
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return nil
}

// ParseTTL parses a ttl given either in seconds ("90") or as a duration ("1m30s").
// 0 means the entry never expires. Durations are rounded up to whole seconds.
func ParseTTL(s string) (uint32, error) {
	if secs, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(secs), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Errorf("invalid ttl %q: expected seconds or a duration like 1m30s", s)
	}
	// partial seconds round up, only an explicit zero means "never"
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	if d < 0 || secs > math.MaxUint32 {
		return 0, errors.Errorf("ttl %s out of range", d)
	}
	return uint32(secs), nil
}

// FormatTTL formats the remaining ttl returned by store.IStore.TTL
func FormatTTL(ttl int64) string {
	if ttl < 0 {
		return "never"
	}
	return (time.Duration(ttl) * time.Second).String()
}

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", WrapString("Optional config file (yaml, toml or json) with the same keys as the flags"))
	flags.Int("timeout", 10, WrapString("The timeout in seconds of the client"))
	flags.String("transport-endpoints", "localhost:8080", WrapString("The address of the ttlKV server. For transports that support load balancing, multiple endpoints can be specified as a comma-separated list"))
	flags.Int("transport-conn-per-endpoint", 1, WrapString("Simultaneous connections per endpoint - for transports that support this feature"))
	flags.Int("transport-retries", 3, WrapString("How many times to retry the request"))
	flags.Int("transport-write-buffer", 512, WrapString("The size of the socket write buffer (in KB, 0 = OS default)"))
	flags.Int("transport-read-buffer", 512, WrapString("The size of the socket read buffer (in KB, 0 = OS default)"))
	flags.Bool("transport-tcp-nodelay", true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))
	flags.Int("transport-tcp-keepalive", 0, WrapString("The keepalive interval (in seconds, 0 = disabled, only for tcp)"))
	flags.Int("transport-tcp-linger", -1, WrapString("The linger time (in seconds, -1 = OS default, only for tcp)"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}
}

// GetSerializer creates the serializer selected with --serializer
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch name := viper.GetString("serializer"); name {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, errors.Errorf("invalid serializer %s", name)
	}
}

// GetTransport creates the client transport selected with --transport
func GetTransport() (transport.IRPCClientTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, errors.Errorf("invalid transport %s", name)
	}
}

// GetServerTransport creates the server transport selected with --transport
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch name := viper.GetString("transport"); name {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, errors.Errorf("invalid transport %s", name)
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return viper.GetUint64("shard")
}
