package inspect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/db"
	"github.com/ValentinKolb/ttlKV/lib/db/engines/pebble"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	kvdb db.KVDB

	// InspectCommands works on encoded values and pebble data directories
	// without a running server
	InspectCommands = &cobra.Command{
		Use:   "inspect",
		Short: "Inspect encoded values and pebble data directories offline",
		Long: `Inspect encoded values and pebble data directories offline. The server owning a data directory
must not be running while it is inspected.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return util.BindCommandFlags(cmd)
		},
	}

	encodeCmd = &cobra.Command{
		Use:   "encode [value] [ttl]",
		Short: "Prints the encoded form of a value as hex",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runEncode,
	}
	decodeCmd = &cobra.Command{
		Use:   "decode [hex]",
		Short: "Decodes a hex encoded value",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads a key directly from a pebble data directory",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(runGet),
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about a pebble data directory",
		Args:  cobra.NoArgs,
		RunE:  withDB(runInfo),
	}
	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Removes all expired values from a pebble data directory",
		Args:  cobra.NoArgs,
		RunE:  withDB(runCompact),
	}
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Writes a snapshot of all live values to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(runExport),
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Replaces the content of a data directory with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  withDB(runImport),
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	flags := InspectCommands.PersistentFlags()
	flags.String("config", "", util.WrapString("Optional config file (yaml, toml or json) with the same keys as the flags"))
	flags.Uint32("schema-version", 0, util.WrapString("Value schema version (data directories use the version they were created with)"))
	flags.String("dir", "", util.WrapString("pebble data directory, overrides --data-dir and --shard"))
	flags.String("data-dir", "data", util.WrapString("Data directory of the server"))
	flags.Uint64("shard", 100, util.WrapString("Shard whose data directory is opened"))
	flags.Bool("raft", false, util.WrapString("Open the directory of a raft replicated shard"))

	InspectCommands.AddCommand(encodeCmd, decodeCmd, getCmd, infoCmd, compactCmd, exportCmd, importCmd)
}

// shardDir mirrors the layout the server uses for pebble shards
func shardDir() string {
	if dir := viper.GetString("dir"); dir != "" {
		return dir
	}
	kind := "local"
	if viper.GetBool("raft") {
		kind = "raft"
	}
	return filepath.Join(viper.GetString("data-dir"), "pebble", kind, fmt.Sprintf("shard-%d", viper.GetUint64("shard")))
}

// withDB opens the data directory for the duration of run
func withDB(run func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := openDB(); err != nil {
			return err
		}
		defer func() {
			if err := kvdb.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close %s: %v\n", shardDir(), err)
			}
		}()
		return run(cmd, args)
	}
}

func openDB() error {
	dir := shardDir()
	if _, err := os.Stat(dir); err != nil {
		return errors.Wrapf(err, "data directory %s", dir)
	}

	var err error
	kvdb, err = pebble.NewPebbleDB(&pebble.DBOptions{
		Options: db.Options{SchemaVersion: schema.Version(viper.GetUint32("schema-version"))},
		Dir:     dir,
		Sync:    true,
	})
	return err
}

// --------------------------------------------------------------------------
// Value commands
// --------------------------------------------------------------------------

// encodeValue encodes value with an expiration ttl seconds from now
func encodeValue(v schema.Version, value []byte, now, ttl uint32) ([]byte, error) {
	g := schema.AcquireGenerator()
	defer schema.ReleaseGenerator(g)

	segs, err := g.GenerateValue(v, value, schema.ExpireTsFromTTL(now, ttl))
	if err != nil {
		return nil, err
	}
	return segs.Bytes(), nil
}

// describeValue renders the decoded form of an encoded value
func describeValue(w io.Writer, v schema.Version, now uint32, raw []byte) error {
	expireTs, userData, err := schema.Decode(v, raw)
	if err != nil {
		return err
	}
	expired, err := schema.IsExpiredFromEncoded(v, now, raw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "schema=%s, expire_ts=%d, expired=%t, ttl=%s, value=%q\n",
		v, expireTs, expired, util.FormatTTL(schema.RemainingTTL(now, expireTs)), userData)
	return err
}

func runEncode(_ *cobra.Command, args []string) error {
	var ttl uint32
	if len(args) == 2 {
		var err error
		if ttl, err = util.ParseTTL(args[1]); err != nil {
			return err
		}
	}
	raw, err := encodeValue(schema.Version(viper.GetUint32("schema-version")), []byte(args[0]), schema.EpochNow(), ttl)
	if err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(raw))
	return nil
}

func runDecode(_ *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(args[0])
	if err != nil {
		return errors.Wrap(err, "value must be hex encoded")
	}
	return describeValue(os.Stdout, schema.Version(viper.GetUint32("schema-version")), schema.EpochNow(), raw)
}

// --------------------------------------------------------------------------
// Data directory commands
// --------------------------------------------------------------------------

func runGet(_ *cobra.Command, args []string) error {
	key := args[0]
	raw, release, ok, err := kvdb.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("key=%s, found=false\n", key)
		return nil
	}
	defer release()
	fmt.Printf("key=%s, found=true, ", key)
	return describeValue(os.Stdout, kvdb.SchemaVersion(), schema.EpochNow(), raw)
}

func runInfo(_ *cobra.Command, _ []string) error {
	out, err := json.MarshalIndent(kvdb.GetInfo(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runCompact(_ *cobra.Command, _ []string) error {
	stats, err := kvdb.Compact()
	if err != nil {
		return err
	}
	fmt.Printf("scanned=%d, removed=%d, malformed=%d\n", stats.Scanned, stats.Removed, stats.Malformed)
	return nil
}

func runExport(_ *cobra.Command, args []string) error {
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := kvdb.Save(f); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "export failed")
	}
	return f.Close()
}

func runImport(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	return errors.Wrap(kvdb.Load(f), "import failed")
}
