package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/ttlKV/cmd/inspect"
	"github.com/ValentinKolb/ttlKV/cmd/kv"
	"github.com/ValentinKolb/ttlKV/cmd/lock"
	"github.com/ValentinKolb/ttlKV/cmd/serve"
	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/schema"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ttlkv",
		Short: "key-value store with per entry expiration",
		Long: fmt.Sprintf(`ttlKV (v%s)

A key-value store whose values carry their own expiration timestamp.
Shards run in memory (maple) or on disk (pebble), locally or replicated with RAFT.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ttlKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ttlKV v%s (value schema %d..%d)\n", Version, 0, schema.MaxVersion)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(inspect.InspectCommands)
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().String("serializer", "binary", util.WrapString("serializer to use (json, gob, binary)"))
	RootCmd.PersistentFlags().String("transport", "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
