package lock

import (
	"fmt"

	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/ValentinKolb/ttlKV/lib/lockmgr"
	"github.com/ValentinKolb/ttlKV/rpc/client"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// closer is implemented by the rpc lock manager client
type closer interface {
	Close() error
}

var (
	rpcLockMgr lockmgr.ILockManager

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire a lock. The lock is released automatically once its ttl (seconds or duration, 0 = never) ran out.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the one printed by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands)

	// Set default shard ID for lock operations (different from KV default)
	LockCommands.PersistentFlags().Int("shard", 200, util.WrapString("ID of the shard to connect to"))

	acquireCmd.Flags().String("ttl", "30", util.WrapString("Lock ttl in seconds or as a duration (0 for no expiry)"))
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcLockMgr, err = client.NewRPCLockMgr(util.GetShardID(), *util.GetClientConfig(), t, s)
	return err
}

func closeLockClient(_ *cobra.Command, _ []string) error {
	if c, ok := rpcLockMgr.(closer); ok {
		return c.Close()
	}
	return nil
}

func runAcquire(_ *cobra.Command, args []string) error {
	key := args[0]

	ttl, err := util.ParseTTL(viper.GetString("ttl"))
	if err != nil {
		return err
	}

	acquired, ownerID, err := rpcLockMgr.AcquireLock(key, ttl)
	if err != nil {
		return errors.Wrap(err, "failed to acquire lock")
	}
	if !acquired {
		fmt.Println("acquired=false")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", lockmgr.FormatOwnerID(ownerID))
	return nil
}

func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]

	ownerID, err := lockmgr.ParseOwnerID(args[1])
	if err != nil {
		return errors.Wrap(err, "invalid owner ID format")
	}

	released, err := rpcLockMgr.ReleaseLock(key, ownerID)
	if err != nil {
		return errors.Wrap(err, "failed to release lock")
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
