package kv

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/ttlKV/cmd/util"
	"github.com/spf13/cobra"
)

// parseOptionalTTL parses args[i] if present, 0 (never expires) otherwise
func parseOptionalTTL(args []string, i int) (uint32, error) {
	if len(args) <= i {
		return 0, nil
	}
	return util.ParseTTL(args[i])
}

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value] [ttl]",
		Short: "Sets the value for a key",
		Long: `Sets the value for a key. The optional ttl is given in seconds or as a duration (e.g. 90, 1m30s).
Without a ttl (or with 0) the value never expires.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := parseOptionalTTL(args, 2)
			if err != nil {
				return err
			}
			if ttl == 0 {
				err = rpcStore.Set(args[0], []byte(args[1]))
			} else {
				err = rpcStore.SetE(args[0], []byte(args[1]), ttl)
			}
			if err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}
	setIfUnsetCmd = &cobra.Command{
		Use:   "set-if-unset [key] [value] [ttl]",
		Short: "Sets the value for a key if no live value exists",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := parseOptionalTTL(args, 2)
			if err != nil {
				return err
			}
			if err := rpcStore.SetEIfUnset(args[0], []byte(args[1]), ttl); err != nil {
				return err
			}
			fmt.Println("set-if-unset successfully")
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, ok, err := rpcStore.Get(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			defer value.Release()
			fmt.Printf("key=%s, found=true, value=%s\n", key, value)
			return nil
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Prints the remaining time to live of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ttl, ok, err := rpcStore.TTL(key)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			fmt.Printf("key=%s, found=true, ttl=%s\n", key, util.FormatTTL(ttl))
			return nil
		},
	}
	expireCmd = &cobra.Command{
		Use:   "expire [key]",
		Short: "Expires the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Expire(args[0]); err != nil {
				return err
			}
			fmt.Println("expire successfully")
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcStore.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a live value exists for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			found, err := rpcStore.Has(key)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%t\n", key, found)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the database of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetDBInfo()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)
