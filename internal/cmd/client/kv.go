package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newKVCommand constructs the `kv` command group for the opaque scalar
// surface.
func newKVCommand() *cobra.Command {
	kvCmd := &cobra.Command{
		Use:   "kv",
		Short: "Key/value operations on the backing store",
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := env.store.Connect(ctx, nil); err != nil {
				return err
			}
			defer env.store.Disconnect(ctx)

			v, err := env.store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := buildEnv(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := env.store.Connect(ctx, nil); err != nil {
				return err
			}
			defer env.store.Disconnect(ctx)

			if err := env.store.Set(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}

	kvCmd.AddCommand(getCmd, setCmd)
	return kvCmd
}
