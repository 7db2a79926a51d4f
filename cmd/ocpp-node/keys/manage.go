package keys

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/internal/keyring"
)

func newListCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withKeyring(v, "keys", func(ctx context.Context, kr *keyring.Keyring, _ []byte, out *cli.Output) error {
				infos, err := kr.List(ctx)
				if err != nil {
					return fmt.Errorf("list keys: %w", err)
				}
				t := out.Table("keys", "ID", "Algorithm", "Public Key", "Sealed", "Default")
				for _, info := range infos {
					def := ""
					if info.IsDefault {
						def = "*"
					}
					t.AddRow(info.ID, string(info.Algorithm), info.PublicKey, strconv.FormatBool(info.Sealed), def)
				}
				return t.Render()
			})
		},
	}
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyring(v, "keys", func(ctx context.Context, kr *keyring.Keyring, _ []byte, out *cli.Output) error {
				infos, err := kr.List(ctx)
				if err != nil {
					return fmt.Errorf("list keys: %w", err)
				}
				for _, info := range infos {
					if info.ID == args[0] {
						return renderKey(out, "key", info)
					}
				}
				return fmt.Errorf("key %q: %w", args[0], keyring.ErrNotFound)
			})
		},
	}
}

func newDefaultCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "default <id>",
		Short: "Set the default key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyring(v, "keys", func(_ context.Context, kr *keyring.Keyring, _ []byte, out *cli.Output) error {
				if err := kr.SetDefault(args[0]); err != nil {
					return fmt.Errorf("set default: %w", err)
				}
				return out.Result("default-set", fmt.Sprintf("Default key set to %q", args[0])).
					With("ID", args[0]).
					Render()
			})
		},
	}
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyring(v, "keys", func(ctx context.Context, kr *keyring.Keyring, _ []byte, out *cli.Output) error {
				if err := kr.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("delete key: %w", err)
				}
				return out.Result("key-deleted", fmt.Sprintf("Key %q deleted", args[0])).
					With("ID", args[0]).
					Render()
			})
		},
	}
}
