package keys

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/internal/keyring"
	"github.com/gezibash/ocpp-node/pkg/identity"
)

func newGenerateCmd(v *viper.Viper) *cobra.Command {
	var (
		algo       string
		setDefault bool
	)

	cmd := &cobra.Command{
		Use:   "generate [id]",
		Short: "Generate a new signing key",
		Long:  "Generate a new signing key. Without an id, one is derived from the public key.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := identity.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			return withKeyring(v, "keys", func(ctx context.Context, kr *keyring.Keyring, passphrase []byte, out *cli.Output) error {
				var (
					key *keyring.Key
					err error
				)
				if len(args) == 0 {
					key, err = kr.GenerateNamed(ctx, alg, passphrase)
				} else {
					key, err = kr.Generate(ctx, args[0], alg, passphrase)
				}
				if err != nil {
					return fmt.Errorf("generate key: %w", err)
				}
				return finishCreate(kr, key, setDefault, out)
			})
		},
	}

	cmd.Flags().StringVar(&algo, "algorithm", string(identity.AlgEd25519), "key algorithm (ed25519, secp256k1)")
	cmd.Flags().BoolVar(&setDefault, "default", false, "make this the default key")
	return cmd
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	var (
		algo       string
		setDefault bool
	)

	cmd := &cobra.Command{
		Use:   "import <id> <seed-hex>",
		Short: "Import a signing key from its hex seed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := identity.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			seed, err := hex.DecodeString(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("decode seed: %w", err)
			}
			return withKeyring(v, "keys", func(ctx context.Context, kr *keyring.Keyring, passphrase []byte, out *cli.Output) error {
				key, err := kr.Import(ctx, args[0], alg, seed, passphrase)
				if err != nil {
					return fmt.Errorf("import key: %w", err)
				}
				return finishCreate(kr, key, setDefault, out)
			})
		},
	}

	cmd.Flags().StringVar(&algo, "algorithm", string(identity.AlgEd25519), "key algorithm (ed25519, secp256k1)")
	cmd.Flags().BoolVar(&setDefault, "default", false, "make this the default key")
	return cmd
}

func finishCreate(kr *keyring.Keyring, key *keyring.Key, setDefault bool, out *cli.Output) error {
	if setDefault {
		if err := kr.SetDefault(key.ID); err != nil {
			return fmt.Errorf("set default: %w", err)
		}
		key.Info.IsDefault = true
	}
	return renderKey(out, "key", key.Info)
}
