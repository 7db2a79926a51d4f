// Package keys implements the "keys" command tree.
package keys

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/internal/config"
	"github.com/gezibash/ocpp-node/internal/keyring"
	"github.com/gezibash/ocpp-node/internal/observability"
)

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
		Long: "Manage ed25519 and secp256k1 signing keys.\n" +
			"Keys are stored in <data-dir>/keys/, sealed when a passphrase is given.",
	}

	cmd.PersistentFlags().String("passphrase", "", "passphrase sealing the key seed")
	_ = v.BindPFlag("signing.passphrase", cmd.PersistentFlags().Lookup("passphrase"))

	cmd.AddCommand(
		newGenerateCmd(v),
		newImportCmd(v),
		newListCmd(v),
		newShowCmd(v),
		newDefaultCmd(v),
		newDeleteCmd(v),
	)
	return cmd
}

// withKeyring runs fn against the configured keyring.
func withKeyring(v *viper.Viper, name string, fn func(ctx context.Context, kr *keyring.Keyring, passphrase []byte, out *cli.Output) error) error {
	return cli.RunConfigCommand(cli.ConfigCommand{
		Name:  name,
		Viper: v,
		Run: func(ctx context.Context, cfg config.Config, _ *observability.Observability, out *cli.Output) error {
			return fn(ctx, keyring.New(cfg.KeyringDir()), []byte(cfg.Signing.Passphrase), out)
		},
	})
}

func renderKey(out *cli.Output, resultType string, info *keyring.KeyInfo) error {
	return out.KV(resultType).
		Set("ID", info.ID).
		Set("Algorithm", info.Algorithm).
		Set("Public Key", info.PublicKey).
		Set("Sealed", info.Sealed).
		Set("Default", info.IsDefault).
		Set("Created", info.CreatedAt.Format("2006-01-02 15:04:05")).
		Render()
}
