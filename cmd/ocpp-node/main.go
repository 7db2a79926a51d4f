package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/cmd/ocpp-node/journal"
	"github.com/gezibash/ocpp-node/cmd/ocpp-node/keys"
	"github.com/gezibash/ocpp-node/internal/config"
)

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:          "ocpp-node",
		Short:        "OCPP networking node",
		SilenceUsage: true,
	}

	config.BindFlags(rootCmd, v)
	rootCmd.PersistentFlags().StringP("output", "o", "text", "output format (text, json, markdown)")
	_ = v.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newStartCmd(v))
	rootCmd.AddCommand(newSendCmd(v))
	rootCmd.AddCommand(newRoutesCmd(v))
	rootCmd.AddCommand(keys.Entrypoint(v))
	rootCmd.AddCommand(journal.Entrypoint(v))
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
