package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/pkg/node"
)

func newRoutesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show connected neighbors and configured routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cli.CommandConfig{
				Name:  "routes",
				Viper: v,
				Run: func(_ context.Context, n *node.Node, out *cli.Output) error {
					return renderRoutes(n, out)
				},
			})
		},
	}
}

func renderRoutes(n *node.Node, out *cli.Output) error {
	table := n.Routes()
	t := out.Table("routes", "Destination", "Via", "Connected")
	for _, id := range table.Neighbors() {
		t.AddRow(string(id), "-", "yes")
	}
	for _, r := range table.Routes() {
		connected := "no"
		if _, ok := table.Neighbor(r.Via); ok {
			connected = "yes"
		}
		t.AddRow(string(r.Destination), string(r.Via), connected)
	}
	return t.Render()
}
