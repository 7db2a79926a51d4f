package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/pkg/node"
)

func newStartCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the node until interrupted",
		Long: "Run the node: connect to the upstream and neighbors, journal every\n" +
			"completed exchange and serve metrics until SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cli.RunCommand(cli.CommandConfig{
				Name:         "start",
				Viper:        v,
				Foreground:   true,
				ServeMetrics: true,
				Run: func(ctx context.Context, n *node.Node, out *cli.Output) error {
					return runStart(ctx, n, out)
				},
			})
		},
	}
}

func runStart(ctx context.Context, n *node.Node, out *cli.Output) error {
	logger := n.Logger()
	n.Bus().OnResponse(events.AnyAction, func(_ context.Context, ev events.ResponseEvent) error {
		h := ev.Response.Header()
		logger.Info("exchange completed",
			"action", ev.Request.Action(),
			"request_id", h.RequestID,
			"result", h.Result.Code.String(),
			"runtime", h.Runtime,
		)
		return nil
	})

	neighbors := n.Routes().Neighbors()
	names := make([]string, len(neighbors))
	for i, id := range neighbors {
		names[i] = string(id)
	}
	if err := out.Result("started", fmt.Sprintf("Node %s running", n.ID())).
		With("neighbors", strings.Join(names, ", ")).
		With("routes", len(n.Routes().Routes())).
		Render(); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
