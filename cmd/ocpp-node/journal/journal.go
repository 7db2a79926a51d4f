// Package journal implements the "journal" command tree.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/internal/config"
	"github.com/gezibash/ocpp-node/internal/journal"
	setup "github.com/gezibash/ocpp-node/internal/node"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

var errDisabled = errors.New("journal is disabled")

func Entrypoint(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect completed exchanges",
	}
	cmd.AddCommand(newListCmd(v), newShowCmd(v))
	return cmd
}

func withJournal(v *viper.Viper, fn func(ctx context.Context, j *journal.Journal, out *cli.Output) error) error {
	return cli.RunConfigCommand(cli.ConfigCommand{
		Name:  "journal",
		Viper: v,
		Run: func(ctx context.Context, cfg config.Config, obs *observability.Observability, out *cli.Output) error {
			j, err := setup.NewJournal(ctx, cfg.Journal, cfg.DataDir, obs.Metrics)
			if err != nil {
				return err
			}
			if j == nil {
				return errDisabled
			}
			defer func() { _ = j.Close() }()
			return fn(ctx, j, out)
		},
	})
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exchanges, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJournal(v, func(ctx context.Context, j *journal.Journal, out *cli.Output) error {
				recs, err := j.List(ctx, ocpp.Action(action), limit)
				if err != nil {
					return fmt.Errorf("list journal: %w", err)
				}
				t := out.Table("journal", "Completed", "Action", "Destination", "Result", "Runtime", "Request ID")
				for _, r := range recs {
					dest := r.Destination
					if dest == "" {
						dest = "-"
					}
					t.AddRow(
						r.CompletedAt.Local().Format(time.DateTime),
						r.Action,
						dest,
						r.Result,
						r.Runtime.String(),
						r.RequestID,
					)
				}
				return t.Render()
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only list this message kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of records")
	return cmd
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show one exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(v, func(ctx context.Context, j *journal.Journal, out *cli.Output) error {
				r, err := j.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("journal record %q: %w", args[0], err)
				}
				kv := out.KV("journal-record").
					Set("Request ID", r.RequestID).
					Set("Action", r.Action).
					Set("Destination", r.Destination).
					Set("Sender", r.Sender).
					Set("Result", r.Result)
				if r.Reason != "" {
					kv.Set("Reason", r.Reason)
				}
				kv.Set("Runtime", r.Runtime).
					Set("Requested", r.RequestedAt.Local().Format(time.RFC3339Nano)).
					Set("Completed", r.CompletedAt.Local().Format(time.RFC3339Nano)).
					Set("Request", string(r.Request))
				if len(r.Response) > 0 {
					kv.Set("Response", string(r.Response))
				}
				return kv.Render()
			})
		},
	}
}
