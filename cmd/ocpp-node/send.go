package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/ocpp-node/internal/cli"
	"github.com/gezibash/ocpp-node/pkg/node"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

func newSendCmd(v *viper.Viper) *cobra.Command {
	var (
		to      string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "send <action>",
		Short: "Run one exchange and print its result",
		Example: `  ocpp-node send Heartbeat
  ocpp-node send Reset --to cs-1 --payload '{"type":"Immediate"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("payload is not valid JSON")
			}
			return cli.RunCommand(cli.CommandConfig{
				Name:  "send",
				Viper: v,
				Run: func(ctx context.Context, n *node.Node, out *cli.Output) error {
					return runSend(ctx, n, out, ocpp.Action(args[0]), ocpp.NodeID(to), json.RawMessage(payload))
				},
			})
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "destination node id (default: upstream)")
	cmd.Flags().StringVar(&payload, "payload", "{}", "request payload as JSON")
	return cmd
}

func runSend(ctx context.Context, n *node.Node, out *cli.Output, action ocpp.Action, to ocpp.NodeID, payload json.RawMessage) error {
	req, resp, err := n.SendAction(ctx, action, to, payload)
	if err != nil {
		return err
	}
	rh, sh := req.Header(), resp.Header()

	r := out.Result("exchange", string(action)).
		With("result", cli.ResultLabel(out, sh.Result.Code))
	if sh.Result.Reason != "" {
		r.With("reason", sh.Result.Reason)
	}
	r.With("request id", rh.RequestID).
		With("runtime", sh.Runtime)
	if len(rh.NetworkPath) > 0 {
		r.With("path", fmt.Sprint(rh.NetworkPath))
	}
	if len(rh.Signatures) > 0 {
		r.With("signed by", rh.Signatures[0].KeyID)
	}
	if sh.Result.IsSuccess() {
		body, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		r.With("response", string(body))
	}
	if err := r.Render(); err != nil {
		return err
	}
	if !sh.Result.IsSuccess() {
		return fmt.Errorf("%s failed: %s", action, sh.Result)
	}
	return nil
}
