package node

import (
	"context"
	"fmt"

	"github.com/gezibash/ocpp-node/internal/channel"
	"github.com/gezibash/ocpp-node/internal/config"
	"github.com/gezibash/ocpp-node/internal/keyring"
	setup "github.com/gezibash/ocpp-node/internal/node"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/internal/routing"
	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Open builds a node from configuration: it loads signing keys from the
// keyring, opens the journal and dials the upstream and neighbors.
// Neighbors that cannot be reached are logged and left out of the table;
// routes through them resolve as unreachable.
func Open(ctx context.Context, cfg config.Config, obs *observability.Observability) (_ *Node, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := obs.Logger

	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	opts := []Option{
		WithLogger(logger),
		WithMetrics(obs.Metrics),
		WithDiagnosticSink(obs.Sink),
		WithDefaultTimeout(cfg.Exchange.DefaultTimeout),
		WithPolicy(cfg.Policy()),
		WithObserverConcurrency(cfg.Events.MaxConcurrency),
	}

	kr := keyring.New(cfg.KeyringDir())
	for _, id := range cfg.Signing.Keys {
		key, err := kr.Load(ctx, id, []byte(cfg.Signing.Passphrase))
		if err != nil {
			return nil, fmt.Errorf("load signing key %q: %w", id, err)
		}
		opts = append(opts, WithSigningKey(id, key.Signer))
	}
	for id, encoded := range cfg.Verification.TrustedKeys {
		pub, err := identity.DecodePublicKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("trusted key %q: %w", id, err)
		}
		opts = append(opts, WithTrustedKey(id, pub))
	}

	j, err := setup.NewJournal(ctx, cfg.Journal, cfg.DataDir, obs.Metrics)
	if err != nil {
		return nil, err
	}
	if j != nil {
		opts = append(opts, WithJournal(j))
		cleanup = append(cleanup, func() { _ = j.Close() })
	}

	var sockets []*channel.WebSocket
	dial := func(id ocpp.NodeID, url string) (*channel.WebSocket, error) {
		ws, err := channel.Dial(ctx, channel.WebSocketConfig{
			Peer:             id,
			URL:              url,
			Subprotocols:     cfg.Upstream.Subprotocols,
			HandshakeTimeout: cfg.Upstream.HandshakeTimeout,
			Logger:           logger,
		})
		if err != nil {
			return nil, err
		}
		sockets = append(sockets, ws)
		cleanup = append(cleanup, func() { _ = ws.Close() })
		return ws, nil
	}

	if cfg.Upstream.URL != "" {
		ws, err := dial(cfg.Upstream.ID, cfg.Upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("connect upstream: %w", err)
		}
		opts = append(opts, WithUpstream(cfg.Upstream.ID, ws))
		logger.Info("connected upstream", "component", "node", "peer", cfg.Upstream.ID, "subprotocol", ws.Subprotocol())
	} else if cfg.Upstream.ID != "" {
		opts = append(opts, WithUpstream(cfg.Upstream.ID, nil))
	}

	for _, nb := range cfg.Routing.Neighbors {
		ws, err := dial(nb.ID, nb.URL)
		if err != nil {
			logger.Warn("neighbor unreachable", "component", "node", "peer", nb.ID, "error", err)
			continue
		}
		opts = append(opts, WithNeighbor(ws))
	}
	for _, r := range cfg.Routing.Routes {
		opts = append(opts, WithRoute(routing.Route{Destination: r.Destination, Via: r.Via}))
	}

	n, err := New(cfg.NodeID, opts...)
	if err != nil {
		return nil, err
	}
	for _, ws := range sockets {
		n.OnClose("channel "+string(ws.Peer()), func(context.Context) error { return ws.Close() })
	}
	return n, nil
}
