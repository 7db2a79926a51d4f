// Package node is the networking node: it wires the signature engine,
// destination resolver, event bus and exchange engine together and exposes
// one typed send operation plus request and response hooks per message kind.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gezibash/ocpp-node/internal/channel"
	"github.com/gezibash/ocpp-node/internal/codec"
	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/exchange"
	"github.com/gezibash/ocpp-node/internal/journal"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/internal/routing"
	"github.com/gezibash/ocpp-node/internal/signing"
	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// ErrUnknownAction is returned by SendAction for unregistered actions.
var ErrUnknownAction = errors.New("unknown action")

// Node is a networking node. It is safe for concurrent use.
type Node struct {
	id       ocpp.NodeID
	engine   *exchange.Engine
	signer   *signing.Engine
	resolver *routing.Resolver
	bus      *events.Bus
	codec    *codec.Registry
	journal  *journal.Journal
	logger   *slog.Logger
	shutdown observability.ShutdownCoordinator
}

type options struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	sink         observability.DiagnosticSink
	timeout      time.Duration
	policy       signing.Policy
	signers      map[string]identity.Signer
	trusted      map[string]identity.PublicKey
	upstream     ocpp.NodeID
	direct       channel.Channel
	neighbors    []channel.Channel
	routes       []routing.Route
	journal      *journal.Journal
	maxObservers int
	now          func() time.Time
}

// Option configures a Node.
type Option func(*options) error

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) error {
		o.logger = l
		return nil
	}
}

// WithMetrics records exchange, signature and observer metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) error {
		o.metrics = m
		return nil
	}
}

// WithDiagnosticSink receives verification failures and observer faults.
func WithDiagnosticSink(s observability.DiagnosticSink) Option {
	return func(o *options) error {
		o.sink = s
		return nil
	}
}

// WithDefaultTimeout overrides exchange.DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return fmt.Errorf("default timeout must not be negative")
		}
		o.timeout = d
		return nil
	}
}

// WithPolicy sets the initial signing and verification policy.
func WithPolicy(p signing.Policy) Option {
	return func(o *options) error {
		o.policy = p
		return nil
	}
}

// WithSigningKey adds a key that signing rules can name by keyID.
func WithSigningKey(keyID string, s identity.Signer) Option {
	return func(o *options) error {
		if keyID == "" || s == nil {
			return fmt.Errorf("signing key needs an id and a signer")
		}
		o.signers[keyID] = s
		return nil
	}
}

// WithTrustedKey trusts pub for verifying signatures made under keyID.
func WithTrustedKey(keyID string, pub identity.PublicKey) Option {
	return func(o *options) error {
		if keyID == "" || pub.IsZero() {
			return fmt.Errorf("trusted key needs an id and key material")
		}
		o.trusted[keyID] = pub
		return nil
	}
}

// WithUpstream names the direct counterpart. Requests with no destination
// or this destination use the direct channel.
func WithUpstream(id ocpp.NodeID, ch channel.Channel) Option {
	return func(o *options) error {
		o.upstream = id
		o.direct = ch
		return nil
	}
}

// WithNeighbor adds a directly connected overlay peer.
func WithNeighbor(ch channel.Channel) Option {
	return func(o *options) error {
		o.neighbors = append(o.neighbors, ch)
		return nil
	}
}

// WithRoute reaches r.Destination through the neighbor r.Via.
func WithRoute(r routing.Route) Option {
	return func(o *options) error {
		o.routes = append(o.routes, r)
		return nil
	}
}

// WithJournal records every completed exchange.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) error {
		o.journal = j
		return nil
	}
}

// WithObserverConcurrency bounds observers run at once per notification.
func WithObserverConcurrency(n int) Option {
	return func(o *options) error {
		o.maxObservers = n
		return nil
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		o.now = now
		return nil
	}
}

// New builds a node with the given id.
func New(id ocpp.NodeID, opts ...Option) (*Node, error) {
	if id == "" {
		return nil, errors.New("node id is required")
	}
	o := &options{
		signers: make(map[string]identity.Signer),
		trusted: make(map[string]identity.PublicKey),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sink == nil {
		o.sink = observability.NewLogSink(o.logger, o.metrics)
	}

	keys := signing.NewKeyStore()
	for keyID, s := range o.signers {
		if err := keys.AddSigner(keyID, s); err != nil {
			return nil, err
		}
	}
	for keyID, pub := range o.trusted {
		if err := keys.Trust(keyID, pub); err != nil {
			return nil, err
		}
	}
	signer, err := signing.New(signing.Config{
		NodeID: id,
		Keys:   keys,
		Policy: o.policy,
		Logger: o.logger,
		Now:    o.now,
	})
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	table := routing.NewTable()
	for _, ch := range o.neighbors {
		if err := table.AddNeighbor(ch); err != nil {
			return nil, err
		}
	}
	for _, r := range o.routes {
		if err := table.AddRoute(r); err != nil {
			return nil, err
		}
	}
	resolver := routing.NewResolver(o.upstream, table)
	if o.direct != nil {
		resolver.SetDirect(o.direct)
	}

	bus := events.NewBus(events.Config{
		Sink:           o.sink,
		Metrics:        o.metrics,
		Logger:         o.logger,
		MaxConcurrency: o.maxObservers,
	})
	registry := codec.NewRegistry()

	engine, err := exchange.New(exchange.Config{
		NodeID:         id,
		Signer:         signer,
		Resolver:       resolver,
		Serializer:     registry,
		Notifier:       bus,
		Sink:           o.sink,
		Metrics:        o.metrics,
		Logger:         o.logger,
		DefaultTimeout: o.timeout,
		Now:            o.now,
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		id:       id,
		engine:   engine,
		signer:   signer,
		resolver: resolver,
		bus:      bus,
		codec:    registry,
		journal:  o.journal,
		logger:   o.logger.With("component", "node"),
	}
	n.shutdown.Logger = n.logger
	if o.journal != nil {
		o.journal.Attach(bus)
		n.OnClose("journal", func(context.Context) error { return o.journal.Close() })
	}
	return n, nil
}

// ID returns the node's id.
func (n *Node) ID() ocpp.NodeID { return n.id }

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Engine returns the exchange engine, for use with exchange.Send.
func (n *Node) Engine() *exchange.Engine { return n.engine }

// Bus returns the event bus for untyped or catch-all observers.
func (n *Node) Bus() *events.Bus { return n.bus }

// Routes returns the overlay routing table.
func (n *Node) Routes() *routing.Table { return n.resolver.Table() }

// Keys returns the signing key store.
func (n *Node) Keys() *signing.KeyStore { return n.signer.Keys() }

// Codec returns the canonical serializer registry.
func (n *Node) Codec() *codec.Registry { return n.codec }

// Journal returns the exchange journal, or nil when disabled.
func (n *Node) Journal() *journal.Journal { return n.journal }

// SetPolicy atomically replaces the signing and verification policy.
// Exchanges already running keep the policy they started with.
func (n *Node) SetPolicy(p signing.Policy) error { return n.signer.SetPolicy(p) }

// SetUpstream replaces the direct channel; nil marks it disconnected.
func (n *Node) SetUpstream(ch channel.Channel) { n.resolver.SetDirect(ch) }

// OnClose registers fn to run when the node closes, in reverse order of
// registration.
func (n *Node) OnClose(name string, fn func(context.Context) error) {
	n.shutdown.Register(name, fn)
}

// Close releases channels, the journal and anything registered with OnClose.
func (n *Node) Close(ctx context.Context) error {
	return n.shutdown.Shutdown(ctx)
}

// SendAction runs one exchange for an action named at runtime, decoding
// payload into the action's request type.
func (n *Node) SendAction(ctx context.Context, action ocpp.Action, dest ocpp.NodeID, payload json.RawMessage) (ocpp.Request, ocpp.Response, error) {
	def, ok := ocpp.Lookup(action)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	req := def.NewRequest()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, req); err != nil {
			return nil, nil, fmt.Errorf("decode %s payload: %w", action, err)
		}
	}
	req.Header().Destination = dest

	resp := def.NewResponse()
	if err := n.engine.Exchange(ctx, req, resp); err != nil {
		return nil, nil, err
	}
	return req, resp, nil
}
