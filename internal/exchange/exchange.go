// Package exchange runs the request/response cycle shared by every OCPP
// message kind: notify, sign, route, await, verify, complete.
//
// Every exchange ends in Completed with exactly one Result on the
// response. Expected failures (signing refused, no route, transport
// fault, timeout, cancellation) are Results; only defects such as an
// unserializable request are returned as errors.
package exchange

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
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/internal/routing"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// DefaultTimeout bounds AwaitingResponse when neither the request nor the
// engine configuration sets a timeout.
const DefaultTimeout = 30 * time.Second

// ErrInternal marks defects: failures that indicate a programming error
// rather than an environmental condition.
var ErrInternal = errors.New("internal exchange fault")

// State is a phase of one exchange.
type State int

const (
	StateCreated State = iota
	StateSigning
	StateRouting
	StateAwaitingResponse
	StateVerifying
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSigning:
		return "signing"
	case StateRouting:
		return "routing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateVerifying:
		return "verifying"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Signer signs requests and verifies responses over their canonical form.
type Signer interface {
	SignRequest(req ocpp.Request, data []byte) error
	VerifyResponse(req ocpp.Request, resp ocpp.Response, data []byte) error
}

// Resolver maps a destination to the channel carrying traffic toward it.
type Resolver interface {
	Resolve(dest ocpp.NodeID) (channel.Channel, routing.RouteMode, error)
}

// Serializer produces the canonical byte form signatures cover.
type Serializer interface {
	Canonical(action ocpp.Action, msg any) ([]byte, error)
}

// Notifier delivers request and response events to observers.
type Notifier interface {
	NotifyRequest(ctx context.Context, ev events.RequestEvent)
	NotifyResponse(ctx context.Context, ev events.ResponseEvent)
}

// Config holds the engine's collaborators. Resolver is required.
type Config struct {
	NodeID     ocpp.NodeID
	Signer     Signer
	Resolver   Resolver
	Serializer Serializer
	Notifier   Notifier
	Sink       observability.DiagnosticSink
	Metrics    *observability.Metrics
	Logger     *slog.Logger
	// DefaultTimeout applies to requests without their own Timeout.
	// Zero selects DefaultTimeout.
	DefaultTimeout time.Duration
	Now            func() time.Time
}

// Engine runs exchanges. It holds no per-exchange state and is safe for
// concurrent use.
type Engine struct {
	nodeID     ocpp.NodeID
	signer     Signer
	resolver   Resolver
	serializer Serializer
	notifier   Notifier
	sink       observability.DiagnosticSink
	metrics    *observability.Metrics
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// New creates an Engine from cfg, filling defaults for optional fields.
func New(cfg Config) (*Engine, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("exchange: resolver is required")
	}
	e := &Engine{
		nodeID:     cfg.NodeID,
		signer:     cfg.Signer,
		resolver:   cfg.Resolver,
		serializer: cfg.Serializer,
		notifier:   cfg.Notifier,
		sink:       cfg.Sink,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		timeout:    cfg.DefaultTimeout,
		now:        cfg.Now,
	}
	if e.serializer == nil {
		e.serializer = codec.NewRegistry()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "exchange")
	if e.notifier == nil {
		e.notifier = events.NewBus(events.Config{Sink: cfg.Sink, Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// NodeID returns the id stamped as sender on events and network paths.
func (e *Engine) NodeID() ocpp.NodeID { return e.nodeID }

// DefaultTimeout returns the timeout applied to requests without one.
func (e *Engine) DefaultTimeout() time.Duration { return e.timeout }

// Send runs one exchange for req and returns its typed response. The
// error is non-nil only for defects; callers branch on the response's
// Result for everything else.
func Send[Req ocpp.Request, Resp any, PResp interface {
	*Resp
	ocpp.Response
}](ctx context.Context, e *Engine, req Req) (*Resp, error) {
	resp := PResp(new(Resp))
	if err := e.Exchange(ctx, req, resp); err != nil {
		return nil, err
	}
	return (*Resp)(resp), nil
}

// sendResult carries a channel's answer out of its goroutine.
type sendResult struct {
	payload json.RawMessage
	err     error
}
