// Package journal records completed exchanges to a physical backend by
// observing response events on the node's bus.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Journal persists one record per completed exchange.
type Journal struct {
	backend physical.Backend
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New wraps backend. metrics and logger may be nil.
func New(backend physical.Backend, metrics *observability.Metrics, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		backend: backend,
		metrics: metrics,
		logger:  logger.With("component", "journal"),
	}
}

// Attach subscribes the journal to every response on bus.
func (j *Journal) Attach(bus *events.Bus) {
	bus.OnResponse(events.AnyAction, j.Observe)
}

// Observe stores the exchange described by ev. Errors surface to the bus,
// which reports them without affecting the exchange.
func (j *Journal) Observe(ctx context.Context, ev events.ResponseEvent) (err error) {
	op, ctx := observability.StartOperation(ctx, j.metrics, "journal.put")
	defer func() { op.End(err) }()

	rec, err := NewRecord(ev)
	if err != nil {
		return err
	}
	if err := j.backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("journal put %s: %w", rec.RequestID, err)
	}
	j.logger.DebugContext(ctx, "exchange journaled",
		"request_id", rec.RequestID, "action", rec.Action, "result", rec.Result)
	return nil
}

// NewRecord builds the journal record for ev. Payloads are stored without
// header fields, as they appear on the wire.
func NewRecord(ev events.ResponseEvent) (*physical.Record, error) {
	if ev.Request == nil || ev.Response == nil {
		return nil, fmt.Errorf("journal: incomplete event")
	}
	reqHdr := ev.Request.Header()
	respHdr := ev.Response.Header()

	reqJSON, err := json.Marshal(ev.Request)
	if err != nil {
		return nil, fmt.Errorf("journal: encode request: %w", err)
	}
	var respJSON json.RawMessage
	if respHdr.Result.IsSuccess() {
		if respJSON, err = json.Marshal(ev.Response); err != nil {
			return nil, fmt.Errorf("journal: encode response: %w", err)
		}
	}

	completed := respHdr.ResponseTimestamp
	if completed.IsZero() {
		completed = ev.Timestamp
	}
	return &physical.Record{
		RequestID:   reqHdr.RequestID,
		Action:      string(ev.Request.Action()),
		Destination: string(reqHdr.Destination),
		Sender:      string(ev.Sender),
		Result:      respHdr.Result.Code.String(),
		Reason:      respHdr.Result.Reason,
		Runtime:     respHdr.Runtime,
		RequestedAt: reqHdr.RequestTimestamp,
		CompletedAt: completed,
		Request:     reqJSON,
		Response:    respJSON,
	}, nil
}

// Get returns the record for requestID.
func (j *Journal) Get(ctx context.Context, requestID string) (*physical.Record, error) {
	return j.backend.Get(ctx, requestID)
}

// List returns up to limit records, newest first. An empty action lists
// every message kind.
func (j *Journal) List(ctx context.Context, action ocpp.Action, limit int) ([]*physical.Record, error) {
	return j.backend.List(ctx, physical.ListOptions{Action: string(action), Limit: limit})
}

// Close closes the backend.
func (j *Journal) Close() error {
	return j.backend.Close()
}
