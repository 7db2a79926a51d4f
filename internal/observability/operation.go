package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Operation times a unit of node housekeeping such as a journal write or a
// backend open. It feeds ocpp_operation_total and
// ocpp_operation_duration_seconds.
type Operation struct {
	name    string
	ctx     context.Context
	span    trace.Span
	metrics *Metrics
	logger  *slog.Logger
	began   time.Time
}

// StartOperation opens a span named name and returns the operation with the
// span's context. m may be nil.
func StartOperation(ctx context.Context, m *Metrics, name string, attrs ...attribute.KeyValue) (*Operation, context.Context) {
	ctx, span := StartSpan(ctx, name, attrs...)
	return &Operation{
		name:    name,
		ctx:     ctx,
		span:    span,
		metrics: m,
		logger:  slog.Default().With("operation", name),
		began:   time.Now(),
	}, ctx
}

// End records the outcome. A nil err counts as "ok".
func (o *Operation) End(err error) {
	took := time.Since(o.began)
	status := "ok"
	if err != nil {
		status = "error"
		o.logger.WarnContext(o.ctx, "operation failed", "error", err, "took", took)
	} else {
		o.logger.DebugContext(o.ctx, "operation done", "took", took)
	}
	o.span.SetAttributes(attribute.String("ocpp.operation.status", status))
	EndSpan(o.span, err)

	if o.metrics != nil {
		o.metrics.OperationDuration.WithLabelValues(o.name, status).Observe(took.Seconds())
		o.metrics.OperationTotal.WithLabelValues(o.name, status).Inc()
	}
}
