package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/ocpp-node/internal/channel"
	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/observability"
	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// run is the state of one exchange.
type run struct {
	e      *Engine
	req    ocpp.Request
	resp   ocpp.Response
	action ocpp.Action
	state  State
	start  time.Time
	logger *slog.Logger
	span   trace.Span
}

func (r *run) enter(s State) {
	r.state = s
	r.logger.Debug("exchange state", "state", s)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// Exchange runs one exchange for req, filling resp. resp must be the
// empty response type paired with req's action.
func (e *Engine) Exchange(ctx context.Context, req ocpp.Request, resp ocpp.Response) error {
	if isNil(req) || isNil(resp) {
		return fmt.Errorf("%w: nil request or response", ErrInternal)
	}

	h := req.Header()
	if h.RequestID == "" {
		h.RequestID = uuid.NewString()
	}
	r := &run{
		e:      e,
		req:    req,
		resp:   resp,
		action: req.Action(),
		start:  e.now(),
	}
	h.RequestTimestamp = r.start
	resp.Header().RequestID = h.RequestID

	r.logger = e.logger.With(
		"request_id", h.RequestID,
		"action", r.action,
		"destination", h.Destination,
	)
	ctx, r.span = observability.StartSpan(ctx, "ocpp.exchange "+string(r.action),
		attribute.String("ocpp.request_id", h.RequestID),
		attribute.String("ocpp.action", string(r.action)),
		attribute.String("ocpp.destination", string(h.Destination)),
	)

	r.enter(StateCreated)
	e.notifier.NotifyRequest(ctx, events.RequestEvent{Timestamp: r.start, Sender: e.nodeID, Request: req})

	result, elapsed, err := r.execute(ctx)
	if err != nil {
		observability.EndSpan(r.span, err)
		r.logger.Error("exchange defect", "state", r.state, "error", err)
		return err
	}
	r.complete(ctx, result, elapsed)
	return nil
}

// execute walks Signing through Verifying and returns the Result with the
// runtime to record. A non-nil error is a defect.
func (r *run) execute(ctx context.Context) (ocpp.Result, time.Duration, error) {
	e, h := r.e, r.req.Header()

	r.enter(StateSigning)
	canonical, err := e.serializer.Canonical(r.action, r.req)
	if err != nil {
		return ocpp.Result{}, 0, fmt.Errorf("%w: canonical form of %s request: %v", ErrInternal, r.action, err)
	}
	if e.signer != nil {
		if err := e.signer.SignRequest(r.req, canonical); err != nil {
			r.countSignatureFailure("sign")
			r.logger.Warn("signing refused", "error", err)
			return ocpp.SignatureFailure(err.Error()), e.now().Sub(r.start), nil
		}
	}

	r.enter(StateRouting)
	ch, mode, err := e.resolver.Resolve(h.Destination)
	if err != nil {
		res := ocpp.Unreachable(h.Destination)
		if errors.Is(err, nodeerrors.ErrNotConnected) {
			res.Reason = err.Error()
		}
		r.logger.Info("destination unreachable", "error", err)
		return res, e.now().Sub(r.start), nil
	}
	r.span.SetAttributes(
		attribute.String("ocpp.route_mode", mode.String()),
		attribute.String("ocpp.next_hop", string(ch.Peer())),
	)

	r.enter(StateAwaitingResponse)
	out, err := r.outbound(ch)
	if err != nil {
		return ocpp.Result{}, 0, err
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	dispatched := e.now()
	payload, res, ok := r.await(ctx, ch, out, timeout)
	elapsed := e.now().Sub(dispatched)
	if !ok {
		r.logger.Info("exchange failed", "result", res.Code, "reason", res.Reason, "next_hop", ch.Peer())
		return res, elapsed, nil
	}

	r.enter(StateVerifying)
	if err := json.Unmarshal(payload, r.resp); err != nil {
		return ocpp.TransportFailure(fmt.Sprintf("malformed %s response: %v", r.action, err)), elapsed, nil
	}
	if e.signer != nil {
		r.verify()
	}
	return ocpp.OK(), elapsed, nil
}

// outbound serializes the signed request for dispatch on ch.
func (r *run) outbound(ch channel.Channel) (*channel.Outbound, error) {
	h := r.req.Header()
	if id := r.e.nodeID; id != "" && (len(h.NetworkPath) == 0 || h.NetworkPath[len(h.NetworkPath)-1] != id) {
		h.NetworkPath = append(slices.Clone(h.NetworkPath), id)
	}
	payload, err := json.Marshal(r.req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s request: %v", ErrInternal, r.action, err)
	}
	dest := h.Destination
	if dest == "" {
		dest = ch.Peer()
	}
	return &channel.Outbound{
		MessageID:   h.RequestID,
		Action:      r.action,
		Destination: dest,
		NetworkPath: slices.Clone(h.NetworkPath),
		Payload:     payload,
	}, nil
}

// await dispatches out and waits for the answer. The wait is bounded by
// timeout even when the channel ignores its context.
func (r *run) await(ctx context.Context, ch channel.Channel, out *channel.Outbound, timeout time.Duration) (json.RawMessage, ocpp.Result, bool) {
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sendResult, 1)
	go func() {
		payload, err := ch.Send(sendCtx, out)
		done <- sendResult{payload: payload, err: err}
	}()

	var res sendResult
	select {
	case res = <-done:
	case <-sendCtx.Done():
		res.err = sendCtx.Err()
	}
	if res.err == nil {
		return res.payload, ocpp.OK(), true
	}

	switch {
	case ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, ocpp.Canceled(ctx.Err().Error()), false
	case ctx.Err() != nil, sendCtx.Err() != nil:
		return nil, ocpp.TimedOut(), false
	default:
		return nil, ocpp.TransportFailure(res.err.Error()), false
	}
}

// verify checks the response signatures. Failures are reported but leave
// the Result untouched.
func (r *run) verify() {
	canonical, err := r.e.serializer.Canonical(r.action, r.resp)
	if err == nil {
		err = r.e.signer.VerifyResponse(r.req, r.resp, canonical)
	}
	if err == nil {
		return
	}
	r.countSignatureFailure("verify")
	r.span.AddEvent("verification failed", trace.WithAttributes(attribute.String("error", err.Error())))
	r.logger.Warn("response verification failed", "error", err)
	observability.SafeReport(r.e.sink, "exchange", "verify:"+string(r.action), err)
}

func (r *run) countSignatureFailure(stage string) {
	if m := r.e.metrics; m != nil {
		m.SignatureFailures.WithLabelValues(stage, string(r.action)).Inc()
	}
}

// complete finalizes the response header, records the outcome and
// notifies response observers. Observers see the finalized response; the
// header is restored afterwards so they cannot change what the caller gets.
func (r *run) complete(ctx context.Context, result ocpp.Result, elapsed time.Duration) {
	e := r.e
	h := r.resp.Header()
	h.RequestID = r.req.Header().RequestID
	h.Result = result
	h.Runtime = elapsed
	h.ResponseTimestamp = e.now()
	r.enter(StateCompleted)

	code := result.Code.String()
	if m := e.metrics; m != nil {
		m.ExchangeTotal.WithLabelValues(string(r.action), code).Inc()
		m.ExchangeDuration.WithLabelValues(string(r.action), code).Observe(elapsed.Seconds())
	}
	r.span.SetAttributes(attribute.String("ocpp.result", code))
	var spanErr error
	if !result.IsSuccess() {
		spanErr = errors.New(result.String())
	}
	observability.EndSpan(r.span, spanErr)
	r.logger.Debug("exchange completed", "result", code, "runtime", elapsed)

	e.notifier.NotifyResponse(context.WithoutCancel(ctx), events.ResponseEvent{
		Timestamp: h.ResponseTimestamp,
		Sender:    e.nodeID,
		Request:   r.req,
		Response:  r.resp,
		Elapsed:   elapsed,
	})
}
