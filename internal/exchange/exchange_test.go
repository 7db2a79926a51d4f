package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gezibash/ocpp-node/internal/channel"
	"github.com/gezibash/ocpp-node/internal/codec"
	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/internal/routing"
	"github.com/gezibash/ocpp-node/internal/signing"
	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/identity/ed25519"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// countingResolver wraps a routing.Resolver and counts calls.
type countingResolver struct {
	inner *routing.Resolver
	calls atomic.Int32
}

func (c *countingResolver) Resolve(dest ocpp.NodeID) (channel.Channel, routing.RouteMode, error) {
	c.calls.Add(1)
	return c.inner.Resolve(dest)
}

type recordingSink struct {
	mu   sync.Mutex
	errs map[string]error
}

func (s *recordingSink) Report(component, operation string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[string]error)
	}
	s.errs[component+"/"+operation] = err
}

func (s *recordingSink) get(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs[key]
}

type harness struct {
	engine   *Engine
	resolver *countingResolver
	signer   *signing.Engine
	bus      *events.Bus
	sink     *recordingSink
	metrics  *observability.Metrics
	sends    atomic.Int32
	last     atomic.Pointer[channel.Outbound]
	csmsKey  *ed25519.Keypair
}

// newHarness builds an engine for node "nn-1" whose upstream "csms" answers
// through reply.
func newHarness(t *testing.T, policy signing.Policy, reply func(ctx context.Context, out *channel.Outbound) (json.RawMessage, error)) *harness {
	t.Helper()
	h := &harness{sink: &recordingSink{}, metrics: observability.NewMetrics()}

	nodeKey, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	h.csmsKey, err = ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	keys := signing.NewKeyStore()
	_ = keys.AddSigner("nn-1-key", nodeKey)
	_ = keys.Trust("csms-key", h.csmsKey.PublicKey())

	h.signer, err = signing.New(signing.Config{NodeID: "nn-1", Keys: keys, Policy: policy})
	if err != nil {
		t.Fatalf("signing.New: %v", err)
	}

	inner := routing.NewResolver("csms", nil)
	inner.SetDirect(&channel.Func{PeerID: "csms", Fn: func(ctx context.Context, out *channel.Outbound) (json.RawMessage, error) {
		h.sends.Add(1)
		h.last.Store(out)
		return reply(ctx, out)
	}})
	h.resolver = &countingResolver{inner: inner}
	h.bus = events.NewBus(events.Config{Sink: h.sink, Metrics: h.metrics})

	h.engine, err = New(Config{
		NodeID:   "nn-1",
		Signer:   h.signer,
		Resolver: h.resolver,
		Notifier: h.bus,
		Sink:     h.sink,
		Metrics:  h.metrics,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

var signAll = signing.Policy{
	Signing:      []signing.SigningRule{{KeyIDs: []string{"nn-1-key"}}},
	Verification: []signing.VerificationRule{{TrustedKeys: []string{"csms-key"}}},
}

func accepted(context.Context, *channel.Outbound) (json.RawMessage, error) {
	time.Sleep(time.Millisecond)
	return json.RawMessage(`{"status":"Accepted"}`), nil
}

// signedReply answers with a payload signed by the csms key over signedOver.
func (h *harness) signedReply(t *testing.T, payload, signedOver string) func(context.Context, *channel.Outbound) (json.RawMessage, error) {
	return func(context.Context, *channel.Outbound) (json.RawMessage, error) {
		sig, err := h.csmsKey.Sign([]byte(signedOver))
		if err != nil {
			t.Error(err)
		}
		var doc map[string]any
		_ = json.Unmarshal([]byte(payload), &doc)
		doc["signatures"] = []ocpp.Signature{{KeyID: "csms-key", Value: identity.EncodeSignature(sig)}}
		return json.Marshal(doc)
	}
}

func resetTo(dest ocpp.NodeID) *ocpp.ResetRequest {
	req := &ocpp.ResetRequest{Type: "Immediate"}
	req.Destination = dest
	return req
}

func TestDirectExchangeSucceeds(t *testing.T) {
	h := newHarness(t, signAll, accepted)

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Result.IsSuccess() {
		t.Fatalf("Result = %v", resp.Result)
	}
	if resp.Status != "Accepted" {
		t.Errorf("Status = %q", resp.Status)
	}
	if resp.Runtime <= 0 {
		t.Errorf("Runtime = %v, want > 0", resp.Runtime)
	}
	if resp.RequestID == "" || resp.ResponseTimestamp.IsZero() {
		t.Errorf("header not finalized: %+v", resp.ResponseHeader)
	}

	out := h.last.Load()
	if out.MessageID != resp.RequestID {
		t.Errorf("message id %q != request id %q", out.MessageID, resp.RequestID)
	}
	var sent ocpp.ResetRequest
	if err := json.Unmarshal(out.Payload, &sent); err != nil {
		t.Fatal(err)
	}
	if len(sent.Signatures) != 1 || sent.Signatures[0].KeyID != "nn-1-key" {
		t.Errorf("dispatched signatures = %+v", sent.Signatures)
	}
	if len(out.NetworkPath) != 1 || out.NetworkPath[0] != "nn-1" {
		t.Errorf("network path = %v", out.NetworkPath)
	}
	if got := testutil.ToFloat64(h.metrics.ExchangeTotal.WithLabelValues("Reset", "success")); got != 1 {
		t.Errorf("exchange total = %v", got)
	}
}

func TestSignatureFailureSkipsRouting(t *testing.T) {
	h := newHarness(t, signing.Policy{Signing: []signing.SigningRule{{Reject: "station keys revoked"}}}, accepted)

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Result.Code != ocpp.ResultSignatureError || resp.Result.Reason != "station keys revoked" {
		t.Errorf("Result = %v", resp.Result)
	}
	if n := h.resolver.calls.Load(); n != 0 {
		t.Errorf("resolver calls = %d, want 0", n)
	}
	if n := h.sends.Load(); n != 0 {
		t.Errorf("channel sends = %d, want 0", n)
	}
	if got := testutil.ToFloat64(h.metrics.SignatureFailures.WithLabelValues("sign", "Reset")); got != 1 {
		t.Errorf("sign failures = %v", got)
	}
}

func TestUnknownDestination(t *testing.T) {
	h := newHarness(t, signAll, accepted)

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("cs-unknown"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Result.Code != ocpp.ResultUnknownOrUnreachable || resp.Result.Destination != "cs-unknown" {
		t.Errorf("Result = %+v", resp.Result)
	}
	if n := h.resolver.calls.Load(); n != 1 {
		t.Errorf("resolver calls = %d, want 1", n)
	}
	if n := h.sends.Load(); n != 0 {
		t.Errorf("channel sends = %d, want 0", n)
	}
}

func TestOverlayRouteCarriesDestination(t *testing.T) {
	h := newHarness(t, signAll, accepted)
	var routed atomic.Pointer[channel.Outbound]
	_ = h.resolver.inner.Table().AddNeighbor(&channel.Func{PeerID: "nn-2", Fn: func(_ context.Context, out *channel.Outbound) (json.RawMessage, error) {
		routed.Store(out)
		return json.RawMessage(`{"status":"Scheduled"}`), nil
	}})
	_ = h.resolver.inner.Table().AddRoute(routing.Route{Destination: "cs-9", Via: "nn-2"})

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("cs-9"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Result.IsSuccess() || resp.Status != "Scheduled" {
		t.Fatalf("resp = %+v", resp)
	}
	if out := routed.Load(); out == nil || out.Destination != "cs-9" {
		t.Errorf("routed outbound = %+v", out)
	}
}

func TestFailureOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		reply   func(context.Context, *channel.Outbound) (json.RawMessage, error)
		timeout time.Duration
		cancel  bool
		want    ocpp.ResultCode
	}{
		{
			name: "call error",
			reply: func(context.Context, *channel.Outbound) (json.RawMessage, error) {
				return nil, &channel.CallError{Code: channel.CodeInternalError, Description: "boom"}
			},
			want: ocpp.ResultTransportError,
		},
		{
			name: "malformed response",
			reply: func(context.Context, *channel.Outbound) (json.RawMessage, error) {
				return json.RawMessage(`[1,2,3]`), nil
			},
			want: ocpp.ResultTransportError,
		},
		{
			name: "timeout honoring context",
			reply: func(ctx context.Context, _ *channel.Outbound) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			timeout: 30 * time.Millisecond,
			want:    ocpp.ResultTimeout,
		},
		{
			name: "caller cancellation",
			reply: func(ctx context.Context, _ *channel.Outbound) (json.RawMessage, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			cancel: true,
			want:   ocpp.ResultCanceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, signAll, tt.reply)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				go func() {
					time.Sleep(20 * time.Millisecond)
					cancel()
				}()
			}
			req := resetTo("csms")
			req.Timeout = tt.timeout

			resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](ctx, h.engine, req)
			if err != nil {
				t.Fatalf("Send: %v", err)
			}
			if resp == nil {
				t.Fatal("nil response")
			}
			if resp.Result.Code != tt.want {
				t.Errorf("Result = %v, want %v", resp.Result, tt.want)
			}
			if resp.RequestID != req.RequestID {
				t.Errorf("response request id %q, want %q", resp.RequestID, req.RequestID)
			}
		})
	}
}

func TestTimeoutWithUnresponsiveChannel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	h := newHarness(t, signAll, func(context.Context, *channel.Outbound) (json.RawMessage, error) {
		<-block
		return nil, errors.New("unreachable")
	})

	req := resetTo("csms")
	req.Timeout = 50 * time.Millisecond
	start := time.Now()
	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Result.Code != ocpp.ResultTimeout {
		t.Fatalf("Result = %v", resp.Result)
	}
	if elapsed := time.Since(start); elapsed > req.Timeout+500*time.Millisecond {
		t.Errorf("timed out after %v", elapsed)
	}
}

func TestCorruptedResponseSignatureStillSucceeds(t *testing.T) {
	h := newHarness(t, signAll, nil)
	// The signature covers a different status than the payload carries.
	reply := h.signedReply(t, `{"status":"Accepted"}`, `{"status":"Rejected"}`)
	h.resolver.inner.SetDirect(&channel.Func{PeerID: "csms", Fn: reply})

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Result.IsSuccess() {
		t.Errorf("Result = %v, want success", resp.Result)
	}
	if resp.Status != "Accepted" {
		t.Errorf("payload altered: %q", resp.Status)
	}
	if err := h.sink.get("exchange/verify:Reset"); !errors.Is(err, signing.ErrBadSignature) {
		t.Errorf("diagnostic = %v, want ErrBadSignature", err)
	}
	if got := testutil.ToFloat64(h.metrics.SignatureFailures.WithLabelValues("verify", "Reset")); got != 1 {
		t.Errorf("verify failures = %v", got)
	}
}

func TestValidResponseSignatureVerifies(t *testing.T) {
	h := newHarness(t, signAll, nil)
	reply := h.signedReply(t, `{"status":"Accepted"}`, `{"status":"Accepted"}`)
	h.resolver.inner.SetDirect(&channel.Func{PeerID: "csms", Fn: reply})

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil || !resp.Result.IsSuccess() {
		t.Fatalf("Send = %v, %v", resp, err)
	}
	if err := h.sink.get("exchange/verify:Reset"); err != nil {
		t.Errorf("unexpected diagnostic: %v", err)
	}
}

func TestResponseObserversCannotAlterResult(t *testing.T) {
	h := newHarness(t, signAll, accepted)

	var seen atomic.Int32
	h.bus.OnResponse(ocpp.ActionReset, func(context.Context, events.ResponseEvent) error {
		panic("observer bug")
	})
	h.bus.OnResponse(ocpp.ActionReset, func(_ context.Context, ev events.ResponseEvent) error {
		ev.Response.Header().Result = ocpp.TransportFailure("tampered")
		return nil
	})
	for i := 0; i < 3; i++ {
		h.bus.OnResponse(events.AnyAction, func(_ context.Context, ev events.ResponseEvent) error {
			if ev.Elapsed > 0 && ev.Sender == "nn-1" {
				seen.Add(1)
			}
			return errors.New("observer failed")
		})
	}

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !resp.Result.IsSuccess() {
		t.Errorf("Result = %v, want success", resp.Result)
	}
	if got := seen.Load(); got != 3 {
		t.Errorf("healthy observers = %d, want 3", got)
	}
	if got := testutil.ToFloat64(h.metrics.ObserverFaults.WithLabelValues("response", "Reset")); got != 4 {
		t.Errorf("observer faults = %v, want 4", got)
	}
}

func TestResponseObserversCannotAlterPayload(t *testing.T) {
	h := newHarness(t, signAll, accepted)

	var observed atomic.Pointer[ocpp.ResetResponse]
	h.bus.OnResponse(ocpp.ActionReset, func(_ context.Context, ev events.ResponseEvent) error {
		rr := ev.Response.(*ocpp.ResetResponse)
		rr.Status = "Rejected"
		rr.Signatures = append(rr.Signatures[:0], ocpp.Signature{KeyID: "forged"})
		return nil
	})
	h.bus.OnResponse(events.AnyAction, func(_ context.Context, ev events.ResponseEvent) error {
		observed.Store(ev.Response.(*ocpp.ResetResponse))
		return nil
	})

	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, resetTo("csms"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Status != "Accepted" {
		t.Errorf("Status = %q, want Accepted", resp.Status)
	}
	for _, s := range resp.Signatures {
		if s.KeyID == "forged" {
			t.Errorf("caller saw observer signature %+v", s)
		}
	}
	seen := observed.Load()
	if seen == nil {
		t.Fatal("observer not called")
	}
	if seen == resp {
		t.Error("observers share the caller's response value")
	}
	if seen.Status != "Accepted" {
		t.Errorf("observer saw another observer's write: Status = %q", seen.Status)
	}
	if seen.RequestID != resp.RequestID || !seen.Result.IsSuccess() {
		t.Errorf("observer header = %+v, want copy of %+v", seen.ResponseHeader, resp.ResponseHeader)
	}
}

// orderSigner records whether request observers ran before signing.
type orderSigner struct {
	notified *atomic.Bool
	ordered  atomic.Bool
}

func (s *orderSigner) SignRequest(ocpp.Request, []byte) error {
	s.ordered.Store(s.notified.Load())
	return nil
}

func (s *orderSigner) VerifyResponse(ocpp.Request, ocpp.Response, []byte) error { return nil }

func TestRequestNotificationPrecedesSigning(t *testing.T) {
	var notified atomic.Bool
	bus := events.NewBus(events.Config{})
	bus.OnRequest(ocpp.ActionReset, func(context.Context, events.RequestEvent) error {
		time.Sleep(10 * time.Millisecond)
		notified.Store(true)
		return nil
	})
	var responded atomic.Bool
	bus.OnResponse(ocpp.ActionReset, func(_ context.Context, ev events.ResponseEvent) error {
		responded.Store(ev.Response.Header().Result.IsSet())
		return nil
	})

	signer := &orderSigner{notified: &notified}
	resolver := routing.NewResolver("csms", nil)
	resolver.SetDirect(&channel.Func{PeerID: "csms", Fn: accepted})
	e, err := New(Config{NodeID: "nn-1", Signer: signer, Resolver: resolver, Notifier: bus})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), e, resetTo("csms")); err != nil {
		t.Fatal(err)
	}
	if !signer.ordered.Load() {
		t.Error("signing began before request observers finished")
	}
	if !responded.Load() {
		t.Error("response observers ran before the result was set")
	}
}

type failingSerializer struct{}

func (failingSerializer) Canonical(ocpp.Action, any) ([]byte, error) {
	return nil, errors.New("unsupported field")
}

func TestSerializationDefectIsAnError(t *testing.T) {
	resolver := routing.NewResolver("csms", nil)
	e, err := New(Config{Resolver: resolver, Serializer: failingSerializer{}})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), e, resetTo("csms"))
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("error = %v, want ErrInternal", err)
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil on defect", resp)
	}

	if err := e.Exchange(context.Background(), (*ocpp.ResetRequest)(nil), &ocpp.ResetResponse{}); !errors.Is(err, ErrInternal) {
		t.Errorf("nil request: %v", err)
	}
}

func TestDirectNotConnected(t *testing.T) {
	e, err := New(Config{Resolver: routing.NewResolver("csms", nil), Serializer: codec.NewRegistry()})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := Send[*ocpp.HeartbeatRequest, ocpp.HeartbeatResponse](context.Background(), e, &ocpp.HeartbeatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Result.Code != ocpp.ResultUnknownOrUnreachable {
		t.Errorf("Result = %v", resp.Result)
	}
}

func TestDefaults(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without resolver")
	}
	e, err := New(Config{Resolver: routing.NewResolver("csms", nil)})
	if err != nil {
		t.Fatal(err)
	}
	if e.DefaultTimeout() != DefaultTimeout {
		t.Errorf("DefaultTimeout = %v", e.DefaultTimeout())
	}
	e, _ = New(Config{Resolver: routing.NewResolver("csms", nil), DefaultTimeout: time.Second})
	if e.DefaultTimeout() != time.Second {
		t.Errorf("configured timeout = %v", e.DefaultTimeout())
	}
}

func TestConcurrentExchanges(t *testing.T) {
	h := newHarness(t, signAll, func(_ context.Context, out *channel.Outbound) (json.RawMessage, error) {
		return json.Marshal(map[string]string{"status": out.MessageID})
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := resetTo("csms")
			resp, err := Send[*ocpp.ResetRequest, ocpp.ResetResponse](context.Background(), h.engine, req)
			if err != nil || !resp.Result.IsSuccess() {
				t.Errorf("Send = %v, %v", resp, err)
				return
			}
			if resp.Status != req.RequestID {
				t.Errorf("response %q correlated to request %q", resp.Status, req.RequestID)
			}
		}()
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	want := []string{"created", "signing", "routing", "awaiting_response", "verifying", "completed"}
	for i, w := range want {
		if got := State(i).String(); got != w {
			t.Errorf("State(%d) = %q, want %q", i, got, w)
		}
	}
}
