package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/journal/physical/memory"
	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

func responseEvent(id string, at time.Time, result ocpp.Result) events.ResponseEvent {
	req := &ocpp.ResetRequest{Type: "Immediate"}
	req.RequestID = id
	req.Destination = "cs-1"
	req.RequestTimestamp = at.Add(-time.Second)

	resp := &ocpp.ResetResponse{Status: "Accepted"}
	resp.RequestID = id
	resp.Result = result
	resp.Runtime = time.Second
	resp.ResponseTimestamp = at

	return events.ResponseEvent{
		Timestamp: at,
		Sender:    "nn-1",
		Request:   req,
		Response:  resp,
		Elapsed:   time.Second,
	}
}

func TestNewRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := NewRecord(responseEvent("r-1", at, ocpp.OK()))
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if rec.RequestID != "r-1" || rec.Action != "Reset" || rec.Destination != "cs-1" || rec.Sender != "nn-1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Result != "success" || rec.Runtime != time.Second || !rec.CompletedAt.Equal(at) {
		t.Errorf("record = %+v", rec)
	}
	if string(rec.Request) != `{"type":"Immediate"}` || string(rec.Response) != `{"status":"Accepted"}` {
		t.Errorf("payloads = %s / %s", rec.Request, rec.Response)
	}

	failed, err := NewRecord(responseEvent("r-2", at, ocpp.TimedOut()))
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if failed.Result != "timeout" || failed.Reason == "" || failed.Response != nil {
		t.Errorf("failed record = %+v", failed)
	}

	if _, err := NewRecord(events.ResponseEvent{}); err == nil {
		t.Error("expected error for empty event")
	}
}

func TestAttachRecordsResponses(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(events.Config{Sink: observability.Discard})
	j := New(memory.New(0), observability.NewMetrics(), nil)
	j.Attach(bus)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bus.NotifyResponse(ctx, responseEvent("r-1", base, ocpp.OK()))
	bus.NotifyResponse(ctx, responseEvent("r-2", base.Add(time.Minute), ocpp.Unreachable("cs-1")))

	got, err := j.Get(ctx, "r-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Result != "unknown_or_unreachable" {
		t.Errorf("Result = %q", got.Result)
	}

	recs, err := j.List(ctx, ocpp.ActionReset, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].RequestID != "r-2" {
		t.Errorf("List = %d records", len(recs))
	}

	none, err := j.List(ctx, ocpp.ActionHeartbeat, 0)
	if err != nil || len(none) != 0 {
		t.Errorf("List Heartbeat = %d, %v", len(none), err)
	}
}

func TestObserveFailureReported(t *testing.T) {
	ctx := context.Background()
	var reported []string
	sink := observability.SinkFunc(func(component, operation string, err error) {
		reported = append(reported, component+"/"+operation)
	})
	bus := events.NewBus(events.Config{Sink: sink})

	b := memory.New(0)
	j := New(b, nil, nil)
	j.Attach(bus)
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := j.Observe(ctx, responseEvent("r-1", time.Now(), ocpp.OK()))
	if !errors.Is(err, physical.ErrClosed) {
		t.Fatalf("Observe after close = %v, want ErrClosed", err)
	}

	bus.NotifyResponse(ctx, responseEvent("r-2", time.Now(), ocpp.OK()))
	if len(reported) != 1 || reported[0] != "events/response:Reset" {
		t.Errorf("reported = %v", reported)
	}
}
