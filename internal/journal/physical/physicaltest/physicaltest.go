// Package physicaltest holds the behaviour every journal backend must
// share, run by each backend's tests.
package physicaltest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
)

// Record builds a record completed at base+offset.
func Record(id, action string, base time.Time, offset time.Duration) *physical.Record {
	return &physical.Record{
		RequestID:   id,
		Action:      action,
		Destination: "csms",
		Sender:      "nn-1",
		Result:      "success",
		Runtime:     12 * time.Millisecond,
		RequestedAt: base.Add(offset - 12*time.Millisecond).UTC(),
		CompletedAt: base.Add(offset).UTC(),
		Request:     json.RawMessage(`{"type":"Immediate"}`),
		Response:    json.RawMessage(`{"status":"Accepted"}`),
	}
}

// Run exercises b. b must be empty and is closed at the end.
func Run(t *testing.T, b physical.Backend) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get missing", func(t *testing.T) {
		if _, err := b.Get(ctx, "nope"); !errors.Is(err, physical.ErrNotFound) {
			t.Fatalf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("put get", func(t *testing.T) {
		want := Record("r-1", "Reset", base, 0)
		want.Reason = "ok"
		if err := b.Put(ctx, want); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := b.Get(ctx, "r-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Action != "Reset" || got.Result != "success" || got.Reason != "ok" || got.Runtime != want.Runtime {
			t.Errorf("Get = %+v", got)
		}
		if !got.CompletedAt.Equal(want.CompletedAt) || !got.RequestedAt.Equal(want.RequestedAt) {
			t.Errorf("timestamps = %v / %v", got.RequestedAt, got.CompletedAt)
		}
		if string(got.Response) != `{"status":"Accepted"}` {
			t.Errorf("Response = %s", got.Response)
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		rec := Record("r-1", "Reset", base, 0)
		rec.Result = "timeout"
		if err := b.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := b.Get(ctx, "r-1")
		if err != nil || got.Result != "timeout" {
			t.Fatalf("Get = %+v, %v", got, err)
		}
		all, err := b.List(ctx, physical.ListOptions{})
		if err != nil || len(all) != 1 {
			t.Fatalf("List after replace = %d records, %v", len(all), err)
		}
	})

	t.Run("list newest first", func(t *testing.T) {
		for i := 2; i <= 6; i++ {
			action := "Heartbeat"
			if i%2 == 0 {
				action = "Reset"
			}
			if err := b.Put(ctx, Record(fmt.Sprintf("r-%d", i), action, base, time.Duration(i)*time.Second)); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		all, err := b.List(ctx, physical.ListOptions{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 6 || all[0].RequestID != "r-6" || all[5].RequestID != "r-1" {
			t.Errorf("List order = %v", ids(all))
		}

		resets, err := b.List(ctx, physical.ListOptions{Action: "Reset", Limit: 2})
		if err != nil {
			t.Fatalf("List Reset: %v", err)
		}
		if len(resets) != 2 || resets[0].RequestID != "r-6" || resets[1].RequestID != "r-4" {
			t.Errorf("List Reset = %v", ids(resets))
		}

		none, err := b.List(ctx, physical.ListOptions{Action: "Authorize"})
		if err != nil || len(none) != 0 {
			t.Errorf("List Authorize = %v, %v", ids(none), err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		if err := b.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := b.Put(ctx, Record("r-9", "Reset", base, 0)); !errors.Is(err, physical.ErrClosed) {
			t.Errorf("Put after close = %v, want ErrClosed", err)
		}
	})
}

func ids(recs []*physical.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.RequestID
	}
	return out
}
