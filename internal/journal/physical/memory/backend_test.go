package memory

import (
	"context"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/journal/physical/physicaltest"
)

func TestBackend(t *testing.T) {
	physicaltest.Run(t, New(0))
}

func TestEviction(t *testing.T) {
	ctx := context.Background()
	b := New(2)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		if err := b.Put(ctx, physicaltest.Record(id, "Reset", base, time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := b.Get(ctx, "a"); err != physical.ErrNotFound {
		t.Errorf("oldest record kept: %v", err)
	}
	recs, _ := b.List(ctx, physical.ListOptions{})
	if len(recs) != 2 || recs[0].RequestID != "c" {
		t.Errorf("List = %+v", recs)
	}
}

func TestRegistered(t *testing.T) {
	b, err := physical.New(context.Background(), "memory", map[string]string{KeyMaxRecords: "5"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	if _, err := physical.New(context.Background(), "memory", map[string]string{KeyMaxRecords: "-1"}, nil); err == nil {
		t.Error("negative max_records accepted")
	}
	if _, err := physical.New(context.Background(), "tape", nil, nil); err == nil {
		t.Error("unknown backend accepted")
	}
}
