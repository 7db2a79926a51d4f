package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/journal/physical/physicaltest"
	"github.com/gezibash/ocpp-node/internal/storage"
)

func newBackend(t *testing.T) physical.Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	b, err := NewFactory(context.Background(), storage.NewOptions("sqlite", Defaults(), map[string]string{KeyPath: path}))
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return b
}

func TestBackend(t *testing.T) {
	physicaltest.Run(t, newBackend(t))
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	opts := storage.NewOptions("sqlite", Defaults(), map[string]string{KeyPath: path})

	b, err := NewFactory(ctx, opts)
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	rec := physicaltest.Record("r-1", "Heartbeat", time.Now(), 0)
	if err := b.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	_ = b.Close()

	b, err = NewFactory(ctx, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	if _, err := b.Get(ctx, "r-1"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	_, err := NewFactory(context.Background(), storage.NewOptions("sqlite", nil, nil))
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}
