// Package memory provides an in-process journal backend.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/storage"
)

// KeyMaxRecords bounds retained records; the oldest are evicted first.
const KeyMaxRecords = "max_records"

func init() {
	physical.Register("memory", NewFactory, Defaults)
}

// Defaults returns the default options for the memory backend.
func Defaults() map[string]string {
	return map[string]string{KeyMaxRecords: "10000"}
}

// NewFactory creates a memory backend.
func NewFactory(_ context.Context, opts storage.Options) (physical.Backend, error) {
	limit, err := opts.Int(KeyMaxRecords)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, storage.NewConfigError("memory", KeyMaxRecords, "must be non-negative")
	}
	return New(limit), nil
}

// Backend keeps records in a map. A zero limit retains everything.
type Backend struct {
	mu      sync.RWMutex
	records map[string]*physical.Record
	order   []string // insertion order for eviction
	limit   int
	closed  bool
}

// New creates a memory backend retaining at most limit records.
func New(limit int) *Backend {
	return &Backend{records: make(map[string]*physical.Record), limit: limit}
}

func (b *Backend) Put(_ context.Context, rec *physical.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return physical.ErrClosed
	}
	cp := *rec
	if _, exists := b.records[rec.RequestID]; !exists {
		b.order = append(b.order, rec.RequestID)
	}
	b.records[rec.RequestID] = &cp

	for b.limit > 0 && len(b.order) > b.limit {
		delete(b.records, b.order[0])
		b.order = b.order[1:]
	}
	return nil
}

func (b *Backend) Get(_ context.Context, requestID string) (*physical.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, physical.ErrClosed
	}
	rec, ok := b.records[requestID]
	if !ok {
		return nil, physical.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (b *Backend) List(_ context.Context, opts physical.ListOptions) ([]*physical.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, physical.ErrClosed
	}
	out := make([]*physical.Record, 0, len(b.records))
	for _, rec := range b.records {
		if opts.Action != "" && rec.Action != opts.Action {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	slices.SortFunc(out, physical.NewerFirst)
	if limit := opts.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
