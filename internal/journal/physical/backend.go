// Package physical defines the storage interface behind the exchange
// journal and a registry of named backend implementations.
package physical

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("record not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// Record is one completed exchange.
type Record struct {
	RequestID   string          `json:"request_id"`
	Action      string          `json:"action"`
	Destination string          `json:"destination,omitempty"`
	Sender      string          `json:"sender,omitempty"`
	Result      string          `json:"result"`
	Reason      string          `json:"reason,omitempty"`
	Runtime     time.Duration   `json:"runtime"`
	RequestedAt time.Time       `json:"requested_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Request     json.RawMessage `json:"request,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
}

// ListOptions filters List. Records are returned newest first.
type ListOptions struct {
	// Action restricts results to one message kind; empty lists all.
	Action string
	// Limit caps the result count; zero selects DefaultListLimit.
	Limit int
}

// EffectiveLimit returns the limit to apply.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Backend stores journal records. All implementations must be safe for
// concurrent use. Put replaces a record with the same RequestID.
type Backend interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, requestID string) (*Record, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	Close() error
}

// NewerFirst orders records by completion time, newest first, breaking
// ties by request id.
func NewerFirst(a, b *Record) int {
	if c := b.CompletedAt.Compare(a.CompletedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.RequestID, b.RequestID)
}
