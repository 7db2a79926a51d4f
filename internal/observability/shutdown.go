package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownCoordinator closes components in reverse registration order, so
// a channel registered after the journal closes before it. The zero value
// is ready to use.
type ShutdownCoordinator struct {
	// Logger receives per-component close logs; nil uses slog.Default.
	Logger *slog.Logger

	mu      sync.Mutex
	closers []closer
	closed  bool
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Register adds fn under name.
func (s *ShutdownCoordinator) Register(name string, fn func(context.Context) error) {
	s.mu.Lock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
	s.mu.Unlock()
}

// Shutdown runs every registered closer once and joins their errors. Only
// the first call does any work.
func (s *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		start := time.Now()
		err := c.fn(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "close failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		logger.DebugContext(ctx, "closed", "component", c.name, "took", time.Since(start))
	}
	return errors.Join(errs...)
}
