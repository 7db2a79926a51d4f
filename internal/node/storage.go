// Package node provides initialization helpers for the networking node.
package node

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"

	"github.com/gezibash/ocpp-node/internal/config"
	"github.com/gezibash/ocpp-node/internal/journal"
	"github.com/gezibash/ocpp-node/internal/journal/physical"
	"github.com/gezibash/ocpp-node/internal/observability"

	// Register journal backends
	_ "github.com/gezibash/ocpp-node/internal/journal/physical/badger"
	_ "github.com/gezibash/ocpp-node/internal/journal/physical/memory"
	_ "github.com/gezibash/ocpp-node/internal/journal/physical/redis"
	_ "github.com/gezibash/ocpp-node/internal/journal/physical/s3"
	_ "github.com/gezibash/ocpp-node/internal/journal/physical/sqlite"
)

// DisabledBackend turns the journal off.
const DisabledBackend = "none"

// NewJournal creates the exchange journal from configuration. File-backed
// backends default to a path under dataDir. It returns nil when the
// journal is disabled.
func NewJournal(ctx context.Context, cfg config.BackendConfig, dataDir string, metrics *observability.Metrics) (*journal.Journal, error) {
	if cfg.Backend == "" || cfg.Backend == DisabledBackend {
		return nil, nil
	}

	opts := make(map[string]string, len(cfg.Config)+1)
	maps.Copy(opts, cfg.Config)
	if opts["path"] == "" {
		switch cfg.Backend {
		case "badger":
			opts["path"] = filepath.Join(dataDir, "journal")
		case "sqlite":
			opts["path"] = filepath.Join(dataDir, "journal.db")
		}
	}

	backend, err := physical.New(ctx, cfg.Backend, opts, metrics)
	if err != nil {
		return nil, fmt.Errorf("create journal backend: %w", err)
	}
	return journal.New(backend, metrics, nil), nil
}
