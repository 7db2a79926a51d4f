package physical

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/internal/storage"
)

// Factory creates a backend from its merged options.
type Factory func(ctx context.Context, opts storage.Options) (Backend, error)

// DefaultsFunc returns the default options for a backend.
type DefaultsFunc func() map[string]string

type backendEntry struct {
	factory  Factory
	defaults DefaultsFunc
}

var (
	backends   = make(map[string]backendEntry)
	backendsMu sync.RWMutex
)

// Register makes a backend available by name. It panics on duplicates.
func Register(name string, factory Factory, defaults DefaultsFunc) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, exists := backends[name]; exists {
		panic(fmt.Sprintf("journal backend %q already registered", name))
	}
	backends[name] = backendEntry{factory: factory, defaults: defaults}
}

// GetDefaults returns the default options for a backend.
func GetDefaults(name string) map[string]string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	entry, ok := backends[name]
	if !ok || entry.defaults == nil {
		return nil
	}
	return entry.defaults()
}

// ListBackends returns the names of all registered backends.
func ListBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether name is a registered backend.
func IsRegistered(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// New creates the named backend with config laid over its defaults.
func New(ctx context.Context, name string, config map[string]string, metrics *observability.Metrics) (_ Backend, err error) {
	op, ctx := observability.StartOperation(ctx, metrics, "journal.physical.new")
	defer func() { op.End(err) }()

	backendsMu.RLock()
	entry, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, storage.NewConfigError(name, "", fmt.Sprintf("unknown journal backend %q (available: %v)", name, ListBackends()))
	}

	var defaults map[string]string
	if entry.defaults != nil {
		defaults = entry.defaults()
	}
	backend, err := entry.factory(ctx, storage.NewOptions(name, defaults, config))
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "journal backend created", "component", "journal", "backend", name)
	return backend, nil
}
