// Package routing resolves logical destinations to the channel that
// carries traffic toward them.
package routing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gezibash/ocpp-node/internal/channel"
	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// ErrNoRoute is returned when no channel leads to a destination.
var ErrNoRoute = errors.New("no route to destination")

// RouteMode indicates which resolution path was used.
type RouteMode int

const (
	RouteModeNone     RouteMode = iota
	RouteModeDirect             // upstream counterpart
	RouteModeNeighbor           // adjacent overlay node
	RouteModeOverlay            // multi-hop via a neighbour
)

func (m RouteMode) String() string {
	switch m {
	case RouteModeDirect:
		return "direct"
	case RouteModeNeighbor:
		return "neighbor"
	case RouteModeOverlay:
		return "overlay"
	default:
		return "none"
	}
}

// Resolver picks a channel for each send. The direct counterpart is always
// checked before the overlay table; nothing is cached between calls.
type Resolver struct {
	table *Table

	mu       sync.RWMutex
	directID ocpp.NodeID
	direct   channel.Channel
}

// NewResolver creates a resolver over table whose upstream counterpart is
// directID.
func NewResolver(directID ocpp.NodeID, table *Table) *Resolver {
	if table == nil {
		table = NewTable()
	}
	return &Resolver{table: table, directID: directID}
}

// Table returns the overlay table.
func (r *Resolver) Table() *Table { return r.table }

// DirectID returns the upstream counterpart's id.
func (r *Resolver) DirectID() ocpp.NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.directID
}

// SetDirect installs ch as the upstream link, or clears it when ch is nil.
func (r *Resolver) SetDirect(ch channel.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct = ch
}

// Resolve returns the channel toward dest. The empty destination denotes
// the upstream counterpart.
func (r *Resolver) Resolve(dest ocpp.NodeID) (channel.Channel, RouteMode, error) {
	r.mu.RLock()
	directID, direct := r.directID, r.direct
	r.mu.RUnlock()

	if dest == "" || dest == directID {
		if direct == nil {
			return nil, RouteModeDirect, fmt.Errorf("upstream %q: %w", directID, nodeerrors.ErrNotConnected)
		}
		return direct, RouteModeDirect, nil
	}

	if ch, mode, ok := r.table.lookup(dest); ok {
		return ch, mode, nil
	}
	return nil, RouteModeNone, fmt.Errorf("%w: %q", ErrNoRoute, dest)
}
