package routing

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/gezibash/ocpp-node/internal/channel"
	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Route directs traffic for Destination through neighbour Via.
type Route struct {
	Destination ocpp.NodeID `json:"destination" mapstructure:"destination"`
	Via         ocpp.NodeID `json:"via" mapstructure:"via"`
}

// Table is the overlay topology: channels to neighbouring nodes and
// routes to nodes reachable through them. It is safe for concurrent use.
type Table struct {
	mu        sync.RWMutex
	neighbors map[ocpp.NodeID]channel.Channel
	routes    map[ocpp.NodeID]ocpp.NodeID // destination → via
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		neighbors: make(map[ocpp.NodeID]channel.Channel),
		routes:    make(map[ocpp.NodeID]ocpp.NodeID),
	}
}

// AddNeighbor registers ch as the link to its peer, replacing any
// previous link.
func (t *Table) AddNeighbor(ch channel.Channel) error {
	if ch == nil || ch.Peer() == "" {
		return fmt.Errorf("add neighbor: %w", nodeerrors.ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.neighbors[ch.Peer()] = ch
	return nil
}

// RemoveNeighbor drops the link to id. Routes via id stay but stop
// resolving until the neighbour returns.
func (t *Table) RemoveNeighbor(id ocpp.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.neighbors, id)
}

// Neighbor returns the link to id.
func (t *Table) Neighbor(id ocpp.NodeID) (channel.Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ch, ok := t.neighbors[id]
	return ch, ok
}

// Neighbors returns the ids of all neighbours, sorted.
func (t *Table) Neighbors() []ocpp.NodeID {
	t.mu.RLock()
	ids := make([]ocpp.NodeID, 0, len(t.neighbors))
	for id := range t.neighbors {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// AddRoute sets the next hop for r.Destination.
func (t *Table) AddRoute(r Route) error {
	if r.Destination == "" || r.Via == "" || r.Destination == r.Via {
		return fmt.Errorf("add route %q via %q: %w", r.Destination, r.Via, nodeerrors.ErrInvalidInput)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[r.Destination] = r.Via
	return nil
}

// RemoveRoute drops the route to destination.
func (t *Table) RemoveRoute(destination ocpp.NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.routes, destination)
}

// Routes returns a snapshot of all routes, sorted by destination.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	out := make([]Route, 0, len(t.routes))
	for dest, via := range t.routes {
		out = append(out, Route{Destination: dest, Via: via})
	}
	t.mu.RUnlock()
	slices.SortFunc(out, func(a, b Route) int { return cmp.Compare(a.Destination, b.Destination) })
	return out
}

// lookup finds the channel toward dest: a neighbour first, then a route
// through a neighbour.
func (t *Table) lookup(dest ocpp.NodeID) (channel.Channel, RouteMode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if ch, ok := t.neighbors[dest]; ok {
		return ch, RouteModeNeighbor, true
	}
	if via, ok := t.routes[dest]; ok {
		if ch, ok := t.neighbors[via]; ok {
			return ch, RouteModeOverlay, true
		}
	}
	return nil, RouteModeNone, false
}
