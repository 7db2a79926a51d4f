// Package events is the node's notification bus. Observers subscribe per
// message kind to "request about to be sent" and "response received"
// events; notification runs them concurrently and waits for all of them.
// An observer that fails or panics is reported and never affects the
// exchange or the other observers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gezibash/ocpp-node/internal/observability"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// AnyAction subscribes an observer to every message kind.
const AnyAction ocpp.Action = "*"

// ErrObserverPanic wraps the value recovered from a panicking observer.
var ErrObserverPanic = errors.New("observer panicked")

// RequestEvent describes a request about to be signed and sent.
type RequestEvent struct {
	Timestamp time.Time
	Sender    ocpp.NodeID
	Request   ocpp.Request
}

// ResponseEvent describes a completed exchange.
type ResponseEvent struct {
	Timestamp time.Time
	Sender    ocpp.NodeID
	Request   ocpp.Request
	Response  ocpp.Response
	Elapsed   time.Duration
}

type RequestObserver func(ctx context.Context, ev RequestEvent) error

type ResponseObserver func(ctx context.Context, ev ResponseEvent) error

// Config configures a Bus. All fields are optional.
type Config struct {
	Sink    observability.DiagnosticSink
	Metrics *observability.Metrics
	Logger  *slog.Logger
	// MaxConcurrency bounds observers running at once per notification;
	// zero means unbounded.
	MaxConcurrency int
}

// Bus holds observer registrations. Registration is append-only and may
// happen concurrently with notification.
type Bus struct {
	mu        sync.RWMutex
	requests  map[ocpp.Action][]RequestObserver
	responses map[ocpp.Action][]ResponseObserver

	sink    observability.DiagnosticSink
	metrics *observability.Metrics
	logger  *slog.Logger
	limit   int
}

// NewBus creates an empty bus.
func NewBus(cfg Config) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		requests:  make(map[ocpp.Action][]RequestObserver),
		responses: make(map[ocpp.Action][]ResponseObserver),
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "events"),
		limit:     cfg.MaxConcurrency,
	}
}

// OnRequest registers fn for requests of action.
func (b *Bus) OnRequest(action ocpp.Action, fn RequestObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[action] = append(b.requests[action], fn)
}

// OnResponse registers fn for responses to requests of action.
func (b *Bus) OnResponse(action ocpp.Action, fn ResponseObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[action] = append(b.responses[action], fn)
}

// RequestObservers returns how many observers would see a request of action.
func (b *Bus) RequestObservers(action ocpp.Action) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.requests[action]) + len(b.requests[AnyAction])
}

// ResponseObservers returns how many observers would see a response to action.
func (b *Bus) ResponseObservers(action ocpp.Action) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.responses[action]) + len(b.responses[AnyAction])
}

// snapshot copies the observers for action so registration during
// fan-out cannot disturb it.
func snapshot[T any](mu *sync.RWMutex, m map[ocpp.Action][]T, action ocpp.Action) []T {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]T, 0, len(m[action])+len(m[AnyAction]))
	out = append(out, m[action]...)
	if action != AnyAction {
		out = append(out, m[AnyAction]...)
	}
	return out
}

// NotifyRequest runs every request observer for ev's action and returns
// once all have finished.
func (b *Bus) NotifyRequest(ctx context.Context, ev RequestEvent) {
	action := ev.Request.Action()
	observers := snapshot(&b.mu, b.requests, action)
	b.fanOut(len(observers), "request", action, func(i int) error {
		return observers[i](ctx, ev)
	})
}

// NotifyResponse runs every response observer for ev's action and returns
// once all have finished. Each observer gets its own deep copy of the
// response, so none of them can reach the caller's value or each other's.
func (b *Bus) NotifyResponse(ctx context.Context, ev ResponseEvent) {
	action := ev.Request.Action()
	observers := snapshot(&b.mu, b.responses, action)
	copies := make([]ResponseEvent, len(observers))
	for i := range copies {
		copies[i] = ev
		copies[i].Response = b.copyResponse(ev.Response, action)
	}
	b.fanOut(len(observers), "response", action, func(i int) error {
		return observers[i](ctx, copies[i])
	})
}

func (b *Bus) copyResponse(resp ocpp.Response, action ocpp.Action) ocpp.Response {
	if resp == nil {
		return nil
	}
	t := reflect.TypeOf(resp)
	if t.Kind() != reflect.Pointer {
		return resp
	}
	cp, ok := reflect.New(t.Elem()).Interface().(ocpp.Response)
	if !ok {
		return resp
	}
	data, err := json.Marshal(resp)
	if err == nil {
		err = json.Unmarshal(data, cp)
	}
	if err != nil {
		observability.SafeReport(b.sink, "events", "copy:"+string(action), err)
	}
	*cp.Header() = resp.Header().Clone()
	return cp
}

func (b *Bus) fanOut(n int, event string, action ocpp.Action, call func(i int) error) {
	if n == 0 {
		return
	}
	var g errgroup.Group
	if b.limit > 0 {
		g.SetLimit(b.limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := b.invoke(i, call); err != nil {
				b.fault(event, action, err)
			}
			// Faults never propagate to the group.
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Bus) invoke(i int, call func(int) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrObserverPanic, r)
			b.logger.Debug("observer stack", "stack", string(debug.Stack()))
		}
	}()
	return call(i)
}

func (b *Bus) fault(event string, action ocpp.Action, err error) {
	b.logger.Warn("observer failed", "event", event, "action", action, "error", err)
	if b.metrics != nil {
		b.metrics.ObserverFaults.WithLabelValues(event, string(action)).Inc()
	}
	observability.SafeReport(b.sink, "events", event+":"+string(action), err)
}
