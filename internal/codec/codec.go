// Package codec produces the canonical byte form of OCPP messages that
// signatures are computed over.
//
// The canonical form is the message's JSON payload with the "signatures"
// member removed, object keys sorted, numbers kept verbatim and HTML
// escaping disabled. Per-action field serializers may rewrite top-level
// members before the form is fixed.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// SignaturesField is the payload member excluded from the canonical form.
const SignaturesField = "signatures"

// ErrNotObject is returned when a message does not serialize to a JSON object.
var ErrNotObject = errors.New("message is not a JSON object")

// FieldSerializer rewrites the decoded value of one top-level payload member.
// Returning nil removes the member.
type FieldSerializer func(value any) (any, error)

// Overrides maps top-level payload member names to serializers.
type Overrides map[string]FieldSerializer

// Registry holds field overrides per action.
type Registry struct {
	mu        sync.RWMutex
	overrides map[ocpp.Action]Overrides
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{overrides: make(map[ocpp.Action]Overrides)}
}

// Register sets the field overrides for action, replacing earlier ones.
func (r *Registry) Register(action ocpp.Action, overrides Overrides) {
	cp := make(Overrides, len(overrides))
	for k, v := range overrides {
		cp[k] = v
	}
	r.mu.Lock()
	r.overrides[action] = cp
	r.mu.Unlock()
}

// Canonical returns the canonical form of msg under action's overrides.
func (r *Registry) Canonical(action ocpp.Action, msg any) ([]byte, error) {
	var overrides Overrides
	if r != nil {
		r.mu.RLock()
		overrides = r.overrides[action]
		r.mu.RUnlock()
	}
	return ToWireForm(msg, overrides)
}

// ToWireForm serializes msg canonically, applying overrides.
func ToWireForm(msg any, overrides Overrides) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	delete(obj, SignaturesField)

	for field, fn := range overrides {
		v, present := obj[field]
		if !present {
			continue
		}
		out, err := fn(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		if out == nil {
			delete(obj, field)
			continue
		}
		obj[field] = out
	}

	return encode(obj)
}

// encode writes v with sorted keys and without HTML escaping.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
