// Package signing implements the node's signature engine: it signs
// outgoing requests and verifies incoming responses according to an
// atomically swappable policy.
//
// Signing failures are fatal to an exchange. Verification failures are
// returned to the caller, which decides what to do with them; the exchange
// engine reports them without downgrading the response.
package signing

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

var (
	// ErrRejected marks requests refused by a signing rule.
	ErrRejected = errors.New("rejected by signing policy")
	// ErrNoSigningKey is returned when a rule names a key the store lacks.
	ErrNoSigningKey = errors.New("signing key not available")
	// ErrMissingSignature is returned when a response must be signed but is not.
	ErrMissingSignature = errors.New("response carries no signature")
	// ErrUntrustedKey is returned for signatures from keys the policy does not accept.
	ErrUntrustedKey = errors.New("signature key not trusted")
	// ErrBadSignature is returned when a signature does not match the payload.
	ErrBadSignature = errors.New("signature does not verify")
)

// RejectedError carries the reason configured on a rejecting rule.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return e.Reason }

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Config configures an Engine.
type Config struct {
	// NodeID is exposed to rule conditions as "sender".
	NodeID ocpp.NodeID
	Keys   *KeyStore
	Policy Policy
	Logger *slog.Logger
	// Now stamps signatures; defaults to time.Now.
	Now func() time.Time
}

// Engine signs and verifies messages. It is safe for concurrent use.
type Engine struct {
	nodeID ocpp.NodeID
	keys   *KeyStore
	policy atomic.Pointer[compiledPolicy]
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine with cfg's policy.
func New(cfg Config) (*Engine, error) {
	e := &Engine{
		nodeID: cfg.NodeID,
		keys:   cfg.Keys,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if e.keys == nil {
		e.keys = NewKeyStore()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "signing")
	if e.now == nil {
		e.now = time.Now
	}
	if err := e.SetPolicy(cfg.Policy); err != nil {
		return nil, err
	}
	return e, nil
}

// Keys returns the engine's key store.
func (e *Engine) Keys() *KeyStore { return e.keys }

// SetPolicy compiles p and makes it active for exchanges that start
// signing or verification afterwards. On error the active policy is kept.
func (e *Engine) SetPolicy(p Policy) error {
	compiled, err := compilePolicy(p)
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}
	e.policy.Store(compiled)
	e.logger.Debug("policy updated", "signing_rules", len(p.Signing), "verification_rules", len(p.Verification))
	return nil
}

func (e *Engine) attrs(req ocpp.Request) map[string]any {
	h := req.Header()
	return map[string]any{
		"action":            string(req.Action()),
		"destination":       string(h.Destination),
		"sender":            string(e.nodeID),
		"request_id":        h.RequestID,
		"event_tracking_id": h.EventTrackingID,
	}
}

// SignRequest signs data, the canonical form of req, under the first
// matching signing rule and appends the signatures to req. The payload is
// never modified. A nil error with no matching rule leaves req unsigned.
func (e *Engine) SignRequest(req ocpp.Request, data []byte) error {
	policy := e.policy.Load()
	rule := policy.signingRule(req.Action(), e.attrs(req))
	if rule == nil {
		return nil
	}
	if rule.Reject != "" {
		return &RejectedError{Reason: rule.Reject}
	}

	sigs := make([]ocpp.Signature, 0, len(rule.KeyIDs))
	ts := e.now().UnixMilli()
	for _, keyID := range rule.KeyIDs {
		signer, ok := e.keys.Signer(keyID)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoSigningKey, keyID)
		}
		sig, err := signer.Sign(data)
		if err != nil {
			return fmt.Errorf("sign with %q: %w", keyID, err)
		}
		sigs = append(sigs, ocpp.Signature{
			KeyID:         keyID,
			Value:         identity.EncodeSignature(sig),
			PublicKey:     identity.EncodePublicKey(signer.PublicKey()),
			SigningMethod: string(signer.Algorithm()),
			Timestamp:     ts,
		})
	}

	h := req.Header()
	h.Signatures = append(h.Signatures, sigs...)
	return nil
}

// VerifyResponse checks resp's signatures over data, its canonical form,
// under the first verification rule matching req. With no matching rule
// the response is accepted as is.
func (e *Engine) VerifyResponse(req ocpp.Request, resp ocpp.Response, data []byte) error {
	policy := e.policy.Load()
	rule := policy.verificationRule(req.Action(), e.attrs(req))
	if rule == nil {
		return nil
	}

	sigs := resp.Header().Signatures
	if len(sigs) == 0 {
		if rule.RequireSignature {
			return ErrMissingSignature
		}
		return nil
	}

	for _, s := range sigs {
		pub, err := e.verificationKey(rule, s)
		if err != nil {
			return err
		}
		sig, err := identity.DecodeSignature(s.Value)
		if err != nil {
			return fmt.Errorf("%w: key %q: %v", ErrBadSignature, s.KeyID, err)
		}
		if !identity.Verify(pub, data, sig) {
			return fmt.Errorf("%w: key %q", ErrBadSignature, s.KeyID)
		}
	}
	return nil
}

func (e *Engine) verificationKey(rule *compiledVerification, s ocpp.Signature) (identity.PublicKey, error) {
	if len(rule.TrustedKeys) > 0 && !slices.Contains(rule.TrustedKeys, s.KeyID) {
		return identity.PublicKey{}, fmt.Errorf("%w: %q not allowed by rule", ErrUntrustedKey, s.KeyID)
	}
	if pub, ok := e.keys.Trusted(s.KeyID); ok {
		return pub, nil
	}
	if rule.AcceptEmbeddedKeys && s.PublicKey != "" {
		pub, err := identity.DecodePublicKey(s.PublicKey)
		if err != nil {
			return identity.PublicKey{}, fmt.Errorf("%w: key %q: %v", ErrUntrustedKey, s.KeyID, err)
		}
		return pub, nil
	}
	return identity.PublicKey{}, fmt.Errorf("%w: %q", ErrUntrustedKey, s.KeyID)
}
