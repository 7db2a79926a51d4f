package signing

import (
	"fmt"
	"slices"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// SigningRule selects the keys used to sign matching requests.
type SigningRule struct {
	// Actions limits the rule to these message kinds; empty matches all.
	Actions []ocpp.Action `mapstructure:"actions"`
	// When is an optional CEL condition over action, destination, sender,
	// request_id and event_tracking_id.
	When string `mapstructure:"when"`
	// KeyIDs are the keys that each contribute one signature.
	KeyIDs []string `mapstructure:"key_ids"`
	// Reject, when set, refuses to sign matching requests with this reason.
	Reject string `mapstructure:"reject"`
}

// VerificationRule decides which response signatures are acceptable.
type VerificationRule struct {
	Actions []ocpp.Action `mapstructure:"actions"`
	When    string        `mapstructure:"when"`
	// TrustedKeys limits acceptable key ids; empty accepts any trusted key.
	TrustedKeys []string `mapstructure:"trusted_keys"`
	// RequireSignature fails responses carrying no signatures.
	RequireSignature bool `mapstructure:"require_signature"`
	// AcceptEmbeddedKeys verifies against a signature's embedded public key
	// when its key id is not trusted. TrustedKeys still applies: a key id
	// outside a non-empty list is rejected before the embedded key is used.
	AcceptEmbeddedKeys bool `mapstructure:"accept_embedded_keys"`
}

// Policy is the node's signing and verification rule set. Rules are
// evaluated in order; the first match applies.
type Policy struct {
	Signing      []SigningRule      `mapstructure:"signing"`
	Verification []VerificationRule `mapstructure:"verification"`
}

type compiledSigning struct {
	SigningRule
	cond *condition
}

type compiledVerification struct {
	VerificationRule
	cond *condition
}

// compiledPolicy is an immutable snapshot shared by concurrent exchanges.
type compiledPolicy struct {
	signing      []compiledSigning
	verification []compiledVerification
}

func compilePolicy(p Policy) (*compiledPolicy, error) {
	out := &compiledPolicy{}
	for i, r := range p.Signing {
		if r.Reject == "" && len(r.KeyIDs) == 0 {
			return nil, fmt.Errorf("signing rule %d: needs key_ids or reject", i)
		}
		cond, err := compileCondition(r.When)
		if err != nil {
			return nil, fmt.Errorf("signing rule %d: %w", i, err)
		}
		r.Actions = slices.Clone(r.Actions)
		r.KeyIDs = slices.Clone(r.KeyIDs)
		out.signing = append(out.signing, compiledSigning{SigningRule: r, cond: cond})
	}
	for i, r := range p.Verification {
		cond, err := compileCondition(r.When)
		if err != nil {
			return nil, fmt.Errorf("verification rule %d: %w", i, err)
		}
		r.Actions = slices.Clone(r.Actions)
		r.TrustedKeys = slices.Clone(r.TrustedKeys)
		out.verification = append(out.verification, compiledVerification{VerificationRule: r, cond: cond})
	}
	return out, nil
}

func actionMatches(actions []ocpp.Action, action ocpp.Action) bool {
	return len(actions) == 0 || slices.Contains(actions, action)
}

func (p *compiledPolicy) signingRule(action ocpp.Action, attrs map[string]any) *compiledSigning {
	for i := range p.signing {
		r := &p.signing[i]
		if actionMatches(r.Actions, action) && r.cond.match(attrs) {
			return r
		}
	}
	return nil
}

func (p *compiledPolicy) verificationRule(action ocpp.Action, attrs map[string]any) *compiledVerification {
	for i := range p.verification {
		r := &p.verification[i]
		if actionMatches(r.Actions, action) && r.cond.match(attrs) {
			return r
		}
	}
	return nil
}
