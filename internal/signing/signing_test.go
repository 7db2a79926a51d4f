package signing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gezibash/ocpp-node/pkg/identity"
	"github.com/gezibash/ocpp-node/pkg/identity/ed25519"
	"github.com/gezibash/ocpp-node/pkg/identity/secp256k1"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func newEngine(t *testing.T, p Policy) (*Engine, *KeyStore) {
	t.Helper()
	ks := NewKeyStore()
	ed, err := ed25519.FromSeed(make([]byte, ed25519.SeedSize))
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}
	seed := make([]byte, secp256k1.SeedSize)
	seed[31] = 7
	k1, err := secp256k1.FromSeed(seed)
	if err != nil {
		t.Fatalf("secp256k1: %v", err)
	}
	if err := ks.AddSigner("node-ed", ed); err != nil {
		t.Fatal(err)
	}
	if err := ks.AddSigner("node-k1", k1); err != nil {
		t.Fatal(err)
	}
	e, err := New(Config{NodeID: "nn-1", Keys: ks, Policy: p, Now: fixedNow})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, ks
}

func reset(dest ocpp.NodeID) *ocpp.ResetRequest {
	r := &ocpp.ResetRequest{Type: "Immediate"}
	r.Destination = dest
	r.RequestID = "req-1"
	return r
}

func TestSignRequestFirstMatchingRule(t *testing.T) {
	e, _ := newEngine(t, Policy{Signing: []SigningRule{
		{Actions: []ocpp.Action{ocpp.ActionHeartbeat}, KeyIDs: []string{"node-k1"}},
		{KeyIDs: []string{"node-ed", "node-k1"}},
	}})

	req := reset("csms")
	data := []byte(`{"type":"Immediate"}`)
	if err := e.SignRequest(req, data); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if len(req.Signatures) != 2 {
		t.Fatalf("signatures = %d, want 2", len(req.Signatures))
	}
	for _, s := range req.Signatures {
		pub, err := identity.DecodePublicKey(s.PublicKey)
		if err != nil {
			t.Fatalf("decode key: %v", err)
		}
		sig, err := identity.DecodeSignature(s.Value)
		if err != nil {
			t.Fatalf("decode sig: %v", err)
		}
		if !identity.Verify(pub, data, sig) {
			t.Errorf("signature by %s does not verify", s.KeyID)
		}
		if s.Timestamp != 1700000000000 {
			t.Errorf("timestamp = %d", s.Timestamp)
		}
	}
	if req.Type != "Immediate" {
		t.Error("payload modified")
	}

	hb := &ocpp.HeartbeatRequest{}
	if err := e.SignRequest(hb, []byte(`{}`)); err != nil {
		t.Fatalf("SignRequest heartbeat: %v", err)
	}
	if len(hb.Signatures) != 1 || hb.Signatures[0].SigningMethod != "secp256k1" {
		t.Errorf("heartbeat signatures = %+v", hb.Signatures)
	}
}

func TestSignRequestFailures(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   error
		reason string
	}{
		{
			name:   "reject",
			policy: Policy{Signing: []SigningRule{{Reject: "signing disabled for maintenance"}}},
			want:   ErrRejected,
			reason: "signing disabled for maintenance",
		},
		{
			name:   "missing key",
			policy: Policy{Signing: []SigningRule{{KeyIDs: []string{"nope"}}}},
			want:   ErrNoSigningKey,
		},
		{
			name: "condition selects reject",
			policy: Policy{Signing: []SigningRule{
				{When: `destination.startsWith("cs-")`, Reject: "stations are unsigned only"},
				{KeyIDs: []string{"node-ed"}},
			}},
			want:   ErrRejected,
			reason: "stations are unsigned only",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, tt.policy)
			req := reset("cs-9")
			err := e.SignRequest(req, []byte(`{}`))
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if tt.reason != "" && err.Error() != tt.reason {
				t.Errorf("reason = %q, want %q", err.Error(), tt.reason)
			}
			if len(req.Signatures) != 0 {
				t.Error("failed signing left signatures behind")
			}
		})
	}
}

func TestSignRequestNoRuleLeavesUnsigned(t *testing.T) {
	e, _ := newEngine(t, Policy{Signing: []SigningRule{
		{Actions: []ocpp.Action{ocpp.ActionAuthorize}, KeyIDs: []string{"node-ed"}},
	}})
	req := reset("csms")
	if err := e.SignRequest(req, []byte(`{}`)); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}
	if len(req.Signatures) != 0 {
		t.Errorf("signatures = %v", req.Signatures)
	}
}

func signedResponse(t *testing.T, e *Engine, keyID string, data []byte) *ocpp.ResetResponse {
	t.Helper()
	signer, ok := e.Keys().Signer(keyID)
	if !ok {
		t.Fatalf("no signer %s", keyID)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		t.Fatal(err)
	}
	resp := &ocpp.ResetResponse{Status: "Accepted"}
	resp.Signatures = []ocpp.Signature{{
		KeyID:     keyID,
		Value:     identity.EncodeSignature(sig),
		PublicKey: identity.EncodePublicKey(signer.PublicKey()),
	}}
	return resp
}

func TestVerifyResponse(t *testing.T) {
	data := []byte(`{"status":"Accepted"}`)
	stranger, err := ed25519.Generate()
	if err != nil {
		t.Fatal(err)
	}
	strangerSig, _ := stranger.Sign(data)
	strangerResp := func() ocpp.Response {
		r := &ocpp.ResetResponse{Status: "Accepted"}
		r.Signatures = []ocpp.Signature{{
			KeyID:     "stranger",
			Value:     identity.EncodeSignature(strangerSig),
			PublicKey: identity.EncodePublicKey(stranger.PublicKey()),
		}}
		return r
	}

	tests := []struct {
		name   string
		policy Policy
		resp   func(e *Engine) ocpp.Response
		want   error
	}{
		{
			name:   "no rule accepts anything",
			policy: Policy{},
			resp:   func(*Engine) ocpp.Response { return strangerResp() },
		},
		{
			name:   "trusted key",
			policy: Policy{Verification: []VerificationRule{{}}},
			resp:   func(e *Engine) ocpp.Response { return signedResponse(t, e, "node-k1", data) },
		},
		{
			name:   "key outside trusted list",
			policy: Policy{Verification: []VerificationRule{{TrustedKeys: []string{"node-ed"}}}},
			resp:   func(e *Engine) ocpp.Response { return signedResponse(t, e, "node-k1", data) },
			want:   ErrUntrustedKey,
		},
		{
			name:   "unknown key",
			policy: Policy{Verification: []VerificationRule{{}}},
			resp:   func(*Engine) ocpp.Response { return strangerResp() },
			want:   ErrUntrustedKey,
		},
		{
			name:   "embedded key accepted",
			policy: Policy{Verification: []VerificationRule{{AcceptEmbeddedKeys: true}}},
			resp:   func(*Engine) ocpp.Response { return strangerResp() },
		},
		{
			name:   "embedded key outside trusted list",
			policy: Policy{Verification: []VerificationRule{{TrustedKeys: []string{"node-ed"}, AcceptEmbeddedKeys: true}}},
			resp:   func(*Engine) ocpp.Response { return strangerResp() },
			want:   ErrUntrustedKey,
		},
		{
			name:   "embedded key inside trusted list",
			policy: Policy{Verification: []VerificationRule{{TrustedKeys: []string{"stranger"}, AcceptEmbeddedKeys: true}}},
			resp:   func(*Engine) ocpp.Response { return strangerResp() },
		},
		{
			name:   "unsigned allowed",
			policy: Policy{Verification: []VerificationRule{{}}},
			resp:   func(*Engine) ocpp.Response { return &ocpp.ResetResponse{} },
		},
		{
			name:   "unsigned required",
			policy: Policy{Verification: []VerificationRule{{RequireSignature: true}}},
			resp:   func(*Engine) ocpp.Response { return &ocpp.ResetResponse{} },
			want:   ErrMissingSignature,
		},
		{
			name:   "corrupted signature",
			policy: Policy{Verification: []VerificationRule{{}}},
			resp: func(e *Engine) ocpp.Response {
				r := signedResponse(t, e, "node-ed", []byte(`{"status":"Rejected"}`))
				return r
			},
			want: ErrBadSignature,
		},
		{
			name:   "garbage signature",
			policy: Policy{Verification: []VerificationRule{{}}},
			resp: func(e *Engine) ocpp.Response {
				r := signedResponse(t, e, "node-ed", data)
				r.Signatures[0].Value = "ed25519:zz"
				return r
			},
			want: ErrBadSignature,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newEngine(t, tt.policy)
			err := e.VerifyResponse(reset("csms"), tt.resp(e), data)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("VerifyResponse: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPolicyCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
	}{
		{"empty signing rule", Policy{Signing: []SigningRule{{}}}},
		{"bad cel", Policy{Signing: []SigningRule{{When: `action ==`, KeyIDs: []string{"k"}}}}},
		{"non-bool cel", Policy{Verification: []VerificationRule{{When: `action + "x"`}}}},
		{"unknown variable", Policy{Verification: []VerificationRule{{When: `region == "eu"`}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Config{Policy: tt.policy}); err == nil {
				t.Fatal("expected compile error")
			}
		})
	}
}

func TestSetPolicyKeepsActiveOnError(t *testing.T) {
	e, _ := newEngine(t, Policy{Signing: []SigningRule{{Reject: "closed"}}})
	if err := e.SetPolicy(Policy{Signing: []SigningRule{{When: "(("}}}); err == nil {
		t.Fatal("expected error")
	}
	if err := e.SignRequest(reset("csms"), nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("active policy lost: %v", err)
	}

	if err := e.SetPolicy(Policy{}); err != nil {
		t.Fatal(err)
	}
	if err := e.SignRequest(reset("csms"), nil); err != nil {
		t.Fatalf("after swap: %v", err)
	}
}

func TestConcurrentSignAndSwap(t *testing.T) {
	e, _ := newEngine(t, Policy{Signing: []SigningRule{{KeyIDs: []string{"node-ed"}}}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				req := reset("csms")
				if err := e.SignRequest(req, []byte(`{}`)); err != nil {
					t.Errorf("SignRequest: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_ = e.SetPolicy(Policy{Signing: []SigningRule{{KeyIDs: []string{"node-ed"}}}})
	}
	wg.Wait()
}

func TestKeyStore(t *testing.T) {
	ks := NewKeyStore()
	if err := ks.AddSigner("", nil); err == nil {
		t.Error("expected error for empty signer")
	}
	if err := ks.Trust("x", identity.PublicKey{}); err == nil {
		t.Error("expected error for zero key")
	}
	kp, _ := ed25519.Generate()
	_ = ks.AddSigner("b", kp)
	_ = ks.AddSigner("a", kp)
	if got := ks.SignerIDs(); len(got) != 2 || got[0] != "a" {
		t.Errorf("SignerIDs = %v", got)
	}
	if _, ok := ks.Trusted("a"); !ok {
		t.Error("signer key not trusted")
	}
	ks.Remove("a")
	if _, ok := ks.Signer("a"); ok {
		t.Error("removed signer still present")
	}
}
