package ocpp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestResultConstructors(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		code   ResultCode
		want   string
	}{
		{"ok", OK(), ResultSuccess, "success"},
		{"signature", SignatureFailure("no key"), ResultSignatureError, "signature_error: no key"},
		{"unreachable", Unreachable("cs-1"), ResultUnknownOrUnreachable, `unknown_or_unreachable: no route to "cs-1"`},
		{"transport", TransportFailure("eof"), ResultTransportError, "transport_error: eof"},
		{"timeout", TimedOut(), ResultTimeout, "timeout: no response before deadline"},
		{"canceled", Canceled("context canceled"), ResultCanceled, "canceled: context canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.result.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.result.Code, tt.code)
			}
			if got := tt.result.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if !tt.result.IsSet() {
				t.Error("constructed result reports unset")
			}
			if tt.result.IsSuccess() != (tt.code == ResultSuccess) {
				t.Error("IsSuccess mismatch")
			}
		})
	}

	if (Result{}).IsSet() {
		t.Error("zero result reports set")
	}
	if got := Unreachable("cs-1").Destination; got != "cs-1" {
		t.Errorf("Destination = %q", got)
	}
}

func TestHeaderFieldsStayOutOfPayload(t *testing.T) {
	req := &ResetRequest{Type: "Immediate"}
	req.RequestID = "req-1"
	req.Destination = "cs-1"
	req.EventTrackingID = "evt-1"

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, leaked := range []string{"req-1", "cs-1", "evt-1"} {
		if strings.Contains(string(data), leaked) {
			t.Errorf("payload %s leaks header value %q", data, leaked)
		}
	}

	req.Signatures = []Signature{{KeyID: "k1", Value: "ed25519:00"}}
	data, _ = json.Marshal(req)
	if !strings.Contains(string(data), `"signatures"`) {
		t.Errorf("payload %s should carry signatures", data)
	}
}

func TestDefinitions(t *testing.T) {
	actions := Actions()
	if len(actions) != 10 {
		t.Fatalf("Actions() = %d entries, want 10", len(actions))
	}
	for _, a := range actions {
		d, ok := Lookup(a)
		if !ok {
			t.Fatalf("Lookup(%q) missing", a)
		}
		req := d.NewRequest()
		if req.Action() != a {
			t.Errorf("NewRequest().Action() = %q, want %q", req.Action(), a)
		}
		if req.Header() == nil || d.NewResponse().Header() == nil {
			t.Errorf("%s: nil header", a)
		}
	}
	if _, ok := Lookup("Nope"); ok {
		t.Error("Lookup of unknown action succeeded")
	}
}

func TestResponseHeaderClone(t *testing.T) {
	h := ResponseHeader{Result: OK(), Signatures: []Signature{{KeyID: "a"}}}
	c := h.Clone()
	c.Signatures[0].KeyID = "b"
	if h.Signatures[0].KeyID != "a" {
		t.Error("Clone shares signature slice")
	}
}
