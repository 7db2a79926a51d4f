package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		wire  string
	}{
		{
			name:  "call",
			frame: Frame{Type: TypeCall, ID: "1", Action: "Reset", Payload: json.RawMessage(`{"type":"Immediate"}`)},
			wire:  `[2,"1","Reset",{"type":"Immediate"}]`,
		},
		{
			name: "routed call",
			frame: Frame{Type: TypeCall, ID: "2", Action: "Reset", Payload: json.RawMessage(`{}`),
				Route: &RouteInfo{Destination: "cs-7", NetworkPath: []ocpp.NodeID{"nn-1"}}},
			wire: `[2,"2","Reset",{},{"destination":"cs-7","networkPath":["nn-1"]}]`,
		},
		{
			name:  "result",
			frame: Frame{Type: TypeCallResult, ID: "3", Payload: json.RawMessage(`{"status":"Accepted"}`)},
			wire:  `[3,"3",{"status":"Accepted"}]`,
		},
		{
			name:  "error",
			frame: Frame{Type: TypeCallError, ID: "4", ErrorCode: CodeNotImplemented, ErrorDescription: "nope", ErrorDetails: json.RawMessage(`{}`)},
			wire:  `[4,"4","NotImplemented","nope",{}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.frame)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.wire {
				t.Errorf("wire = %s, want %s", data, tt.wire)
			}
			var back Frame
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.Type != tt.frame.Type || back.ID != tt.frame.ID || back.Action != tt.frame.Action {
				t.Errorf("decoded = %+v", back)
			}
			if (back.Route == nil) != (tt.frame.Route == nil) {
				t.Errorf("route = %+v", back.Route)
			}
		})
	}
}

func TestFrameRejectsMalformed(t *testing.T) {
	for _, wire := range []string{
		`{}`,
		`[2,"1"]`,
		`[2,"1","Reset"]`,
		`[3,"1",{},{}]`,
		`[4,"1","X"]`,
		`[9,"1",{}]`,
		`["2","1",{}]`,
	} {
		var f Frame
		if err := json.Unmarshal([]byte(wire), &f); !errors.Is(err, ErrMalformedFrame) {
			t.Errorf("%s: error = %v, want ErrMalformedFrame", wire, err)
		}
	}
}

func TestCallFrameRouting(t *testing.T) {
	out := &Outbound{MessageID: "1", Action: "Reset", Destination: "cs-1", NetworkPath: []ocpp.NodeID{"nn-1"}}
	if f := CallFrame(out, "cs-1"); f.Route != nil {
		t.Error("adjacent destination got a route element")
	}
	f := CallFrame(out, "nn-2")
	if f.Route == nil || f.Route.Destination != "cs-1" {
		t.Errorf("route = %+v", f.Route)
	}
}

// testServer accepts one connection and hands its channel to the test.
func testServer(t *testing.T, subprotocols []string, handler InboundHandler) (string, <-chan *WebSocket) {
	t.Helper()
	accepted := make(chan *WebSocket, 1)
	upgrader := websocket.Upgrader{Subprotocols: subprotocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebSocket("nn-1", conn, handler, nil)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), accepted
}

func dial(t *testing.T, url string) *WebSocket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ws, err := Dial(ctx, WebSocketConfig{Peer: "csms", URL: url})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestWebSocketSend(t *testing.T) {
	routes := make(chan *RouteInfo, 1)
	url, _ := testServer(t, []string{"ocpp2.0.1"}, func(_ context.Context, f Frame) (json.RawMessage, error) {
		routes <- f.Route
		switch f.Action {
		case "Reset":
			return json.RawMessage(`{"status":"Accepted"}`), nil
		default:
			return nil, &CallError{Code: CodeNotSupported, Description: "unsupported"}
		}
	})
	ws := dial(t, url)
	ctx := context.Background()

	got, err := ws.Send(ctx, &Outbound{Action: "Reset", Destination: "csms", Payload: json.RawMessage(`{"type":"Immediate"}`)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if string(got) != `{"status":"Accepted"}` {
		t.Errorf("payload = %s", got)
	}
	if r := <-routes; r != nil {
		t.Errorf("direct send carried route %+v", r)
	}

	_, err = ws.Send(ctx, &Outbound{Action: "Heartbeat", Destination: "cs-3", NetworkPath: []ocpp.NodeID{"nn-0"}, Payload: json.RawMessage(`{}`)})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Code != CodeNotSupported {
		t.Fatalf("error = %v, want CallError NotSupported", err)
	}
	if r := <-routes; r == nil || r.Destination != "cs-3" {
		t.Errorf("routed send route = %+v", r)
	}
}

func TestWebSocketSendContextDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	url, _ := testServer(t, []string{"ocpp2.0.1"}, func(context.Context, Frame) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})
	ws := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ws.Send(ctx, &Outbound{Action: "Reset", Payload: json.RawMessage(`{}`)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestWebSocketCloseFailsPending(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	url, _ := testServer(t, []string{"ocpp2.0.1"}, func(context.Context, Frame) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})
	ws := dial(t, url)

	errc := make(chan error, 1)
	go func() {
		_, err := ws.Send(context.Background(), &Outbound{Action: "Reset", Payload: json.RawMessage(`{}`)})
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	_ = ws.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, nodeerrors.ErrClosed) {
			t.Fatalf("error = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending send not failed on close")
	}

	if _, err := ws.Send(context.Background(), &Outbound{Action: "Reset"}); !errors.Is(err, nodeerrors.ErrClosed) {
		t.Errorf("send after close = %v", err)
	}
}

func TestWebSocketInboundNotImplemented(t *testing.T) {
	url, accepted := testServer(t, []string{"ocpp2.0.1"}, nil)
	_ = dial(t, url)
	server := <-accepted
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := server.Send(ctx, &Outbound{Action: "GetVariables", Payload: json.RawMessage(`{}`)})
	var ce *CallError
	if !errors.As(err, &ce) || ce.Code != CodeNotImplemented {
		t.Fatalf("error = %v, want NotImplemented", err)
	}
}

func TestDialRequiresSubprotocol(t *testing.T) {
	url, _ := testServer(t, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Dial(ctx, WebSocketConfig{Peer: "csms", URL: url}); err == nil {
		t.Fatal("expected error without negotiated subprotocol")
	}
}

func TestFuncChannel(t *testing.T) {
	ch := &Func{PeerID: "csms", Fn: func(_ context.Context, out *Outbound) (json.RawMessage, error) {
		return json.RawMessage(`{"echo":"` + string(out.Action) + `"}`), nil
	}}
	got, err := ch.Send(context.Background(), &Outbound{Action: "Heartbeat"})
	if err != nil || string(got) != `{"echo":"Heartbeat"}` || ch.Peer() != "csms" {
		t.Errorf("Send = %s, %v", got, err)
	}
}
