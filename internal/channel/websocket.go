package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	nodeerrors "github.com/gezibash/ocpp-node/pkg/errors"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Subprotocols offered when dialing, most preferred first.
var DefaultSubprotocols = []string{"ocpp2.1", "ocpp2.0.1"}

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
)

// InboundHandler answers Calls received from the peer. Returning a
// *CallError sends that error frame; any other error is sent as
// InternalError.
type InboundHandler func(ctx context.Context, f Frame) (json.RawMessage, error)

// WebSocketConfig configures a dialed WebSocket channel.
type WebSocketConfig struct {
	Peer             ocpp.NodeID
	URL              string
	Subprotocols     []string
	HandshakeTimeout time.Duration
	Header           http.Header
	Handler          InboundHandler
	Logger           *slog.Logger
}

type reply struct {
	payload json.RawMessage
	err     error
}

// WebSocket is an OCPP-J channel over a single WebSocket connection.
// Responses are correlated to pending Sends by message id.
type WebSocket struct {
	peer    ocpp.NodeID
	conn    *websocket.Conn
	handler InboundHandler
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool
	done    chan struct{}
	err     error
}

// Dial connects to cfg.URL and starts the read loop.
func Dial(ctx context.Context, cfg WebSocketConfig) (*WebSocket, error) {
	subprotocols := cfg.Subprotocols
	if len(subprotocols) == 0 {
		subprotocols = DefaultSubprotocols
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		Subprotocols:     subprotocols,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if conn.Subprotocol() == "" {
		_ = conn.Close()
		return nil, fmt.Errorf("dial %s: server accepted none of %v", cfg.URL, subprotocols)
	}
	return NewWebSocket(cfg.Peer, conn, cfg.Handler, cfg.Logger), nil
}

// NewWebSocket wraps an established connection, dialed or accepted, and
// starts its read loop. handler may be nil.
func NewWebSocket(peer ocpp.NodeID, conn *websocket.Conn, handler InboundHandler, logger *slog.Logger) *WebSocket {
	if logger == nil {
		logger = slog.Default()
	}
	ws := &WebSocket{
		peer:    peer,
		conn:    conn,
		handler: handler,
		logger:  logger.With("component", "channel", "peer", peer),
		pending: make(map[string]chan reply),
		done:    make(chan struct{}),
	}
	go ws.readLoop()
	return ws
}

func (ws *WebSocket) Peer() ocpp.NodeID { return ws.peer }

// Subprotocol returns the negotiated OCPP version, e.g. "ocpp2.0.1".
func (ws *WebSocket) Subprotocol() string { return ws.conn.Subprotocol() }

// Done is closed once the connection has failed or been closed.
func (ws *WebSocket) Done() <-chan struct{} { return ws.done }

// Err returns the error that ended the connection, if any.
func (ws *WebSocket) Err() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.err
}

// Send writes a Call and waits for its CallResult or CallError.
func (ws *WebSocket) Send(ctx context.Context, out *Outbound) (json.RawMessage, error) {
	if out.MessageID == "" {
		out.MessageID = uuid.NewString()
	}
	ch := make(chan reply, 1)

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil, nodeerrors.ErrClosed
	}
	if _, dup := ws.pending[out.MessageID]; dup {
		ws.mu.Unlock()
		return nil, fmt.Errorf("message id %q: %w", out.MessageID, nodeerrors.ErrAlreadyExists)
	}
	ws.pending[out.MessageID] = ch
	ws.mu.Unlock()

	if err := ws.writeFrame(CallFrame(out, ws.peer)); err != nil {
		ws.forget(out.MessageID)
		return nil, err
	}

	select {
	case r := <-ch:
		return r.payload, r.err
	case <-ctx.Done():
		ws.forget(out.MessageID)
		return nil, ctx.Err()
	}
}

// Close closes the connection and fails all pending Sends with ErrClosed.
func (ws *WebSocket) Close() error {
	ws.writeMu.Lock()
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	ws.writeMu.Unlock()
	err := ws.conn.Close()
	ws.shutdown(nodeerrors.ErrClosed)
	<-ws.done
	return err
}

func (ws *WebSocket) forget(id string) {
	ws.mu.Lock()
	delete(ws.pending, id)
	ws.mu.Unlock()
}

func (ws *WebSocket) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// shutdown marks the channel closed and fails pending Sends. It is safe to
// call more than once; the first cause wins.
func (ws *WebSocket) shutdown(cause error) {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.closed = true
	ws.err = cause
	pending := ws.pending
	ws.pending = make(map[string]chan reply)
	ws.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: nodeerrors.ErrClosed}
	}
}

func (ws *WebSocket) readLoop() {
	defer close(ws.done)
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ws.logger.Debug("read loop ended", "error", err)
			}
			ws.shutdown(fmt.Errorf("%w: %v", nodeerrors.ErrClosed, err))
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			ws.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case TypeCall:
			go ws.answer(f)
		case TypeCallResult:
			ws.deliver(f.ID, reply{payload: f.Payload})
		case TypeCallError:
			ws.deliver(f.ID, reply{err: &CallError{
				Code:        f.ErrorCode,
				Description: f.ErrorDescription,
				Details:     f.ErrorDetails,
			}})
		}
	}
}

func (ws *WebSocket) deliver(id string, r reply) {
	ws.mu.Lock()
	ch, ok := ws.pending[id]
	delete(ws.pending, id)
	ws.mu.Unlock()
	if !ok {
		ws.logger.Debug("uncorrelated response", "message_id", id)
		return
	}
	ch <- r
}

func (ws *WebSocket) answer(call Frame) {
	var out Frame
	if ws.handler == nil {
		out = ErrorFrame(call.ID, CodeNotImplemented, fmt.Sprintf("action %s not handled", call.Action))
	} else {
		payload, err := ws.handler(context.Background(), call)
		var ce *CallError
		switch {
		case errors.As(err, &ce):
			out = ErrorFrame(call.ID, ce.Code, ce.Description)
			out.ErrorDetails = ce.Details
		case err != nil:
			out = ErrorFrame(call.ID, CodeInternalError, err.Error())
		default:
			out = ResultFrame(call.ID, payload)
		}
	}
	if err := ws.writeFrame(out); err != nil {
		ws.logger.Debug("answer failed", "message_id", call.ID, "error", err)
	}
}
