// Package channel carries serialized OCPP requests to a neighbouring node
// and returns the correlated response payload.
package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Outbound is one request ready for dispatch.
type Outbound struct {
	MessageID   string
	Action      ocpp.Action
	Destination ocpp.NodeID
	// NetworkPath lists the nodes the request has traversed, sender last.
	NetworkPath []ocpp.NodeID
	// Payload is the request JSON including its signatures.
	Payload json.RawMessage
}

// Channel is a link to one neighbouring node. Send blocks until the
// correlated response arrives, the link fails, or ctx ends; it returns
// ctx.Err() in the last case.
type Channel interface {
	Peer() ocpp.NodeID
	Send(ctx context.Context, out *Outbound) (json.RawMessage, error)
}

// OCPP-J CallError codes.
const (
	CodeNotImplemented                = "NotImplemented"
	CodeNotSupported                  = "NotSupported"
	CodeInternalError                 = "InternalError"
	CodeProtocolError                 = "ProtocolError"
	CodeSecurityError                 = "SecurityError"
	CodeFormatViolation               = "FormatViolation"
	CodePropertyConstraintViolation   = "PropertyConstraintViolation"
	CodeOccurrenceConstraintViolation = "OccurrenceConstraintViolation"
	CodeTypeConstraintViolation       = "TypeConstraintViolation"
	CodeGenericError                  = "GenericError"
	CodeMessageTypeNotSupported       = "MessageTypeNotSupported"
	CodeRPCFrameworkError             = "RpcFrameworkError"
)

// CallError is a CallError frame received in place of a response.
type CallError struct {
	Code        string
	Description string
	Details     json.RawMessage
}

func (e *CallError) Error() string {
	if e.Description == "" {
		return "call error " + e.Code
	}
	return fmt.Sprintf("call error %s: %s", e.Code, e.Description)
}

// Func adapts a function to Channel.
type Func struct {
	PeerID ocpp.NodeID
	Fn     func(ctx context.Context, out *Outbound) (json.RawMessage, error)
}

func (f *Func) Peer() ocpp.NodeID { return f.PeerID }

func (f *Func) Send(ctx context.Context, out *Outbound) (json.RawMessage, error) {
	return f.Fn(ctx, out)
}
