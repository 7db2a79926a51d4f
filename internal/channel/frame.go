package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// MessageType is the first element of an OCPP-J frame.
type MessageType int

const (
	TypeCall       MessageType = 2
	TypeCallResult MessageType = 3
	TypeCallError  MessageType = 4
)

// ErrMalformedFrame is returned for frames that are not valid OCPP-J.
var ErrMalformedFrame = errors.New("malformed frame")

// RouteInfo is the routing element appended to Calls for non-adjacent
// destinations.
type RouteInfo struct {
	Destination ocpp.NodeID   `json:"destination"`
	NetworkPath []ocpp.NodeID `json:"networkPath,omitempty"`
}

// Frame is a decoded OCPP-J message.
type Frame struct {
	Type    MessageType
	ID      string
	Action  ocpp.Action
	Payload json.RawMessage
	Route   *RouteInfo

	ErrorCode        string
	ErrorDescription string
	ErrorDetails     json.RawMessage
}

// CallFrame builds the Call for out. A route element is added when the
// destination is not peer.
func CallFrame(out *Outbound, peer ocpp.NodeID) Frame {
	f := Frame{Type: TypeCall, ID: out.MessageID, Action: out.Action, Payload: out.Payload}
	if out.Destination != "" && out.Destination != peer {
		f.Route = &RouteInfo{Destination: out.Destination, NetworkPath: out.NetworkPath}
	}
	return f
}

// ResultFrame builds a CallResult.
func ResultFrame(id string, payload json.RawMessage) Frame {
	return Frame{Type: TypeCallResult, ID: id, Payload: payload}
}

// ErrorFrame builds a CallError.
func ErrorFrame(id, code, description string) Frame {
	return Frame{Type: TypeCallError, ID: id, ErrorCode: code, ErrorDescription: description}
}

func (f Frame) MarshalJSON() ([]byte, error) {
	payload := f.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	switch f.Type {
	case TypeCall:
		if f.Route != nil {
			return json.Marshal([]any{f.Type, f.ID, f.Action, payload, f.Route})
		}
		return json.Marshal([]any{f.Type, f.ID, f.Action, payload})
	case TypeCallResult:
		return json.Marshal([]any{f.Type, f.ID, payload})
	case TypeCallError:
		details := f.ErrorDetails
		if len(details) == 0 {
			details = json.RawMessage(`{}`)
		}
		return json.Marshal([]any{f.Type, f.ID, f.ErrorCode, f.ErrorDescription, details})
	default:
		return nil, fmt.Errorf("%w: message type %d", ErrMalformedFrame, f.Type)
	}
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(elems) < 3 {
		return fmt.Errorf("%w: %d elements", ErrMalformedFrame, len(elems))
	}
	if err := json.Unmarshal(elems[0], &f.Type); err != nil {
		return fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}
	if err := json.Unmarshal(elems[1], &f.ID); err != nil {
		return fmt.Errorf("%w: message id: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case TypeCall:
		if len(elems) != 4 && len(elems) != 5 {
			return fmt.Errorf("%w: call has %d elements", ErrMalformedFrame, len(elems))
		}
		if err := json.Unmarshal(elems[2], &f.Action); err != nil {
			return fmt.Errorf("%w: action: %v", ErrMalformedFrame, err)
		}
		f.Payload = elems[3]
		if len(elems) == 5 {
			f.Route = &RouteInfo{}
			if err := json.Unmarshal(elems[4], f.Route); err != nil {
				return fmt.Errorf("%w: route: %v", ErrMalformedFrame, err)
			}
		}
	case TypeCallResult:
		if len(elems) != 3 {
			return fmt.Errorf("%w: result has %d elements", ErrMalformedFrame, len(elems))
		}
		f.Payload = elems[2]
	case TypeCallError:
		if len(elems) != 5 {
			return fmt.Errorf("%w: error has %d elements", ErrMalformedFrame, len(elems))
		}
		if err := json.Unmarshal(elems[2], &f.ErrorCode); err != nil {
			return fmt.Errorf("%w: error code: %v", ErrMalformedFrame, err)
		}
		if err := json.Unmarshal(elems[3], &f.ErrorDescription); err != nil {
			return fmt.Errorf("%w: error description: %v", ErrMalformedFrame, err)
		}
		f.ErrorDetails = elems[4]
	default:
		return fmt.Errorf("%w: message type %d", ErrMalformedFrame, f.Type)
	}
	return nil
}
