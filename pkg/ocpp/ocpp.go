// Package ocpp defines the envelope shared by every OCPP exchange: request
// and response headers, signatures, the Result vocabulary and the typed
// message kinds a networking node can send.
//
// A message kind is a pair of structs that embed RequestHeader and
// ResponseHeader respectively. Header fields other than Signatures never
// appear in the JSON payload; they travel in the frame or stay local.
package ocpp

import "time"

// NodeID is an opaque logical address of a node in the overlay: the central
// system, a networking node, or a charging station.
type NodeID string

// Action names an OCPP message kind, e.g. "BootNotification".
type Action string

// Signature is a detached signature over a message's canonical form.
type Signature struct {
	// KeyID names the key used, as known to the verifying party.
	KeyID string `json:"keyId"`
	// Value is the signature, encoded as "algo:hex".
	Value string `json:"value"`
	// PublicKey optionally embeds the signer's key, encoded as "algo:hex".
	PublicKey string `json:"publicKey,omitempty"`
	// SigningMethod is the signing algorithm.
	SigningMethod string `json:"signingMethod,omitempty"`
	// Timestamp is when the signature was produced, in unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// RequestHeader is embedded in every request message.
type RequestHeader struct {
	RequestID   string   `json:"-"`
	Destination NodeID   `json:"-"`
	NetworkPath []NodeID `json:"-"`
	// Timeout overrides the node's default exchange timeout when non-zero.
	Timeout         time.Duration `json:"-"`
	EventTrackingID string        `json:"-"`
	// RequestTimestamp is set when the exchange starts.
	RequestTimestamp time.Time   `json:"-"`
	Signatures       []Signature `json:"signatures,omitempty"`
}

// Header returns the header itself so embedding types satisfy Request.
func (h *RequestHeader) Header() *RequestHeader { return h }

// ResponseHeader is embedded in every response message.
type ResponseHeader struct {
	RequestID string `json:"-"`
	Result    Result `json:"-"`
	// Runtime is the wall-clock time between dispatch and arrival, or the
	// time spent before the exchange was abandoned.
	Runtime           time.Duration `json:"-"`
	ResponseTimestamp time.Time     `json:"-"`
	Signatures        []Signature   `json:"signatures,omitempty"`
}

// Header returns the header itself so embedding types satisfy Response.
func (h *ResponseHeader) Header() *ResponseHeader { return h }

// Clone returns a copy that does not share the signature slice.
func (h ResponseHeader) Clone() ResponseHeader {
	out := h
	if h.Signatures != nil {
		out.Signatures = append([]Signature(nil), h.Signatures...)
	}
	return out
}

// Request is an outbound OCPP operation.
type Request interface {
	Action() Action
	Header() *RequestHeader
}

// Response is the counterpart of a Request.
type Response interface {
	Header() *ResponseHeader
}
