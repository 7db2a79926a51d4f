package ocpp

import "fmt"

// ResultCode tags the outcome of an exchange.
type ResultCode int

const (
	resultUnset ResultCode = iota
	// ResultSuccess means a correlated response arrived. Verification of
	// its signatures may still have failed; see the node's diagnostics.
	ResultSuccess
	// ResultSignatureError means the local signing policy rejected the
	// request. No network I/O took place.
	ResultSignatureError
	// ResultUnknownOrUnreachable means no channel leads to the destination.
	// No network I/O took place.
	ResultUnknownOrUnreachable
	// ResultTransportError means the channel failed after dispatch.
	ResultTransportError
	// ResultTimeout means no correlated response arrived before the deadline.
	ResultTimeout
	// ResultCanceled means the caller canceled while awaiting the response.
	ResultCanceled
)

func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultSignatureError:
		return "signature_error"
	case ResultUnknownOrUnreachable:
		return "unknown_or_unreachable"
	case ResultTransportError:
		return "transport_error"
	case ResultTimeout:
		return "timeout"
	case ResultCanceled:
		return "canceled"
	default:
		return "unset"
	}
}

// Result is the tagged outcome carried by every response.
type Result struct {
	Code ResultCode
	// Reason is a human-readable cause for non-success codes.
	Reason string
	// Destination is set for ResultUnknownOrUnreachable.
	Destination NodeID
}

// OK returns a success result.
func OK() Result {
	return Result{Code: ResultSuccess}
}

// SignatureFailure returns a signature error result.
func SignatureFailure(reason string) Result {
	return Result{Code: ResultSignatureError, Reason: reason}
}

// Unreachable returns an unknown-or-unreachable result for dest.
func Unreachable(dest NodeID) Result {
	return Result{
		Code:        ResultUnknownOrUnreachable,
		Reason:      fmt.Sprintf("no route to %q", dest),
		Destination: dest,
	}
}

// TransportFailure returns a transport error result.
func TransportFailure(reason string) Result {
	return Result{Code: ResultTransportError, Reason: reason}
}

// TimedOut returns a timeout result.
func TimedOut() Result {
	return Result{Code: ResultTimeout, Reason: "no response before deadline"}
}

// Canceled returns a cancellation result.
func Canceled(reason string) Result {
	return Result{Code: ResultCanceled, Reason: reason}
}

// IsSuccess reports whether the result is ResultSuccess.
func (r Result) IsSuccess() bool {
	return r.Code == ResultSuccess
}

// IsSet reports whether the result carries a tag.
func (r Result) IsSet() bool {
	return r.Code != resultUnset
}

func (r Result) String() string {
	if r.Reason == "" {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Reason
}
