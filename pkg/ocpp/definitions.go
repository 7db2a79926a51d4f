package ocpp

import "slices"

// Definition binds an action to constructors for its request and response.
type Definition struct {
	Action      Action
	NewRequest  func() Request
	NewResponse func() Response
}

var definitions = map[Action]Definition{}

func define[Req any, Resp any, PReq interface {
	*Req
	Request
}, PResp interface {
	*Resp
	Response
}](action Action) {
	definitions[action] = Definition{
		Action:      action,
		NewRequest:  func() Request { return PReq(new(Req)) },
		NewResponse: func() Response { return PResp(new(Resp)) },
	}
}

func init() {
	define[AuthorizeRequest, AuthorizeResponse](ActionAuthorize)
	define[BootNotificationRequest, BootNotificationResponse](ActionBootNotification)
	define[DataTransferRequest, DataTransferResponse](ActionDataTransfer)
	define[GetVariablesRequest, GetVariablesResponse](ActionGetVariables)
	define[HeartbeatRequest, HeartbeatResponse](ActionHeartbeat)
	define[NotifyNetworkTopologyRequest, NotifyNetworkTopologyResponse](ActionNotifyNetworkTopology)
	define[ResetRequest, ResetResponse](ActionReset)
	define[SetVariablesRequest, SetVariablesResponse](ActionSetVariables)
	define[StatusNotificationRequest, StatusNotificationResponse](ActionStatusNotification)
	define[TriggerMessageRequest, TriggerMessageResponse](ActionTriggerMessage)
}

// Lookup returns the definition for action.
func Lookup(action Action) (Definition, bool) {
	d, ok := definitions[action]
	return d, ok
}

// Actions returns every defined action in sorted order.
func Actions() []Action {
	out := make([]Action, 0, len(definitions))
	for a := range definitions {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
