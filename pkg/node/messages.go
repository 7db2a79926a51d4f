package node

import (
	"context"

	"github.com/gezibash/ocpp-node/internal/events"
	"github.com/gezibash/ocpp-node/internal/exchange"
	"github.com/gezibash/ocpp-node/pkg/ocpp"
)

// Each message kind gets a send method and two hooks. Request hooks run
// before signing; response hooks run after the Result is fixed and cannot
// change it.

// Authorize is sent by a charging station to authorize an id token.
func (n *Node) Authorize(ctx context.Context, req *ocpp.AuthorizeRequest) (*ocpp.AuthorizeResponse, error) {
	return exchange.Send[*ocpp.AuthorizeRequest, ocpp.AuthorizeResponse](ctx, n.engine, req)
}

func (n *Node) OnAuthorizeRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.AuthorizeRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnAuthorizeResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.AuthorizeRequest, resp *ocpp.AuthorizeResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// BootNotification reports a node or station coming online.
func (n *Node) BootNotification(ctx context.Context, req *ocpp.BootNotificationRequest) (*ocpp.BootNotificationResponse, error) {
	return exchange.Send[*ocpp.BootNotificationRequest, ocpp.BootNotificationResponse](ctx, n.engine, req)
}

func (n *Node) OnBootNotificationRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.BootNotificationRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnBootNotificationResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.BootNotificationRequest, resp *ocpp.BootNotificationResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// DataTransfer carries vendor-specific data.
func (n *Node) DataTransfer(ctx context.Context, req *ocpp.DataTransferRequest) (*ocpp.DataTransferResponse, error) {
	return exchange.Send[*ocpp.DataTransferRequest, ocpp.DataTransferResponse](ctx, n.engine, req)
}

func (n *Node) OnDataTransferRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.DataTransferRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnDataTransferResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.DataTransferRequest, resp *ocpp.DataTransferResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// GetVariables reads device model variables.
func (n *Node) GetVariables(ctx context.Context, req *ocpp.GetVariablesRequest) (*ocpp.GetVariablesResponse, error) {
	return exchange.Send[*ocpp.GetVariablesRequest, ocpp.GetVariablesResponse](ctx, n.engine, req)
}

func (n *Node) OnGetVariablesRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.GetVariablesRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnGetVariablesResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.GetVariablesRequest, resp *ocpp.GetVariablesResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

func (n *Node) Heartbeat(ctx context.Context, req *ocpp.HeartbeatRequest) (*ocpp.HeartbeatResponse, error) {
	return exchange.Send[*ocpp.HeartbeatRequest, ocpp.HeartbeatResponse](ctx, n.engine, req)
}

func (n *Node) OnHeartbeatRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.HeartbeatRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnHeartbeatResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.HeartbeatRequest, resp *ocpp.HeartbeatResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// NotifyNetworkTopology announces routes through a networking node.
func (n *Node) NotifyNetworkTopology(ctx context.Context, req *ocpp.NotifyNetworkTopologyRequest) (*ocpp.NotifyNetworkTopologyResponse, error) {
	return exchange.Send[*ocpp.NotifyNetworkTopologyRequest, ocpp.NotifyNetworkTopologyResponse](ctx, n.engine, req)
}

func (n *Node) OnNotifyNetworkTopologyRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.NotifyNetworkTopologyRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnNotifyNetworkTopologyResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.NotifyNetworkTopologyRequest, resp *ocpp.NotifyNetworkTopologyResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// Reset asks the destination to reset.
func (n *Node) Reset(ctx context.Context, req *ocpp.ResetRequest) (*ocpp.ResetResponse, error) {
	return exchange.Send[*ocpp.ResetRequest, ocpp.ResetResponse](ctx, n.engine, req)
}

func (n *Node) OnResetRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.ResetRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnResetResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.ResetRequest, resp *ocpp.ResetResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// SetVariables writes device model variables.
func (n *Node) SetVariables(ctx context.Context, req *ocpp.SetVariablesRequest) (*ocpp.SetVariablesResponse, error) {
	return exchange.Send[*ocpp.SetVariablesRequest, ocpp.SetVariablesResponse](ctx, n.engine, req)
}

func (n *Node) OnSetVariablesRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.SetVariablesRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnSetVariablesResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.SetVariablesRequest, resp *ocpp.SetVariablesResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// StatusNotification reports a connector status change.
func (n *Node) StatusNotification(ctx context.Context, req *ocpp.StatusNotificationRequest) (*ocpp.StatusNotificationResponse, error) {
	return exchange.Send[*ocpp.StatusNotificationRequest, ocpp.StatusNotificationResponse](ctx, n.engine, req)
}

func (n *Node) OnStatusNotificationRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.StatusNotificationRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnStatusNotificationResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.StatusNotificationRequest, resp *ocpp.StatusNotificationResponse) error) {
	events.OnResponseOf(n.bus, fn)
}

// TriggerMessage asks the destination to send a message.
func (n *Node) TriggerMessage(ctx context.Context, req *ocpp.TriggerMessageRequest) (*ocpp.TriggerMessageResponse, error) {
	return exchange.Send[*ocpp.TriggerMessageRequest, ocpp.TriggerMessageResponse](ctx, n.engine, req)
}

func (n *Node) OnTriggerMessageRequest(fn func(ctx context.Context, ev events.RequestEvent, req *ocpp.TriggerMessageRequest) error) {
	events.OnRequestOf(n.bus, fn)
}

func (n *Node) OnTriggerMessageResponse(fn func(ctx context.Context, ev events.ResponseEvent, req *ocpp.TriggerMessageRequest, resp *ocpp.TriggerMessageResponse) error) {
	events.OnResponseOf(n.bus, fn)
}
