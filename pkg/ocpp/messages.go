package ocpp

import (
	"encoding/json"
	"time"
)

// Message kinds known to the node.
const (
	ActionAuthorize             Action = "Authorize"
	ActionBootNotification      Action = "BootNotification"
	ActionDataTransfer          Action = "DataTransfer"
	ActionGetVariables          Action = "GetVariables"
	ActionHeartbeat             Action = "Heartbeat"
	ActionNotifyNetworkTopology Action = "NotifyNetworkTopology"
	ActionReset                 Action = "Reset"
	ActionSetVariables          Action = "SetVariables"
	ActionStatusNotification    Action = "StatusNotification"
	ActionTriggerMessage        Action = "TriggerMessage"
)

// --- Authorize ---

type IDToken struct {
	IDToken string `json:"idToken"`
	Type    string `json:"type"`
}

type IDTokenInfo struct {
	Status              string     `json:"status"`
	CacheExpiryDateTime *time.Time `json:"cacheExpiryDateTime,omitempty"`
}

type AuthorizeRequest struct {
	RequestHeader
	IDToken IDToken `json:"idToken"`
}

func (*AuthorizeRequest) Action() Action { return ActionAuthorize }

type AuthorizeResponse struct {
	ResponseHeader
	IDTokenInfo IDTokenInfo `json:"idTokenInfo"`
}

// --- BootNotification ---

type ChargingStation struct {
	Model           string `json:"model"`
	VendorName      string `json:"vendorName"`
	SerialNumber    string `json:"serialNumber,omitempty"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
}

type BootNotificationRequest struct {
	RequestHeader
	ChargingStation ChargingStation `json:"chargingStation"`
	Reason          string          `json:"reason"`
}

func (*BootNotificationRequest) Action() Action { return ActionBootNotification }

type BootNotificationResponse struct {
	ResponseHeader
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// --- DataTransfer ---

type DataTransferRequest struct {
	RequestHeader
	VendorID  string          `json:"vendorId"`
	MessageID string          `json:"messageId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (*DataTransferRequest) Action() Action { return ActionDataTransfer }

type DataTransferResponse struct {
	ResponseHeader
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// --- GetVariables / SetVariables ---

type Component struct {
	Name     string `json:"name"`
	Instance string `json:"instance,omitempty"`
}

type Variable struct {
	Name     string `json:"name"`
	Instance string `json:"instance,omitempty"`
}

type GetVariableData struct {
	Component     Component `json:"component"`
	Variable      Variable  `json:"variable"`
	AttributeType string    `json:"attributeType,omitempty"`
}

type GetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus"`
	AttributeValue  string    `json:"attributeValue,omitempty"`
	Component       Component `json:"component"`
	Variable        Variable  `json:"variable"`
}

type GetVariablesRequest struct {
	RequestHeader
	GetVariableData []GetVariableData `json:"getVariableData"`
}

func (*GetVariablesRequest) Action() Action { return ActionGetVariables }

type GetVariablesResponse struct {
	ResponseHeader
	GetVariableResult []GetVariableResult `json:"getVariableResult"`
}

type SetVariableData struct {
	AttributeValue string    `json:"attributeValue"`
	Component      Component `json:"component"`
	Variable       Variable  `json:"variable"`
}

type SetVariableResult struct {
	AttributeStatus string    `json:"attributeStatus"`
	Component       Component `json:"component"`
	Variable        Variable  `json:"variable"`
}

type SetVariablesRequest struct {
	RequestHeader
	SetVariableData []SetVariableData `json:"setVariableData"`
}

func (*SetVariablesRequest) Action() Action { return ActionSetVariables }

type SetVariablesResponse struct {
	ResponseHeader
	SetVariableResult []SetVariableResult `json:"setVariableResult"`
}

// --- Heartbeat ---

type HeartbeatRequest struct {
	RequestHeader
}

func (*HeartbeatRequest) Action() Action { return ActionHeartbeat }

type HeartbeatResponse struct {
	ResponseHeader
	CurrentTime time.Time `json:"currentTime"`
}

// --- NotifyNetworkTopology ---

type NetworkRoute struct {
	Destination NodeID `json:"destination"`
	Via         NodeID `json:"via"`
	Priority    int    `json:"priority,omitempty"`
}

type NotifyNetworkTopologyRequest struct {
	RequestHeader
	NetworkingNode NodeID         `json:"networkingNode"`
	Routes         []NetworkRoute `json:"routes"`
}

func (*NotifyNetworkTopologyRequest) Action() Action { return ActionNotifyNetworkTopology }

type NotifyNetworkTopologyResponse struct {
	ResponseHeader
	Status string `json:"status"`
}

// --- Reset ---

type ResetRequest struct {
	RequestHeader
	Type   string `json:"type"`
	EvseID *int   `json:"evseId,omitempty"`
}

func (*ResetRequest) Action() Action { return ActionReset }

type ResetResponse struct {
	ResponseHeader
	Status string `json:"status"`
}

// --- StatusNotification ---

type StatusNotificationRequest struct {
	RequestHeader
	Timestamp       time.Time `json:"timestamp"`
	ConnectorStatus string    `json:"connectorStatus"`
	EvseID          int       `json:"evseId"`
	ConnectorID     int       `json:"connectorId"`
}

func (*StatusNotificationRequest) Action() Action { return ActionStatusNotification }

type StatusNotificationResponse struct {
	ResponseHeader
}

// --- TriggerMessage ---

type TriggerMessageRequest struct {
	RequestHeader
	RequestedMessage string `json:"requestedMessage"`
	EvseID           *int   `json:"evseId,omitempty"`
}

func (*TriggerMessageRequest) Action() Action { return ActionTriggerMessage }

type TriggerMessageResponse struct {
	ResponseHeader
	Status string `json:"status"`
}
