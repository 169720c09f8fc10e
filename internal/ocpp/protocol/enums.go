package protocol

import (
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
)

// Subprotocol negotiated on the websocket handshake.
const Subprotocol = "ocpp1.6"

// MessageType values as per OCPP-J.
type MessageType int

const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// Action is the closed set of OCPP 1.6 operations this charge point sends or accepts.
type Action string

// Charge point initiated.
const (
	ActionAuthorize                  Action = "Authorize"
	ActionBootNotification           Action = "BootNotification"
	ActionFirmwareStatusNotification Action = "FirmwareStatusNotification"
	ActionHeartbeat                  Action = "Heartbeat"
	ActionMeterValues                Action = "MeterValues"
	ActionStartTransaction           Action = "StartTransaction"
	ActionStatusNotification         Action = "StatusNotification"
	ActionStopTransaction            Action = "StopTransaction"
)

// Central system initiated.
const (
	ActionChangeConfiguration    Action = "ChangeConfiguration"
	ActionClearCache             Action = "ClearCache"
	ActionGetConfiguration       Action = "GetConfiguration"
	ActionRemoteStartTransaction Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  Action = "RemoteStopTransaction"
	ActionReset                  Action = "Reset"
	ActionTriggerMessage         Action = "TriggerMessage"
	ActionUpdateFirmware         Action = "UpdateFirmware"
)

var inboundActions = map[Action]struct{}{
	ActionChangeConfiguration:    {},
	ActionClearCache:             {},
	ActionGetConfiguration:       {},
	ActionRemoteStartTransaction: {},
	ActionRemoteStopTransaction:  {},
	ActionReset:                  {},
	ActionTriggerMessage:         {},
	ActionUpdateFirmware:         {},
}

// Inbound reports whether the central system may call this action on the charge point.
func (a Action) Inbound() bool {
	_, ok := inboundActions[a]
	return ok
}

// ErrorCode is the code field of a CallError frame.
type ErrorCode string

const (
	ErrorNotImplemented                ErrorCode = "NotImplemented"
	ErrorNotSupported                  ErrorCode = "NotSupported"
	ErrorInternal                      ErrorCode = "InternalError"
	ErrorProtocol                      ErrorCode = "ProtocolError"
	ErrorSecurity                      ErrorCode = "SecurityError"
	ErrorFormationViolation            ErrorCode = "FormationViolation"
	ErrorPropertyConstraintViolation   ErrorCode = "PropertyConstraintViolation"
	ErrorOccurrenceConstraintViolation ErrorCode = "OccurrenceConstraintViolation"
	ErrorTypeConstraintViolation       ErrorCode = "TypeConstraintViolation"
	ErrorGeneric                       ErrorCode = "GenericError"
)

// Messages a TriggerMessage request may ask for.
const (
	TriggerBootNotification              = remotetrigger.MessageTrigger(core.BootNotificationFeatureName)
	TriggerHeartbeat                     = remotetrigger.MessageTrigger(core.HeartbeatFeatureName)
	TriggerMeterValues                   = remotetrigger.MessageTrigger(core.MeterValuesFeatureName)
	TriggerStatusNotification            = remotetrigger.MessageTrigger(core.StatusNotificationFeatureName)
	TriggerFirmwareStatusNotification    = remotetrigger.MessageTrigger(firmware.FirmwareStatusNotificationFeatureName)
	TriggerDiagnosticsStatusNotification = remotetrigger.MessageTrigger(firmware.DiagnosticsStatusNotificationFeatureName)
)
