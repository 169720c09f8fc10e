package protocol

import (
	"encoding/json"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/firmware"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
)

// BootNotificationRequest identifies the charge point.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
}

// BootNotificationResponse carries registration status and heartbeat interval.
type BootNotificationResponse struct {
	CurrentTime *types.DateTime         `json:"currentTime"`
	Interval    int                     `json:"interval"`
	Status      core.RegistrationStatus `json:"status"`
}

// HeartbeatRequest is empty.
type HeartbeatRequest struct{}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime *types.DateTime `json:"currentTime"`
}

// AuthorizeRequest asks the central system about an idTag.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse holds the verdict.
type AuthorizeResponse struct {
	IdTagInfo *types.IdTagInfo `json:"idTagInfo"`
}

// StartTransactionRequest payload.
type StartTransactionRequest struct {
	ConnectorId int             `json:"connectorId"`
	IdTag       string          `json:"idTag"`
	MeterStart  int             `json:"meterStart"`
	Timestamp   *types.DateTime `json:"timestamp"`
}

// StartTransactionResponse assigns the transaction id.
type StartTransactionResponse struct {
	IdTagInfo     *types.IdTagInfo `json:"idTagInfo"`
	TransactionId int              `json:"transactionId"`
}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	IdTag           string             `json:"idTag,omitempty"`
	MeterStop       int                `json:"meterStop"`
	Timestamp       *types.DateTime    `json:"timestamp"`
	TransactionId   int                `json:"transactionId"`
	Reason          core.Reason        `json:"reason,omitempty"`
	TransactionData []types.MeterValue `json:"transactionData,omitempty"`
}

// StopTransactionResponse may carry idTag info.
type StopTransactionResponse struct {
	IdTagInfo *types.IdTagInfo `json:"idTagInfo,omitempty"`
}

// MeterValuesRequest reports samples for one connector.
type MeterValuesRequest struct {
	ConnectorId   int                `json:"connectorId"`
	TransactionId *int               `json:"transactionId,omitempty"`
	MeterValue    []types.MeterValue `json:"meterValue"`
}

// MeterValuesResponse is empty.
type MeterValuesResponse struct{}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorId int                       `json:"connectorId"`
	ErrorCode   core.ChargePointErrorCode `json:"errorCode"`
	Info        string                    `json:"info,omitempty"`
	Status      core.ChargePointStatus    `json:"status"`
	Timestamp   *types.DateTime           `json:"timestamp,omitempty"`
}

// StatusNotificationResponse is empty.
type StatusNotificationResponse struct{}

// FirmwareStatusNotificationRequest payload.
type FirmwareStatusNotificationRequest struct {
	Status firmware.FirmwareStatus `json:"status"`
}

// FirmwareStatusNotificationResponse is empty.
type FirmwareStatusNotificationResponse struct{}

// ChangeConfigurationRequest sets one key.
type ChangeConfigurationRequest struct {
	Key   string `json:"key" validate:"required,max=50"`
	Value string `json:"value" validate:"max=500"`
}

// ChangeConfigurationResponse payload.
type ChangeConfigurationResponse struct {
	Status core.ConfigurationStatus `json:"status"`
}

// GetConfigurationRequest lists requested keys; empty means all.
type GetConfigurationRequest struct {
	Key []string `json:"key,omitempty" validate:"omitempty,dive,max=50"`
}

// GetConfigurationResponse payload.
type GetConfigurationResponse struct {
	ConfigurationKey []core.ConfigurationKey `json:"configurationKey,omitempty"`
	UnknownKey       []string                `json:"unknownKey,omitempty"`
}

// ClearCacheRequest is empty.
type ClearCacheRequest struct{}

// ClearCacheResponse payload.
type ClearCacheResponse struct {
	Status core.ClearCacheStatus `json:"status"`
}

// ResetRequest payload.
type ResetRequest struct {
	Type core.ResetType `json:"type" validate:"required,oneof=Hard Soft"`
}

// ResetResponse payload.
type ResetResponse struct {
	Status core.ResetStatus `json:"status"`
}

// RemoteStartTransactionRequest payload. Charging profiles are accepted but ignored.
type RemoteStartTransactionRequest struct {
	ConnectorId     *int            `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
	IdTag           string          `json:"idTag" validate:"required,max=20"`
	ChargingProfile json.RawMessage `json:"chargingProfile,omitempty"`
}

// RemoteStartTransactionResponse payload.
type RemoteStartTransactionResponse struct {
	Status types.RemoteStartStopStatus `json:"status"`
}

// RemoteStopTransactionRequest payload.
type RemoteStopTransactionRequest struct {
	TransactionId *int `json:"transactionId" validate:"required"`
}

// RemoteStopTransactionResponse payload.
type RemoteStopTransactionResponse struct {
	Status types.RemoteStartStopStatus `json:"status"`
}

// TriggerMessageRequest payload.
type TriggerMessageRequest struct {
	RequestedMessage remotetrigger.MessageTrigger `json:"requestedMessage" validate:"required"`
	ConnectorId      *int                         `json:"connectorId,omitempty" validate:"omitempty,gt=0"`
}

// TriggerMessageResponse payload.
type TriggerMessageResponse struct {
	Status remotetrigger.TriggerMessageStatus `json:"status"`
}

// UpdateFirmwareRequest payload.
type UpdateFirmwareRequest struct {
	Location      string          `json:"location" validate:"required,url"`
	Retries       *int            `json:"retries,omitempty" validate:"omitempty,gte=0"`
	RetrieveDate  *types.DateTime `json:"retrieveDate" validate:"required"`
	RetryInterval *int            `json:"retryInterval,omitempty" validate:"omitempty,gte=0"`
}

// UpdateFirmwareResponse is empty.
type UpdateFirmwareResponse struct{}
