package handlers

import (
	"context"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
	"go.uber.org/zap"

	"chargepoint/internal/firmware"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/station"
)

// Reset stops everything and restarts the process once the command runs.
func (h *Handlers) Reset(ctx context.Context, req *protocol.ResetRequest) (*protocol.ResetResponse, error) {
	if !h.queue.Enqueue(station.ResetCommand{Type: req.Type}) {
		return &protocol.ResetResponse{Status: core.ResetStatusRejected}, nil
	}
	h.logger.Info("reset requested", zap.String("type", string(req.Type)))
	return &protocol.ResetResponse{Status: core.ResetStatusAccepted}, nil
}

// ClearCache empties the authorization cache.
func (h *Handlers) ClearCache(ctx context.Context, req *protocol.ClearCacheRequest) (*protocol.ClearCacheResponse, error) {
	if !h.queue.Enqueue(station.ClearCacheCommand{}) {
		return &protocol.ClearCacheResponse{Status: core.ClearCacheStatusRejected}, nil
	}
	return &protocol.ClearCacheResponse{Status: core.ClearCacheStatusAccepted}, nil
}

// TriggerMessage queues the requested message.
func (h *Handlers) TriggerMessage(ctx context.Context, req *protocol.TriggerMessageRequest) (*protocol.TriggerMessageResponse, error) {
	switch req.RequestedMessage {
	case protocol.TriggerBootNotification,
		protocol.TriggerHeartbeat,
		protocol.TriggerStatusNotification,
		protocol.TriggerMeterValues,
		protocol.TriggerFirmwareStatusNotification:
	default:
		return &protocol.TriggerMessageResponse{Status: remotetrigger.TriggerMessageStatusNotImplemented}, nil
	}

	if req.ConnectorId != nil {
		if _, ok := h.state.Connector(*req.ConnectorId); !ok {
			return &protocol.TriggerMessageResponse{Status: remotetrigger.TriggerMessageStatusRejected}, nil
		}
	}
	if !h.queue.Enqueue(station.TriggerCommand{Message: req.RequestedMessage, ConnectorID: req.ConnectorId}) {
		return &protocol.TriggerMessageResponse{Status: remotetrigger.TriggerMessageStatusRejected}, nil
	}
	return &protocol.TriggerMessageResponse{Status: remotetrigger.TriggerMessageStatusAccepted}, nil
}

// UpdateFirmware hands the request to the updater; progress goes out as FirmwareStatusNotification.
func (h *Handlers) UpdateFirmware(ctx context.Context, req *protocol.UpdateFirmwareRequest) (*protocol.UpdateFirmwareResponse, error) {
	u := firmware.Update{Location: req.Location, RetrieveAt: time.Now()}
	if req.RetrieveDate != nil {
		u.RetrieveAt = req.RetrieveDate.Time
	}
	if req.Retries != nil {
		u.Retries = *req.Retries
	}
	if req.RetryInterval != nil {
		u.RetryInterval = time.Duration(*req.RetryInterval) * time.Second
	}

	if h.firmware == nil {
		h.logger.Warn("firmware update ignored, no updater configured", zap.String("location", req.Location))
		return &protocol.UpdateFirmwareResponse{}, nil
	}
	h.firmware.Schedule(u)
	return &protocol.UpdateFirmwareResponse{}, nil
}
