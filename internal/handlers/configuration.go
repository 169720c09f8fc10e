package handlers

import (
	"context"
	"errors"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
)

// ChangeConfiguration applies the new value right away and persists it.
func (h *Handlers) ChangeConfiguration(ctx context.Context, req *protocol.ChangeConfigurationRequest) (*protocol.ChangeConfigurationResponse, error) {
	err := h.config.Set(req.Key, req.Value)
	switch {
	case err == nil:
		h.logger.Info("configuration changed", zap.String("key", req.Key), zap.String("value", req.Value))
		return &protocol.ChangeConfigurationResponse{Status: core.ConfigurationStatusAccepted}, nil
	case errors.Is(err, ocppconfig.ErrUnknownKey):
		return &protocol.ChangeConfigurationResponse{Status: core.ConfigurationStatusNotSupported}, nil
	case errors.Is(err, ocppconfig.ErrReadOnly), errors.Is(err, ocppconfig.ErrInvalidValue):
		h.logger.Info("configuration change rejected", zap.String("key", req.Key), zap.Error(err))
		return &protocol.ChangeConfigurationResponse{Status: core.ConfigurationStatusRejected}, nil
	default:
		h.logger.Error("failed to persist configuration", zap.String("key", req.Key), zap.Error(err))
		return &protocol.ChangeConfigurationResponse{Status: core.ConfigurationStatusRejected}, nil
	}
}

// GetConfiguration reports the requested keys, or all of them.
func (h *Handlers) GetConfiguration(ctx context.Context, req *protocol.GetConfigurationRequest) (*protocol.GetConfigurationResponse, error) {
	entries, unknown := h.config.Entries(req.Key...)
	resp := &protocol.GetConfigurationResponse{UnknownKey: unknown}
	for _, e := range entries {
		value := e.Value.String()
		resp.ConfigurationKey = append(resp.ConfigurationKey, core.ConfigurationKey{
			Key:      e.Key,
			Readonly: e.ReadOnly,
			Value:    &value,
		})
	}
	return resp, nil
}
