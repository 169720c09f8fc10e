package csms

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
)

// NewBootNotificationHandler accepts every charge point and grants interval seconds between
// heartbeats.
func NewBootNotificationHandler(registry *Registry, interval int, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.BootNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		registry.Boot(stationID, req.ChargePointVendor, req.ChargePointModel, req.FirmwareVersion, now)
		logger.Info("boot notification",
			zap.String("station_id", stationID),
			zap.String("vendor", req.ChargePointVendor),
			zap.String("model", req.ChargePointModel),
		)

		return protocol.BootNotificationResponse{
			CurrentTime: types.NewDateTime(now),
			Interval:    interval,
			Status:      core.RegistrationStatusAccepted,
		}, nil
	}
}

func NewHeartbeatHandler(registry *Registry) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		now := time.Now().UTC()
		registry.Heartbeat(stationID, now)
		return protocol.HeartbeatResponse{CurrentTime: types.NewDateTime(now)}, nil
	}
}

// NewAuthorizeHandler accepts the tags in allowed. An empty allow list accepts every tag.
func NewAuthorizeHandler(allowed []string) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.AuthorizeRequest](payload)
		if err != nil {
			return nil, err
		}
		return protocol.AuthorizeResponse{IdTagInfo: tagInfo(allowed, req.IdTag)}, nil
	}
}

func NewStartTransactionHandler(registry *Registry, allowed []string, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.StartTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		at := time.Now().UTC()
		if req.Timestamp != nil {
			at = req.Timestamp.Time
		}
		tx := registry.Start(stationID, req.ConnectorId, req.IdTag, req.MeterStart, at)
		logger.Info("transaction started",
			zap.String("station_id", stationID),
			zap.Int("connector_id", req.ConnectorId),
			zap.Int("transaction_id", tx.ID),
		)

		return protocol.StartTransactionResponse{
			IdTagInfo:     tagInfo(allowed, req.IdTag),
			TransactionId: tx.ID,
		}, nil
	}
}

// NewStopTransactionHandler closes the transaction. Unknown transactions are acknowledged so
// the charge point does not resend them.
func NewStopTransactionHandler(registry *Registry, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.StopTransactionRequest](payload)
		if err != nil {
			return nil, err
		}

		at := time.Now().UTC()
		if req.Timestamp != nil {
			at = req.Timestamp.Time
		}
		tx, err := registry.Stop(req.TransactionId, req.MeterStop, req.Reason, at)
		if err != nil {
			logger.Warn("stop for unknown transaction", zap.String("station_id", stationID), zap.Int("transaction_id", req.TransactionId))
			return protocol.StopTransactionResponse{}, nil
		}
		logger.Info("transaction stopped",
			zap.String("station_id", stationID),
			zap.Int("transaction_id", tx.ID),
			zap.Int("energy_wh", req.MeterStop-tx.MeterStartWh),
			zap.String("reason", string(req.Reason)),
		)
		return protocol.StopTransactionResponse{}, nil
	}
}

// NewMeterValuesHandler keeps the energy register of the transaction the values belong to.
func NewMeterValuesHandler(registry *Registry, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.MeterValuesRequest](payload)
		if err != nil {
			return nil, err
		}
		if req.TransactionId == nil {
			return protocol.MeterValuesResponse{}, nil
		}

		if wh, ok := energyWh(req.MeterValue); ok {
			if err := registry.Meter(*req.TransactionId, wh); err != nil {
				logger.Warn("meter values without transaction", zap.String("station_id", stationID), zap.Int("transaction_id", *req.TransactionId))
			}
		}
		return protocol.MeterValuesResponse{}, nil
	}
}

func NewStatusNotificationHandler(registry *Registry, logger *zap.Logger) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.StatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		status := ConnectorStatus{
			Status:    req.Status,
			ErrorCode: req.ErrorCode,
			Info:      req.Info,
			Timestamp: now,
			UpdatedAt: now,
		}
		if req.Timestamp != nil {
			status.Timestamp = req.Timestamp.Time
		}
		registry.UpdateStatus(stationID, req.ConnectorId, status)
		logger.Debug("status notification",
			zap.String("station_id", stationID),
			zap.Int("connector_id", req.ConnectorId),
			zap.String("status", string(req.Status)),
		)
		return protocol.StatusNotificationResponse{}, nil
	}
}

func NewFirmwareStatusNotificationHandler(registry *Registry) HandlerFunc {
	return func(ctx context.Context, stationID string, payload json.RawMessage) (interface{}, error) {
		req, err := decode[protocol.FirmwareStatusNotificationRequest](payload)
		if err != nil {
			return nil, err
		}
		registry.UpdateFirmware(stationID, req.Status)
		return protocol.FirmwareStatusNotificationResponse{}, nil
	}
}

func tagInfo(allowed []string, idTag string) *types.IdTagInfo {
	status := types.AuthorizationStatusInvalid
	if len(allowed) == 0 {
		status = types.AuthorizationStatusAccepted
	}
	for _, tag := range allowed {
		if tag == idTag {
			status = types.AuthorizationStatusAccepted
			break
		}
	}
	return &types.IdTagInfo{Status: status}
}

// energyWh picks the active import register from the newest meter value.
func energyWh(values []types.MeterValue) (int, bool) {
	for i := len(values) - 1; i >= 0; i-- {
		for _, sv := range values[i].SampledValue {
			if sv.Measurand != "" && sv.Measurand != types.MeasurandEnergyActiveImportRegister {
				continue
			}
			v, err := strconv.ParseFloat(sv.Value, 64)
			if err != nil {
				continue
			}
			if sv.Unit == types.UnitOfMeasureKWh {
				v *= 1000
			}
			return int(v + 0.5), true
		}
	}
	return 0, false
}
