package handlers

import (
	"context"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/station"
)

const defaultRemoteConnector = 1

// RemoteStartTransaction admits a start when the connector could take it now. The outcome of the
// start itself is reported through StartTransaction and StatusNotification.
func (h *Handlers) RemoteStartTransaction(ctx context.Context, req *protocol.RemoteStartTransactionRequest) (*protocol.RemoteStartTransactionResponse, error) {
	connectorID := defaultRemoteConnector
	if req.ConnectorId != nil {
		connectorID = *req.ConnectorId
	}

	if !h.canStart(connectorID) {
		h.logger.Info("remote start rejected", zap.Int("connector_id", connectorID), zap.String("id_tag", req.IdTag))
		return &protocol.RemoteStartTransactionResponse{Status: types.RemoteStartStopStatusRejected}, nil
	}
	if !h.queue.Enqueue(station.StartCommand{ConnectorID: connectorID, IdTag: req.IdTag}) {
		return &protocol.RemoteStartTransactionResponse{Status: types.RemoteStartStopStatusRejected}, nil
	}
	return &protocol.RemoteStartTransactionResponse{Status: types.RemoteStartStopStatusAccepted}, nil
}

func (h *Handlers) canStart(connectorID int) bool {
	c, ok := h.state.Connector(connectorID)
	if !ok {
		return false
	}
	if _, busy := h.state.Transaction(connectorID); busy {
		return false
	}
	return c.Status == core.ChargePointStatusAvailable || c.Status == core.ChargePointStatusPreparing
}

// RemoteStopTransaction admits a stop for a running transaction.
func (h *Handlers) RemoteStopTransaction(ctx context.Context, req *protocol.RemoteStopTransactionRequest) (*protocol.RemoteStopTransactionResponse, error) {
	tx, ok := h.state.TransactionByID(*req.TransactionId)
	if !ok {
		h.logger.Info("remote stop for unknown transaction", zap.Int("transaction_id", *req.TransactionId))
		return &protocol.RemoteStopTransactionResponse{Status: types.RemoteStartStopStatusRejected}, nil
	}
	cmd := station.StopCommand{ConnectorID: tx.ConnectorID, TransactionID: tx.ID, Reason: station.ReasonRemote}
	if !h.queue.Enqueue(cmd) {
		return &protocol.RemoteStopTransactionResponse{Status: types.RemoteStartStopStatusRejected}, nil
	}
	return &protocol.RemoteStopTransactionResponse{Status: types.RemoteStartStopStatusAccepted}, nil
}
