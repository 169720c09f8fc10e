package session

import (
	"context"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/station"
)

const defaultStatusRetry = time.Second

// StatusNotifier sends StatusNotification.
type StatusNotifier interface {
	StatusNotification(ctx context.Context, req protocol.StatusNotificationRequest) error
}

// StatusLoop delivers pending connector notifications once ready is closed. A notification that
// fails is retried every retry interval until it goes through or is superseded.
func StatusLoop(ctx context.Context, ready <-chan struct{}, client StatusNotifier, state *station.State, events station.Events, retry time.Duration, logger *zap.Logger) error {
	if retry <= 0 {
		retry = defaultStatusRetry
	}
	if events == nil {
		events = station.NopEvents()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-ready:
	}

	for {
		var (
			timer  *time.Timer
			retryC <-chan time.Time
		)
		if !flushStatus(ctx, client, state, events, logger) {
			timer = time.NewTimer(retry)
			retryC = timer.C
		}
		select {
		case <-ctx.Done():
			return nil
		case <-state.Changes():
		case <-retryC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// flushStatus sends every pending notification and reports whether all of them went out.
func flushStatus(ctx context.Context, client StatusNotifier, state *station.State, events station.Events, logger *zap.Logger) bool {
	for _, n := range state.PendingNotifications() {
		c := n.Connector
		code := c.ErrorCode
		if code == "" {
			code = core.NoError
		}
		err := client.StatusNotification(ctx, protocol.StatusNotificationRequest{
			ConnectorId: c.ID,
			ErrorCode:   code,
			Info:        c.Info,
			Status:      c.Status,
			Timestamp:   types.NewDateTime(c.UpdatedAt),
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("status notification failed", zap.Int("connector_id", c.ID), zap.Error(err))
			}
			return false
		}
		state.MarkNotified(c.ID, n.Version)
		events.Publish(station.EventConnectorStatus, c)
		logger.Debug("status notified", zap.Int("connector_id", c.ID), zap.String("status", string(c.Status)))
	}
	return true
}
