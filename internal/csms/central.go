// Package csms is a small OCPP 1.6J central system used to exercise a charge point on the bench.
package csms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocpp/protocol"
)

var ErrNotConnected = errors.New("csms: charge point not connected")

// Options configures a CentralSystem.
type Options struct {
	Registry          *Registry
	HeartbeatInterval int
	AllowedTags       []string
	CallTimeout       time.Duration
	Logger            *zap.Logger
}

// CentralSystem answers charge point calls and sends commands to connected charge points.
type CentralSystem struct {
	registry *Registry
	router   *Router
	timeout  time.Duration
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*ocpp.Client
}

func New(opts Options) *CentralSystem {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 300
	}

	router := NewRouter(logger.Named("router"))
	router.Register(protocol.ActionBootNotification, NewBootNotificationHandler(registry, interval, logger))
	router.Register(protocol.ActionHeartbeat, NewHeartbeatHandler(registry))
	router.Register(protocol.ActionAuthorize, NewAuthorizeHandler(opts.AllowedTags))
	router.Register(protocol.ActionStartTransaction, NewStartTransactionHandler(registry, opts.AllowedTags, logger))
	router.Register(protocol.ActionStopTransaction, NewStopTransactionHandler(registry, logger))
	router.Register(protocol.ActionMeterValues, NewMeterValuesHandler(registry, logger))
	router.Register(protocol.ActionStatusNotification, NewStatusNotificationHandler(registry, logger))
	router.Register(protocol.ActionFirmwareStatusNotification, NewFirmwareStatusNotificationHandler(registry))

	return &CentralSystem{
		registry: registry,
		router:   router,
		timeout:  opts.CallTimeout,
		logger:   logger,
		clients:  make(map[string]*ocpp.Client),
	}
}

// Registry returns the station registry.
func (cs *CentralSystem) Registry() *Registry { return cs.registry }

// Accept serves one charge point session until it ends.
func (cs *CentralSystem) Accept(ctx context.Context, stationID string, conn ocpp.Conn) {
	client := ocpp.NewClient(cs.router.For(stationID), ocpp.ClientConfig{
		CallTimeout: cs.timeout,
		Logger:      cs.logger.With(zap.String("station_id", stationID)),
	})

	cs.mu.Lock()
	cs.clients[stationID] = client
	cs.mu.Unlock()
	defer func() {
		cs.mu.Lock()
		if cs.clients[stationID] == client {
			delete(cs.clients, stationID)
		}
		cs.mu.Unlock()
	}()

	if err := client.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		cs.logger.Info("session ended", zap.String("station_id", stationID), zap.Error(err))
	}
}

// Connected lists the charge points with a live session.
func (cs *CentralSystem) Connected() []string {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	ids := make([]string, 0, len(cs.clients))
	for id := range cs.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (cs *CentralSystem) client(stationID string) (*ocpp.Client, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.clients[stationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, stationID)
	}
	return c, nil
}

func call[Resp any](ctx context.Context, cs *CentralSystem, stationID string, action protocol.Action, req interface{}) (*Resp, error) {
	c, err := cs.client(stationID)
	if err != nil {
		return nil, err
	}
	var resp Resp
	if err := c.Call(ctx, action, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoteStart asks a charge point to start a transaction. connectorID may be nil.
func (cs *CentralSystem) RemoteStart(ctx context.Context, stationID string, connectorID *int, idTag string) (*protocol.RemoteStartTransactionResponse, error) {
	return call[protocol.RemoteStartTransactionResponse](ctx, cs, stationID, protocol.ActionRemoteStartTransaction,
		protocol.RemoteStartTransactionRequest{ConnectorId: connectorID, IdTag: idTag})
}

// RemoteStop asks a charge point to stop a transaction.
func (cs *CentralSystem) RemoteStop(ctx context.Context, stationID string, transactionID int) (*protocol.RemoteStopTransactionResponse, error) {
	return call[protocol.RemoteStopTransactionResponse](ctx, cs, stationID, protocol.ActionRemoteStopTransaction,
		protocol.RemoteStopTransactionRequest{TransactionId: &transactionID})
}

func (cs *CentralSystem) ChangeConfiguration(ctx context.Context, stationID, key, value string) (*protocol.ChangeConfigurationResponse, error) {
	return call[protocol.ChangeConfigurationResponse](ctx, cs, stationID, protocol.ActionChangeConfiguration,
		protocol.ChangeConfigurationRequest{Key: key, Value: value})
}

func (cs *CentralSystem) GetConfiguration(ctx context.Context, stationID string, keys ...string) (*protocol.GetConfigurationResponse, error) {
	return call[protocol.GetConfigurationResponse](ctx, cs, stationID, protocol.ActionGetConfiguration,
		protocol.GetConfigurationRequest{Key: keys})
}

func (cs *CentralSystem) TriggerMessage(ctx context.Context, stationID string, req protocol.TriggerMessageRequest) (*protocol.TriggerMessageResponse, error) {
	return call[protocol.TriggerMessageResponse](ctx, cs, stationID, protocol.ActionTriggerMessage, req)
}

func (cs *CentralSystem) Reset(ctx context.Context, stationID string, req protocol.ResetRequest) (*protocol.ResetResponse, error) {
	return call[protocol.ResetResponse](ctx, cs, stationID, protocol.ActionReset, req)
}
