// Package handlers answers the calls the central system makes on the charge point.
package handlers

import (
	"go.uber.org/zap"

	"chargepoint/internal/firmware"
	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
	"chargepoint/internal/station"
)

// Queue admits commands for the controller.
type Queue interface {
	Enqueue(cmd pipeline.Command) bool
}

// FirmwareUpdater takes over an UpdateFirmware request.
type FirmwareUpdater interface {
	Schedule(u firmware.Update)
}

// Handlers implements ocpp.Handler on top of the station state and the command pipeline.
type Handlers struct {
	state    *station.State
	config   *ocppconfig.Store
	queue    Queue
	firmware FirmwareUpdater
	logger   *zap.Logger
}

var _ ocpp.Handler = (*Handlers)(nil)

// New wires the inbound handlers. firmware may be nil, in which case updates are logged and dropped.
func New(state *station.State, config *ocppconfig.Store, queue Queue, fw FirmwareUpdater, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		state:    state,
		config:   config,
		queue:    queue,
		firmware: fw,
		logger:   logger,
	}
}
