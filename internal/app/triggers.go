package app

import (
	"context"
	"sync"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"chargepoint/internal/firmware"
	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/sampling"
	"chargepoint/internal/session"
)

// triggers answers TriggerMessage requests for messages owned by the session, the sampling
// engine and the firmware updater.
type triggers struct {
	supervisor *session.Supervisor
	engine     *sampling.Engine
	updater    *firmware.Updater
}

// BootNotification makes one attempt on the live session. The pipeline must not sit through
// the boot retry schedule.
func (t *triggers) BootNotification(ctx context.Context) error {
	seq := t.supervisor.Sequencer()
	if seq == nil {
		return ocpp.ErrNotConnected
	}
	return seq.Notify(ctx)
}

func (t *triggers) MeterValues(ctx context.Context, connectorID *int) error {
	return t.engine.Report(ctx, connectorID)
}

func (t *triggers) FirmwareStatus(ctx context.Context) error {
	return t.updater.Report(ctx)
}

// restarter cancels the root context once; the process supervisor brings the charge point back.
type restarter struct {
	once   sync.Once
	cancel context.CancelFunc
	kind   core.ResetType
}

func (r *restarter) Restart(kind core.ResetType) {
	r.once.Do(func() {
		r.kind = kind
		r.cancel()
	})
}

// firmwareNotifier lets the updater be built before the client it reports through.
type firmwareNotifier struct {
	client *ocpp.Client
}

func (n *firmwareNotifier) FirmwareStatusNotification(ctx context.Context, req protocol.FirmwareStatusNotificationRequest) error {
	return n.client.FirmwareStatusNotification(ctx, req)
}
