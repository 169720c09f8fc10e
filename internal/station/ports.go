package station

import (
	"context"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"

	"chargepoint/internal/meter"
	"chargepoint/internal/ocpp/protocol"
)

// CentralSystem is the part of the OCPP client the controller needs.
type CentralSystem interface {
	Connected() bool
	Authorize(ctx context.Context, idTag string) (*protocol.AuthorizeResponse, error)
	StartTransaction(ctx context.Context, req protocol.StartTransactionRequest) (*protocol.StartTransactionResponse, error)
	StopTransaction(ctx context.Context, req protocol.StopTransactionRequest) (*protocol.StopTransactionResponse, error)
	Heartbeat(ctx context.Context) (*protocol.HeartbeatResponse, error)
}

// Meter gives access to the connector meters.
type Meter interface {
	Latest(connectorID int) (meter.Sample, bool)
	Begin(connectorID int, now time.Time) meter.Sample
	Integrate(connectorID int, now time.Time) (meter.Sample, bool)
	Restore(connectorID int, energyWh float64)
}

// Journal keeps the local log of charging sessions.
type Journal interface {
	Started(ctx context.Context, tx Transaction) error
	MeterUpdated(ctx context.Context, transactionID, meterWh int) error
	Stopped(ctx context.Context, transactionID, meterStopWh int, sent bool, at time.Time) error
}

// TransactionStore snapshots active transactions so they survive a restart. SaveMeter checkpoints
// the energy delivered so far; Load applies a checkpoint only to the transaction it was taken for.
type TransactionStore interface {
	Save(ctx context.Context, tx Transaction) error
	SaveMeter(ctx context.Context, tx Transaction, meterWh int) error
	Delete(ctx context.Context, connectorID int) error
	Load(ctx context.Context) ([]Transaction, error)
}

// Events receives notable state changes. Implementations must not block.
type Events interface {
	Publish(kind string, payload interface{})
}

// Restarter restarts the charge point process after a Reset.
type Restarter interface {
	Restart(kind core.ResetType)
}

// Triggers sends the messages a TriggerMessage may ask for that live outside the controller.
type Triggers interface {
	BootNotification(ctx context.Context) error
	MeterValues(ctx context.Context, connectorID *int) error
	FirmwareStatus(ctx context.Context) error
}

// Event kinds.
const (
	EventConnectorStatus    = "status"
	EventTransactionStarted = "transaction.started"
	EventTransactionStopped = "transaction.stopped"
	EventMeterValues        = "meter"
)

type nopJournal struct{}

func (nopJournal) Started(context.Context, Transaction) error { return nil }
func (nopJournal) MeterUpdated(context.Context, int, int) error { return nil }
func (nopJournal) Stopped(context.Context, int, int, bool, time.Time) error { return nil }

type nopStore struct{}

func (nopStore) Save(context.Context, Transaction) error { return nil }
func (nopStore) SaveMeter(context.Context, Transaction, int) error { return nil }
func (nopStore) Delete(context.Context, int) error { return nil }
func (nopStore) Load(context.Context) ([]Transaction, error) { return nil, nil }

type nopEvents struct{}

func (nopEvents) Publish(string, interface{}) {}

type nopRestarter struct{}

func (nopRestarter) Restart(core.ResetType) {}

// NopJournal discards journal entries.
func NopJournal() Journal { return nopJournal{} }

// NopEvents discards events.
func NopEvents() Events { return nopEvents{} }

// NopTransactionStore keeps nothing.
func NopTransactionStore() TransactionStore { return nopStore{} }
