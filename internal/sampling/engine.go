// Package sampling reports meter values for active transactions and stops those that leave the
// configured electrical limits.
package sampling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/internal/meter"
	"chargepoint/internal/metrics"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
	"chargepoint/internal/station"
)

// Reporter delivers MeterValues.
type Reporter interface {
	MeterValues(ctx context.Context, req protocol.MeterValuesRequest) error
}

// Queue accepts pipeline commands.
type Queue interface {
	Enqueue(cmd pipeline.Command) bool
}

// Readings is the meter access the engine needs.
type Readings interface {
	Latest(connectorID int) (meter.Sample, bool)
	Integrate(connectorID int, now time.Time) (meter.Sample, bool)
}

// Options wires an Engine.
type Options struct {
	State    *station.State
	Meters   Readings
	Config   *ocppconfig.Store
	Reporter Reporter
	Queue    Queue
	Journal  station.Journal
	Events   station.Events
	Metrics  *metrics.Metrics
	Logger   *zap.Logger

	// Transactions receives an energy checkpoint for every active transaction on each tick.
	Transactions station.TransactionStore
}

// Engine outlives sessions; Run is started once per session. Stops already requested are
// remembered per transaction id across sessions.
type Engine struct {
	state    *station.State
	meters   Readings
	config   *ocppconfig.Store
	reporter Reporter
	queue    Queue
	journal  station.Journal
	events   station.Events
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	transactions station.TransactionStore

	mu       sync.Mutex
	stopping map[int]struct{}
}

func New(opts Options) *Engine {
	e := &Engine{
		state:    opts.State,
		meters:   opts.Meters,
		config:   opts.Config,
		reporter: opts.Reporter,
		queue:    opts.Queue,
		journal:  opts.Journal,
		events:   opts.Events,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		now:      time.Now,
		stopping: make(map[int]struct{}),

		transactions: opts.Transactions,
	}
	if e.journal == nil {
		e.journal = station.NopJournal()
	}
	if e.events == nil {
		e.events = station.NopEvents()
	}
	if e.transactions == nil {
		e.transactions = station.NopTransactionStore()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

type limits struct {
	voltageMin float64
	voltageMax float64
	currentMax float64
	powerMin   float64
	grace      time.Duration
}

func (e *Engine) limits() limits {
	return limits{
		voltageMin: float64(e.config.IntOr(ocppconfig.KeyVoltageMin, 200)),
		voltageMax: float64(e.config.IntOr(ocppconfig.KeyVoltageMax, 260)),
		currentMax: float64(e.config.IntOr(ocppconfig.KeyCurrentMax, 32)),
		powerMin:   float64(e.config.IntOr(ocppconfig.KeyPowerMin, 0)),
		grace:      time.Duration(e.config.IntOr(ocppconfig.KeyPowerGracePeriod, 120)) * time.Second,
	}
}

func (e *Engine) interval() time.Duration {
	seconds := e.config.IntOr(ocppconfig.KeyMeterValueSampleInterval, 60)
	if seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// Run ticks every MeterValueSampleInterval until ctx is done. registered tells whether reports
// may be sent on the current session.
func (e *Engine) Run(ctx context.Context, registered func() bool) error {
	for {
		timer := time.NewTimer(e.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		e.Tick(ctx, registered != nil && registered())
	}
}

// Tick integrates, reports and checks every active transaction once, then looks for faults that
// can be cleared.
func (e *Engine) Tick(ctx context.Context, report bool) {
	now := e.now()
	lim := e.limits()
	measurands := e.config.ListOr(ocppconfig.KeyMeterValuesSampledData, DefaultMeasurands)

	active := e.state.Transactions()
	e.forgetFinished(active)

	for _, tx := range active {
		sample, ok := e.meters.Integrate(tx.ConnectorID, now)
		if !ok {
			continue
		}
		if report {
			e.send(ctx, tx.ConnectorID, &tx.ID, sample, measurands, types.ReadingContextSamplePeriodic, now)
		}
		if err := e.journal.MeterUpdated(ctx, tx.ID, int(sample.EnergyWh)); err != nil {
			e.logger.Warn("journal meter update failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
		}
		if err := e.transactions.SaveMeter(ctx, tx, int(sample.EnergyWh)); err != nil {
			e.logger.Warn("meter checkpoint failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
		}
		e.events.Publish(station.EventMeterValues, map[string]interface{}{
			"connector_id":   tx.ConnectorID,
			"transaction_id": tx.ID,
			"voltage":        sample.Voltage,
			"current":        sample.Current,
			"power":          sample.Power,
			"energy_wh":      sample.EnergyWh,
		})
		e.check(tx, sample, lim, now)
	}

	e.recover(lim)
}

func (e *Engine) send(ctx context.Context, connectorID int, txID *int, s meter.Sample, measurands []string, rc types.ReadingContext, now time.Time) error {
	req := protocol.MeterValuesRequest{
		ConnectorId:   connectorID,
		TransactionId: txID,
		MeterValue:    []types.MeterValue{BuildMeterValue(s, measurands, rc, now)},
	}
	if err := e.reporter.MeterValues(ctx, req); err != nil {
		e.logger.Warn("meter values not delivered", zap.Int("connector_id", connectorID), zap.Error(err))
		return err
	}
	return nil
}

// Report sends the current sample of one connector (or all when connectorID is nil) right away.
func (e *Engine) Report(ctx context.Context, connectorID *int) error {
	measurands := e.config.ListOr(ocppconfig.KeyMeterValuesSampledData, DefaultMeasurands)
	now := e.now()

	var ids []int
	if connectorID != nil {
		ids = []int{*connectorID}
	} else {
		for _, c := range e.state.Connectors() {
			ids = append(ids, c.ID)
		}
	}

	var errs []error
	for _, id := range ids {
		s, ok := e.meters.Latest(id)
		if !ok {
			errs = append(errs, station.ErrUnknownConnector)
			continue
		}
		var txID *int
		if tx, active := e.state.Transaction(id); active {
			txID = &tx.ID
		}
		if err := e.send(ctx, id, txID, s, measurands, types.ReadingContextTrigger, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) check(tx station.Transaction, s meter.Sample, lim limits, now time.Time) {
	if s.At.IsZero() {
		return
	}

	var fault core.ChargePointErrorCode
	switch {
	case s.Voltage < lim.voltageMin:
		fault = core.UnderVoltage
	case s.Voltage > lim.voltageMax:
		fault = core.OverVoltage
	case s.Current > lim.currentMax:
		fault = core.OverCurrentFailure
	}

	if fault != "" {
		e.requestStop(station.StopCommand{
			ConnectorID:   tx.ConnectorID,
			TransactionID: tx.ID,
			Reason:        station.ReasonSuspendedEVSE,
			Fault:         fault,
		}, s)
		return
	}

	if lim.powerMin > 0 && s.Power < lim.powerMin && now.Sub(tx.StartedAt) >= lim.grace {
		e.requestStop(station.StopCommand{
			ConnectorID:   tx.ConnectorID,
			TransactionID: tx.ID,
			Reason:        station.ReasonEVDisconnected,
		}, s)
	}
}

// requestStop enqueues cmd unless a stop for the same transaction is already on its way.
func (e *Engine) requestStop(cmd station.StopCommand, s meter.Sample) {
	e.mu.Lock()
	if _, dup := e.stopping[cmd.TransactionID]; dup {
		e.mu.Unlock()
		return
	}
	e.stopping[cmd.TransactionID] = struct{}{}
	e.mu.Unlock()

	if !e.queue.Enqueue(cmd) {
		e.mu.Lock()
		delete(e.stopping, cmd.TransactionID)
		e.mu.Unlock()
		e.logger.Warn("fault stop refused by pipeline, retrying next tick", zap.Int("transaction_id", cmd.TransactionID))
		return
	}

	code := string(cmd.Fault)
	if code == "" {
		code = string(cmd.Reason)
	}
	e.metrics.RecordFaultStop(cmd.ConnectorID, code)
	e.logger.Warn("stopping transaction",
		zap.Int("connector_id", cmd.ConnectorID),
		zap.Int("transaction_id", cmd.TransactionID),
		zap.String("reason", string(cmd.Reason)),
		zap.String("fault", string(cmd.Fault)),
		zap.Float64("voltage", s.Voltage),
		zap.Float64("current", s.Current),
		zap.Float64("power", s.Power),
	)
}

// Dropped forgets a stop the pipeline evicted before it ran so the next tick requests it again.
func (e *Engine) Dropped(cmd pipeline.Command) {
	stop, ok := cmd.(station.StopCommand)
	if !ok {
		return
	}
	e.mu.Lock()
	_, pending := e.stopping[stop.TransactionID]
	delete(e.stopping, stop.TransactionID)
	e.mu.Unlock()
	if pending {
		e.logger.Warn("queued stop evicted, retrying next tick", zap.Int("transaction_id", stop.TransactionID))
	}
}

func (e *Engine) forgetFinished(active []station.Transaction) {
	live := make(map[int]struct{}, len(active))
	for _, tx := range active {
		live[tx.ID] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.stopping {
		if _, ok := live[id]; !ok {
			delete(e.stopping, id)
		}
	}
}

func electrical(code core.ChargePointErrorCode) bool {
	switch code {
	case core.UnderVoltage, core.OverVoltage, core.OverCurrentFailure:
		return true
	default:
		return false
	}
}

// recover asks for faulted idle connectors to return to Available once their sample is in range.
func (e *Engine) recover(lim limits) {
	for _, c := range e.state.Connectors() {
		if c.Status != core.ChargePointStatusFaulted || !electrical(c.ErrorCode) {
			continue
		}
		if _, busy := e.state.Transaction(c.ID); busy {
			continue
		}
		s, ok := e.meters.Latest(c.ID)
		if !ok || s.At.IsZero() {
			continue
		}
		if s.Voltage < lim.voltageMin || s.Voltage > lim.voltageMax || s.Current > lim.currentMax {
			continue
		}
		e.queue.Enqueue(station.ClearFaultCommand{ConnectorID: c.ID, Code: c.ErrorCode})
	}
}
