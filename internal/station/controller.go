package station

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"go.uber.org/zap"

	"chargepoint/internal/hardware"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
)

const defaultResetDelay = 3 * time.Second

var ErrTriggerUnavailable = errors.New("station: trigger target unavailable")

// StopEvent is published when a transaction ends.
type StopEvent struct {
	Transaction
	MeterStopWh int        `json:"meter_stop_wh"`
	Reason      StopReason `json:"reason"`
	Sent        bool       `json:"sent"`
	StoppedAt   time.Time  `json:"stopped_at"`
}

// Options wires a Controller. State, Central, Relay, Meter and Config are required.
type Options struct {
	State        *State
	Central      CentralSystem
	Relay        hardware.Relay
	Meter        Meter
	Config       *ocppconfig.Store
	Auth         *AuthCache
	Journal      Journal
	Transactions TransactionStore
	Events       Events
	Restarter    Restarter
	Triggers     Triggers
	ResetDelay   time.Duration
	Logger       *zap.Logger
}

// Controller performs the operations that change connectors and transactions. It is meant to
// be run as the pipeline executor so those operations never interleave.
type Controller struct {
	state        *State
	central      CentralSystem
	relay        hardware.Relay
	meter        Meter
	config       *ocppconfig.Store
	auth         *AuthCache
	journal      Journal
	transactions TransactionStore
	events       Events
	restarter    Restarter
	triggers     Triggers
	resetDelay   time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewController(opts Options) *Controller {
	c := &Controller{
		state:        opts.State,
		central:      opts.Central,
		relay:        opts.Relay,
		meter:        opts.Meter,
		config:       opts.Config,
		auth:         opts.Auth,
		journal:      opts.Journal,
		transactions: opts.Transactions,
		events:       opts.Events,
		restarter:    opts.Restarter,
		triggers:     opts.Triggers,
		resetDelay:   opts.ResetDelay,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if c.auth == nil {
		c.auth = NewAuthCache()
	}
	if c.journal == nil {
		c.journal = nopJournal{}
	}
	if c.transactions == nil {
		c.transactions = nopStore{}
	}
	if c.events == nil {
		c.events = nopEvents{}
	}
	if c.restarter == nil {
		c.restarter = nopRestarter{}
	}
	if c.resetDelay <= 0 {
		c.resetDelay = defaultResetDelay
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// AuthCache returns the authorization cache.
func (c *Controller) AuthCache() *AuthCache { return c.auth }

// Execute runs one pipeline command.
func (c *Controller) Execute(ctx context.Context, cmd pipeline.Command) error {
	switch cmd := cmd.(type) {
	case StartCommand:
		accepted, err := c.StartTransaction(ctx, cmd.ConnectorID, cmd.IdTag)
		if err != nil {
			return err
		}
		if !accepted {
			c.logger.Info("start not accepted", zap.Int("connector_id", cmd.ConnectorID), zap.String("id_tag", cmd.IdTag))
		}
		return nil
	case StopCommand:
		return c.stop(ctx, cmd)
	case ResetCommand:
		return c.reset(ctx, cmd.Type)
	case ClearCacheCommand:
		c.auth.Clear()
		if err := c.config.Reload(); err != nil {
			return fmt.Errorf("reload configuration: %w", err)
		}
		c.logger.Info("authorization cache cleared")
		return nil
	case TriggerCommand:
		return c.trigger(ctx, cmd)
	case ClearFaultCommand:
		c.clearFault(cmd)
		return nil
	case EmergencyStopCommand:
		return c.emergencyStop(ctx, cmd.Pressed)
	default:
		return fmt.Errorf("station: unsupported command %T", cmd)
	}
}

// authorize asks the central system about idTag. While offline, a cached accepted tag is
// enough when LocalAuthorizeOffline is enabled.
func (c *Controller) authorize(ctx context.Context, idTag string) (bool, error) {
	offline := c.config.BoolOr(ocppconfig.KeyLocalAuthorizeOffline, false)
	if !c.central.Connected() && offline && c.auth.Accepted(idTag) {
		c.logger.Info("authorized from cache while offline", zap.String("id_tag", idTag))
		return true, nil
	}

	resp, err := c.central.Authorize(ctx, idTag)
	if err != nil {
		if offline && c.auth.Accepted(idTag) {
			c.logger.Warn("authorize failed, using cache", zap.String("id_tag", idTag), zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("authorize %s: %w", idTag, err)
	}
	c.auth.Put(idTag, resp.IdTagInfo)
	return resp.IdTagInfo != nil && resp.IdTagInfo.Status == types.AuthorizationStatusAccepted, nil
}

func meterWh(s float64) int {
	return int(math.Floor(s))
}

// StartTransaction authorizes idTag and starts a transaction on the connector. It returns false
// without side effects when the connector cannot take a session or the tag is refused.
func (c *Controller) StartTransaction(ctx context.Context, connectorID int, idTag string) (bool, error) {
	conn, ok := c.state.Connector(connectorID)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownConnector, connectorID)
	}
	if _, busy := c.state.Transaction(connectorID); busy {
		return false, nil
	}
	if conn.Status != core.ChargePointStatusAvailable && conn.Status != core.ChargePointStatusPreparing {
		return false, nil
	}

	authorized, err := c.authorize(ctx, idTag)
	if err != nil {
		return false, err
	}
	if !authorized {
		return false, nil
	}

	now := c.now()
	sample, _ := c.meter.Latest(connectorID)
	meterStart := meterWh(sample.EnergyWh)
	resp, err := c.central.StartTransaction(ctx, protocol.StartTransactionRequest{
		ConnectorId: connectorID,
		IdTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   types.NewDateTime(now),
	})
	if err != nil {
		return false, fmt.Errorf("start transaction on connector %d: %w", connectorID, err)
	}

	tx := Transaction{
		ID:           resp.TransactionId,
		ConnectorID:  connectorID,
		IdTag:        idTag,
		MeterStartWh: meterStart,
		StartedAt:    now,
	}
	if err := c.state.begin(tx); err != nil {
		return false, err
	}
	c.meter.Begin(connectorID, now)
	c.logger.Info("transaction started",
		zap.Int("connector_id", connectorID),
		zap.Int("transaction_id", tx.ID),
		zap.Int("meter_start", meterStart),
	)

	if err := c.relay.Open(ctx, connectorID); err != nil {
		c.logger.Error("relay failed to switch on", zap.Int("connector_id", connectorID), zap.Error(err))
		stopErr := c.stop(ctx, StopCommand{
			ConnectorID:   connectorID,
			TransactionID: tx.ID,
			Reason:        ReasonOther,
			Fault:         core.OtherError,
			Info:          "RelayFailure",
		})
		return true, errors.Join(err, stopErr)
	}

	if err := c.journal.Started(ctx, tx); err != nil {
		c.logger.Warn("journal start failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
	}
	if err := c.transactions.Save(ctx, tx); err != nil {
		c.logger.Warn("snapshot save failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
	}
	c.events.Publish(EventTransactionStarted, tx)

	if resp.IdTagInfo != nil {
		c.auth.Put(idTag, resp.IdTagInfo)
		if resp.IdTagInfo.Status != types.AuthorizationStatusAccepted {
			c.logger.Warn("transaction not authorized by central system",
				zap.Int("transaction_id", tx.ID),
				zap.String("status", string(resp.IdTagInfo.Status)),
			)
			return true, c.stop(ctx, StopCommand{ConnectorID: connectorID, TransactionID: tx.ID, Reason: ReasonDeAuthorized})
		}
	}
	return true, nil
}

// StopTransaction ends the transaction on a connector, if there is one.
func (c *Controller) StopTransaction(ctx context.Context, connectorID int, reason StopReason) error {
	return c.stop(ctx, StopCommand{ConnectorID: connectorID, Reason: reason})
}

func (c *Controller) stop(ctx context.Context, cmd StopCommand) error {
	tx, ok := c.state.Transaction(cmd.ConnectorID)
	if !ok {
		return nil
	}
	if cmd.TransactionID != 0 && cmd.TransactionID != tx.ID {
		c.logger.Debug("ignoring stop for finished transaction", zap.Stringer("command", cmd), zap.Int("active", tx.ID))
		return nil
	}

	if cmd.Reason.UserInitiated() {
		// audit only, a refused tag still ends its own session
		if ok, err := c.authorize(ctx, tx.IdTag); err != nil || !ok {
			c.logger.Warn("stop authorization not confirmed",
				zap.Int("transaction_id", tx.ID),
				zap.String("id_tag", tx.IdTag),
				zap.Bool("accepted", ok),
				zap.Error(err),
			)
		}
	}

	now := c.now()
	sample, _ := c.meter.Integrate(cmd.ConnectorID, now)
	meterStop := meterWh(sample.EnergyWh)
	if meterStop < tx.MeterStartWh {
		meterStop = tx.MeterStartWh
	}

	_, sendErr := c.central.StopTransaction(ctx, protocol.StopTransactionRequest{
		IdTag:         tx.IdTag,
		MeterStop:     meterStop,
		Timestamp:     types.NewDateTime(now),
		TransactionId: tx.ID,
		Reason:        cmd.Reason.Wire(),
	})
	if sendErr != nil {
		c.logger.Error("stop transaction not delivered", zap.Int("transaction_id", tx.ID), zap.Error(sendErr))
	}

	if err := c.relay.Close(ctx, cmd.ConnectorID); err != nil {
		c.logger.Error("relay failed to switch off", zap.Int("connector_id", cmd.ConnectorID), zap.Error(err))
	}

	status, code, info := core.ChargePointStatusAvailable, core.NoError, ""
	if cmd.Fault != "" && cmd.Fault != core.NoError {
		status, code, info = core.ChargePointStatusFaulted, cmd.Fault, cmd.Info
	} else if cmd.Reason == ReasonSuspendedEVSE {
		status, code = core.ChargePointStatusFaulted, core.OtherError
	}
	c.state.end(cmd.ConnectorID, status, code, info)

	if err := c.journal.Stopped(ctx, tx.ID, meterStop, sendErr == nil, now); err != nil {
		c.logger.Warn("journal stop failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
	}
	if err := c.transactions.Delete(ctx, cmd.ConnectorID); err != nil {
		c.logger.Warn("snapshot delete failed", zap.Int("transaction_id", tx.ID), zap.Error(err))
	}
	c.events.Publish(EventTransactionStopped, StopEvent{
		Transaction: tx,
		MeterStopWh: meterStop,
		Reason:      cmd.Reason,
		Sent:        sendErr == nil,
		StoppedAt:   now,
	})
	c.logger.Info("transaction stopped",
		zap.Int("connector_id", cmd.ConnectorID),
		zap.Int("transaction_id", tx.ID),
		zap.String("reason", string(cmd.Reason)),
		zap.Int("meter_stop", meterStop),
	)

	if sendErr != nil {
		return fmt.Errorf("stop transaction %d: %w", tx.ID, sendErr)
	}
	return nil
}

func (c *Controller) reset(ctx context.Context, kind core.ResetType) error {
	reason := ReasonSoftReset
	if kind == core.ResetTypeHard {
		reason = ReasonHardReset
	}

	var errs []error
	for _, tx := range c.state.Transactions() {
		if err := c.stop(ctx, StopCommand{ConnectorID: tx.ConnectorID, TransactionID: tx.ID, Reason: reason}); err != nil {
			errs = append(errs, err)
		}
	}
	for _, conn := range c.state.Connectors() {
		c.state.SetStatus(conn.ID, core.ChargePointStatusUnavailable, core.NoError, "")
	}

	c.logger.Info("restarting", zap.String("type", string(kind)), zap.Duration("delay", c.resetDelay))
	time.AfterFunc(c.resetDelay, func() { c.restarter.Restart(kind) })
	return errors.Join(errs...)
}

func (c *Controller) trigger(ctx context.Context, cmd TriggerCommand) error {
	switch cmd.Message {
	case protocol.TriggerStatusNotification:
		if cmd.ConnectorID != nil {
			c.state.Renotify(*cmd.ConnectorID)
		} else {
			c.state.Renotify()
		}
		return nil
	case protocol.TriggerHeartbeat:
		_, err := c.central.Heartbeat(ctx)
		return err
	}

	if c.triggers == nil {
		return fmt.Errorf("%w: %s", ErrTriggerUnavailable, cmd.Message)
	}
	switch cmd.Message {
	case protocol.TriggerBootNotification:
		return c.triggers.BootNotification(ctx)
	case protocol.TriggerMeterValues:
		return c.triggers.MeterValues(ctx, cmd.ConnectorID)
	case protocol.TriggerFirmwareStatusNotification:
		return c.triggers.FirmwareStatus(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrTriggerUnavailable, cmd.Message)
	}
}

func (c *Controller) clearFault(cmd ClearFaultCommand) {
	conn, ok := c.state.Connector(cmd.ConnectorID)
	if !ok || conn.Status != core.ChargePointStatusFaulted || conn.ErrorCode != cmd.Code || conn.Info == EmergencyStopInfo {
		return
	}
	if c.state.SetStatus(cmd.ConnectorID, core.ChargePointStatusAvailable, core.NoError, "") {
		c.logger.Info("fault cleared", zap.Int("connector_id", cmd.ConnectorID), zap.String("code", string(cmd.Code)))
	}
}

func (c *Controller) emergencyStop(ctx context.Context, pressed bool) error {
	var errs []error
	for _, conn := range c.state.Connectors() {
		if !pressed {
			if conn.Status == core.ChargePointStatusFaulted && conn.Info == EmergencyStopInfo {
				c.state.SetStatus(conn.ID, core.ChargePointStatusAvailable, core.NoError, "")
			}
			continue
		}

		if _, busy := c.state.Transaction(conn.ID); busy {
			err := c.stop(ctx, StopCommand{
				ConnectorID: conn.ID,
				Reason:      ReasonEmergencyStop,
				Fault:       core.OtherError,
				Info:        EmergencyStopInfo,
			})
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		c.state.SetStatus(conn.ID, core.ChargePointStatusFaulted, core.OtherError, EmergencyStopInfo)
	}
	return errors.Join(errs...)
}

// Restore brings back transactions that were active when the process last stopped.
func (c *Controller) Restore(ctx context.Context) error {
	saved, err := c.transactions.Load(ctx)
	if err != nil {
		return fmt.Errorf("load transaction snapshots: %w", err)
	}
	for _, tx := range saved {
		if err := c.state.begin(tx); err != nil {
			c.logger.Warn("dropping transaction snapshot", zap.Int("transaction_id", tx.ID), zap.Error(err))
			if delErr := c.transactions.Delete(ctx, tx.ConnectorID); delErr != nil {
				c.logger.Warn("snapshot delete failed", zap.Int("transaction_id", tx.ID), zap.Error(delErr))
			}
			continue
		}
		energy := tx.MeterStartWh
		if tx.MeterWh > energy {
			energy = tx.MeterWh
		}
		c.meter.Restore(tx.ConnectorID, float64(energy))
		c.meter.Begin(tx.ConnectorID, c.now())
		if err := c.relay.Open(ctx, tx.ConnectorID); err != nil {
			c.logger.Error("relay failed to switch on", zap.Int("connector_id", tx.ConnectorID), zap.Error(err))
		}
		c.logger.Info("transaction restored", zap.Int("connector_id", tx.ConnectorID), zap.Int("transaction_id", tx.ID))
	}
	return nil
}
