package sampling

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargepoint/internal/hardware"
	"chargepoint/internal/meter"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
	"chargepoint/internal/station"
)

type central struct {
	mu     sync.Mutex
	nextTx int
	stops  []protocol.StopTransactionRequest
}

func (c *central) Connected() bool { return true }

func (c *central) Authorize(context.Context, string) (*protocol.AuthorizeResponse, error) {
	return &protocol.AuthorizeResponse{IdTagInfo: types.NewIdTagInfo(types.AuthorizationStatusAccepted)}, nil
}

func (c *central) StartTransaction(context.Context, protocol.StartTransactionRequest) (*protocol.StartTransactionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextTx++
	return &protocol.StartTransactionResponse{TransactionId: c.nextTx, IdTagInfo: types.NewIdTagInfo(types.AuthorizationStatusAccepted)}, nil
}

func (c *central) StopTransaction(_ context.Context, req protocol.StopTransactionRequest) (*protocol.StopTransactionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, req)
	return &protocol.StopTransactionResponse{}, nil
}

func (c *central) Stops() []protocol.StopTransactionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.StopTransactionRequest(nil), c.stops...)
}

func (c *central) Heartbeat(context.Context) (*protocol.HeartbeatResponse, error) {
	return &protocol.HeartbeatResponse{CurrentTime: types.NewDateTime(time.Now())}, nil
}

type reporter struct {
	mu   sync.Mutex
	reqs []protocol.MeterValuesRequest
}

func (r *reporter) MeterValues(_ context.Context, req protocol.MeterValuesRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return nil
}

type queue struct {
	mu     sync.Mutex
	refuse bool
	cmds   []pipeline.Command
}

func (q *queue) Enqueue(cmd pipeline.Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.refuse {
		return false
	}
	q.cmds = append(q.cmds, cmd)
	return true
}

type checkpoints struct {
	mu    sync.Mutex
	marks map[int]int
}

func (c *checkpoints) Save(context.Context, station.Transaction) error { return nil }
func (c *checkpoints) Delete(context.Context, int) error              { return nil }
func (c *checkpoints) Load(context.Context) ([]station.Transaction, error) {
	return nil, nil
}

func (c *checkpoints) SaveMeter(_ context.Context, tx station.Transaction, meterWh int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.marks == nil {
		c.marks = make(map[int]int)
	}
	c.marks[tx.ID] = meterWh
	return nil
}

type fixture struct {
	state      *station.State
	meters     *meter.Registry
	central    *central
	controller *station.Controller
	reporter   *reporter
	config     *ocppconfig.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:    station.NewState(2),
		meters:   meter.NewRegistry(2, nil),
		central:  &central{},
		reporter: &reporter{},
		config:   ocppconfig.NewMemory(ocppconfig.Defaults()),
	}
	f.controller = station.NewController(station.Options{
		State:   f.state,
		Central: f.central,
		Relay:   hardware.NewLogRelay(nil),
		Meter:   f.meters,
		Config:  f.config,
	})
	return f
}

func (f *fixture) engine(q Queue) *Engine {
	return New(Options{
		State:    f.state,
		Meters:   f.meters,
		Config:   f.config,
		Reporter: f.reporter,
		Queue:    q,
	})
}

func (f *fixture) start(t *testing.T, connectorID int) station.Transaction {
	t.Helper()
	ok, err := f.controller.StartTransaction(context.Background(), connectorID, "TAG")
	require.NoError(t, err)
	require.True(t, ok)
	tx, ok := f.state.Transaction(connectorID)
	require.True(t, ok)
	return tx
}

func TestOvervoltageStopsTransaction(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	tx := f.start(t, 1)

	p := pipeline.New(pipeline.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, f.controller) }()
	defer func() {
		cancel()
		<-done
	}()

	e := f.engine(p)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 300, Current: 10, Power: 3000})
	e.Tick(ctx, true)

	require.Eventually(t, func() bool {
		_, active := f.state.Transaction(1)
		return !active
	}, time.Second, 5*time.Millisecond)

	c, _ := f.state.Connector(1)
	assert.Equal(t, core.ChargePointStatusFaulted, c.Status)
	assert.Equal(t, core.OverVoltage, c.ErrorCode)
	stops := f.central.Stops()
	require.Len(t, stops, 1)
	assert.Equal(t, tx.ID, stops[0].TransactionId)
	assert.Equal(t, core.ReasonOther, stops[0].Reason)

	// still out of range: stays faulted
	e.Tick(ctx, true)
	c, _ = f.state.Connector(1)
	assert.Equal(t, core.ChargePointStatusFaulted, c.Status)

	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230})
	e.Tick(ctx, true)
	require.Eventually(t, func() bool {
		c, _ := f.state.Connector(1)
		return c.Status == core.ChargePointStatusAvailable
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.central.Stops(), 1)
}

func TestFaultStopRequestedOnce(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	f.start(t, 1)

	q := &queue{}
	e := f.engine(q)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 40, Power: 9200})

	e.Tick(context.Background(), false)
	e.Tick(context.Background(), false)
	e.Tick(context.Background(), false)

	require.Len(t, q.cmds, 1)
	stop, ok := q.cmds[0].(station.StopCommand)
	require.True(t, ok)
	assert.Equal(t, core.OverCurrentFailure, stop.Fault)
	assert.Equal(t, station.ReasonSuspendedEVSE, stop.Reason)
	assert.Empty(t, f.reporter.reqs)
}

func TestRefusedStopIsRetried(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	f.start(t, 1)

	q := &queue{refuse: true}
	e := f.engine(q)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 150, Current: 10, Power: 1500})

	e.Tick(context.Background(), false)
	assert.Empty(t, q.cmds)

	q.refuse = false
	e.Tick(context.Background(), false)
	require.Len(t, q.cmds, 1)
	assert.Equal(t, core.UnderVoltage, q.cmds[0].(station.StopCommand).Fault)
}

func TestEvictedStopIsRequestedAgain(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	tx := f.start(t, 1)

	var e *Engine
	p := pipeline.New(pipeline.Options{Size: 1, OnDrop: func(cmd pipeline.Command) { e.Dropped(cmd) }})
	e = f.engine(p)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 40, Power: 9200})

	e.Tick(context.Background(), false)
	require.Equal(t, 1, p.Len())
	require.True(t, p.Enqueue(station.ClearCacheCommand{}))

	e.Tick(context.Background(), false)
	require.Equal(t, 1, p.Len())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, f.controller) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		_, active := f.state.Transaction(1)
		return !active
	}, time.Second, 5*time.Millisecond)
	stops := f.central.Stops()
	require.Len(t, stops, 1)
	assert.Equal(t, tx.ID, stops[0].TransactionId)
}

func TestTickCheckpointsEnergy(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	tx := f.start(t, 1)

	store := &checkpoints{}
	e := New(Options{
		State:        f.state,
		Meters:       f.meters,
		Config:       f.config,
		Reporter:     f.reporter,
		Queue:        &queue{},
		Transactions: store,
	})
	e.now = func() time.Time { return tx.StartedAt.Add(time.Hour) }
	e.Tick(context.Background(), false)

	s, ok := f.meters.Latest(1)
	require.True(t, ok)
	require.Greater(t, s.EnergyWh, 0.0)
	assert.Equal(t, map[int]int{tx.ID: int(s.EnergyWh)}, store.marks)
}

func TestPowerStallAfterGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230})
	tx := f.start(t, 1)

	q := &queue{}
	e := f.engine(q)

	e.now = func() time.Time { return tx.StartedAt.Add(time.Minute) }
	e.Tick(context.Background(), false)
	assert.Empty(t, q.cmds)

	e.now = func() time.Time { return tx.StartedAt.Add(3 * time.Minute) }
	e.Tick(context.Background(), false)
	require.Len(t, q.cmds, 1)
	stop := q.cmds[0].(station.StopCommand)
	assert.Equal(t, station.ReasonEVDisconnected, stop.Reason)
	assert.Equal(t, tx.ID, stop.TransactionID)
	assert.Empty(t, stop.Fault)
}

func TestReportedEnergyIsMonotonic(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 8.7, Power: 2000})
	tx := f.start(t, 1)

	e := f.engine(&queue{})
	for i := 1; i <= 4; i++ {
		at := tx.StartedAt.Add(time.Duration(i) * 15 * time.Minute)
		e.now = func() time.Time { return at }
		e.Tick(context.Background(), true)
	}

	require.Len(t, f.reporter.reqs, 4)
	last := -1
	for _, req := range f.reporter.reqs {
		require.NotNil(t, req.TransactionId)
		assert.Equal(t, tx.ID, *req.TransactionId)
		require.Len(t, req.MeterValue, 1)
		sv := req.MeterValue[0].SampledValue
		require.Len(t, sv, 4)
		assert.Equal(t, types.MeasurandEnergyActiveImportRegister, sv[0].Measurand)
		assert.Equal(t, types.ReadingContextSamplePeriodic, sv[0].Context)
		wh, err := strconv.Atoi(sv[0].Value)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, wh, last)
		last = wh
	}
	assert.Equal(t, 2000, last)
}

func TestTriggeredReport(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 2, Voltage: 231.26, Current: 0, Power: 0})
	e := f.engine(&queue{})

	id := 2
	require.NoError(t, e.Report(context.Background(), &id))
	require.Len(t, f.reporter.reqs, 1)
	req := f.reporter.reqs[0]
	assert.Equal(t, 2, req.ConnectorId)
	assert.Nil(t, req.TransactionId)
	sv := req.MeterValue[0].SampledValue
	assert.Equal(t, types.ReadingContextTrigger, sv[1].Context)
	assert.Equal(t, "231.3", sv[1].Value)

	require.NoError(t, e.Report(context.Background(), nil))
	assert.Len(t, f.reporter.reqs, 3)

	missing := 9
	assert.ErrorIs(t, e.Report(context.Background(), &missing), station.ErrUnknownConnector)
}

func TestBuildMeterValueSkipsUnknownMeasurands(t *testing.T) {
	mv := BuildMeterValue(meter.Sample{EnergyWh: 12.9, Power: 100}, []string{"Temperature", "Power.Active.Import", "Energy.Active.Import.Register"}, types.ReadingContextSamplePeriodic, time.Now())
	require.Len(t, mv.SampledValue, 2)
	assert.Equal(t, "100.0", mv.SampledValue[0].Value)
	assert.Equal(t, types.UnitOfMeasureW, mv.SampledValue[0].Unit)
	assert.Equal(t, "12", mv.SampledValue[1].Value)
	assert.Equal(t, types.UnitOfMeasureWh, mv.SampledValue[1].Unit)
}
