package station

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chargepoint/internal/hardware"
	"chargepoint/internal/meter"
	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/pipeline"
)

type fakeCentral struct {
	mu         sync.Mutex
	connected  bool
	authStatus types.AuthorizationStatus
	authErr    error
	startErr   error
	startTag   types.AuthorizationStatus
	stopErr    error
	nextTx     int
	calls      []string
	starts     []protocol.StartTransactionRequest
	stops      []protocol.StopTransactionRequest
}

func newFakeCentral() *fakeCentral {
	return &fakeCentral{
		connected:  true,
		authStatus: types.AuthorizationStatusAccepted,
		startTag:   types.AuthorizationStatusAccepted,
		nextTx:     42,
	}
}

func (f *fakeCentral) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCentral) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCentral) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeCentral) Authorize(_ context.Context, idTag string) (*protocol.AuthorizeResponse, error) {
	f.record("Authorize")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &protocol.AuthorizeResponse{IdTagInfo: types.NewIdTagInfo(f.authStatus)}, nil
}

func (f *fakeCentral) StartTransaction(_ context.Context, req protocol.StartTransactionRequest) (*protocol.StartTransactionResponse, error) {
	f.record("StartTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.starts = append(f.starts, req)
	id := f.nextTx
	f.nextTx++
	return &protocol.StartTransactionResponse{TransactionId: id, IdTagInfo: types.NewIdTagInfo(f.startTag)}, nil
}

func (f *fakeCentral) StopTransaction(_ context.Context, req protocol.StopTransactionRequest) (*protocol.StopTransactionResponse, error) {
	f.record("StopTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, req)
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &protocol.StopTransactionResponse{}, nil
}

func (f *fakeCentral) Heartbeat(context.Context) (*protocol.HeartbeatResponse, error) {
	f.record("Heartbeat")
	return &protocol.HeartbeatResponse{CurrentTime: types.NewDateTime(time.Now())}, nil
}

type fakeStore struct {
	mu     sync.Mutex
	saved  map[int]Transaction
	meters map[int][2]int
}

func (s *fakeStore) SaveMeter(_ context.Context, tx Transaction, meterWh int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meters == nil {
		s.meters = make(map[int][2]int)
	}
	s.meters[tx.ConnectorID] = [2]int{tx.ID, meterWh}
	return nil
}

func (s *fakeStore) Save(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[int]Transaction)
	}
	s.saved[tx.ConnectorID] = tx
	return nil
}

func (s *fakeStore) Delete(_ context.Context, connectorID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, connectorID)
	return nil
}

func (s *fakeStore) Load(context.Context) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, tx := range s.saved {
		if mark, ok := s.meters[tx.ConnectorID]; ok && mark[0] == tx.ID {
			tx.MeterWh = mark[1]
		}
		out = append(out, tx)
	}
	return out, nil
}

type restartRecorder struct {
	ch chan core.ResetType
}

func (r *restartRecorder) Restart(kind core.ResetType) { r.ch <- kind }

type fixture struct {
	state      *State
	central    *fakeCentral
	relay      *hardware.LogRelay
	meters     *meter.Registry
	store      *fakeStore
	config     *ocppconfig.Store
	restarts   *restartRecorder
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:    NewState(2),
		central:  newFakeCentral(),
		relay:    hardware.NewLogRelay(nil),
		meters:   meter.NewRegistry(2, nil),
		store:    &fakeStore{},
		config:   ocppconfig.NewMemory(ocppconfig.Defaults()),
		restarts: &restartRecorder{ch: make(chan core.ResetType, 1)},
	}
	f.controller = NewController(Options{
		State:        f.state,
		Central:      f.central,
		Relay:        f.relay,
		Meter:        f.meters,
		Config:       f.config,
		Transactions: f.store,
		Restarter:    f.restarts,
		ResetDelay:   10 * time.Millisecond,
	})
	return f
}

func (f *fixture) status(t *testing.T, id int) Connector {
	t.Helper()
	c, ok := f.state.Connector(id)
	require.True(t, ok)
	return c
}

func TestStartTransactionScenario(t *testing.T) {
	f := newFixture(t)
	f.meters.Publish(meter.Reading{ConnectorID: 1, Voltage: 230, Current: 10, Power: 2300})
	ctx := context.Background()

	ok, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	require.True(t, ok)

	tx, ok := f.state.Transaction(1)
	require.True(t, ok)
	assert.Equal(t, 42, tx.ID)
	assert.Equal(t, "TAG1", tx.IdTag)
	assert.Equal(t, core.ChargePointStatusCharging, f.status(t, 1).Status)
	assert.True(t, f.relay.Energized(1))
	assert.Equal(t, []string{"Authorize", "StartTransaction"}, f.central.Calls())
	assert.Contains(t, f.store.saved, 1)

	// a second start on a busy connector is refused without talking to the central system
	ok, err = f.controller.StartTransaction(ctx, 1, "TAG2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.central.Calls(), 2)
	assert.Len(t, f.state.Transactions(), 1)
}

func TestStartTransactionRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown connector", func(t *testing.T) {
		f := newFixture(t)
		ok, err := f.controller.StartTransaction(ctx, 7, "TAG1")
		assert.ErrorIs(t, err, ErrUnknownConnector)
		assert.False(t, ok)
	})

	t.Run("tag refused", func(t *testing.T) {
		f := newFixture(t)
		f.central.authStatus = types.AuthorizationStatusBlocked
		ok, err := f.controller.StartTransaction(ctx, 1, "TAG1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"Authorize"}, f.central.Calls())
		assert.Equal(t, core.ChargePointStatusAvailable, f.status(t, 1).Status)
	})

	t.Run("start call fails", func(t *testing.T) {
		f := newFixture(t)
		f.central.startErr = ocpp.ErrTimeout
		ok, err := f.controller.StartTransaction(ctx, 1, "TAG1")
		assert.ErrorIs(t, err, ocpp.ErrTimeout)
		assert.False(t, ok)
		assert.False(t, f.relay.Energized(1))
		_, active := f.state.Transaction(1)
		assert.False(t, active)
		assert.Equal(t, core.ChargePointStatusAvailable, f.status(t, 1).Status)
	})

	t.Run("faulted connector", func(t *testing.T) {
		f := newFixture(t)
		f.state.SetStatus(2, core.ChargePointStatusFaulted, core.OverVoltage, "")
		ok, err := f.controller.StartTransaction(ctx, 2, "TAG1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, f.central.Calls())
	})

	t.Run("deauthorized in start reply", func(t *testing.T) {
		f := newFixture(t)
		f.central.startTag = types.AuthorizationStatusInvalid
		ok, err := f.controller.StartTransaction(ctx, 1, "TAG1")
		require.NoError(t, err)
		assert.True(t, ok)
		_, active := f.state.Transaction(1)
		assert.False(t, active)
		require.Len(t, f.central.stops, 1)
		assert.Equal(t, core.ReasonDeAuthorized, f.central.stops[0].Reason)
		assert.Equal(t, core.ChargePointStatusAvailable, f.status(t, 1).Status)
	})
}

func TestStopCompletesWhenCallFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)

	f.central.stopErr = ocpp.ErrConnectionLost
	err = f.controller.StopTransaction(ctx, 1, ReasonRemote)
	assert.ErrorIs(t, err, ocpp.ErrConnectionLost)

	_, active := f.state.Transaction(1)
	assert.False(t, active)
	assert.False(t, f.relay.Energized(1))
	assert.Equal(t, core.ChargePointStatusAvailable, f.status(t, 1).Status)
	assert.NotContains(t, f.store.saved, 1)

	// nothing left to stop
	assert.NoError(t, f.controller.StopTransaction(ctx, 1, ReasonRemote))
	assert.Len(t, f.central.stops, 1)
}

func TestStopAuthorizationPolicy(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	f.central.authStatus = types.AuthorizationStatusBlocked
	require.NoError(t, f.controller.StopTransaction(ctx, 1, ReasonLocal))
	assert.Equal(t, []string{"Authorize", "StartTransaction", "Authorize", "StopTransaction"}, f.central.Calls())
	assert.Equal(t, core.ReasonLocal, f.central.stops[0].Reason)

	f = newFixture(t)
	_, err = f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	require.NoError(t, f.controller.StopTransaction(ctx, 1, ReasonRemote))
	assert.Equal(t, []string{"Authorize", "StartTransaction", "StopTransaction"}, f.central.Calls())
}

func TestFaultStopLeavesConnectorFaulted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)

	// a stale stop for another transaction id is ignored
	require.NoError(t, f.controller.Execute(ctx, StopCommand{ConnectorID: 1, TransactionID: 7, Reason: ReasonSuspendedEVSE, Fault: core.OverVoltage}))
	_, active := f.state.Transaction(1)
	require.True(t, active)

	require.NoError(t, f.controller.Execute(ctx, StopCommand{ConnectorID: 1, TransactionID: 42, Reason: ReasonSuspendedEVSE, Fault: core.OverVoltage}))
	c := f.status(t, 1)
	assert.Equal(t, core.ChargePointStatusFaulted, c.Status)
	assert.Equal(t, core.OverVoltage, c.ErrorCode)
	assert.Equal(t, core.ReasonOther, f.central.stops[0].Reason)

	require.NoError(t, f.controller.Execute(ctx, ClearFaultCommand{ConnectorID: 1, Code: core.OverCurrentFailure}))
	assert.Equal(t, core.ChargePointStatusFaulted, f.status(t, 1).Status)
	require.NoError(t, f.controller.Execute(ctx, ClearFaultCommand{ConnectorID: 1, Code: core.OverVoltage}))
	assert.Equal(t, core.ChargePointStatusAvailable, f.status(t, 1).Status)
}

func TestMeterStopUsesIntegratedEnergy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	f.controller.now = func() time.Time { return start }
	f.meters.Publish(meter.Reading{ConnectorID: 1, Power: 3000})

	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	f.controller.now = func() time.Time { return start.Add(30 * time.Minute) }
	require.NoError(t, f.controller.StopTransaction(ctx, 1, ReasonRemote))

	assert.Equal(t, 0, f.central.starts[0].MeterStart)
	assert.Equal(t, 1500, f.central.stops[0].MeterStop)
}

func TestPipelineOrderingStartStopStart(t *testing.T) {
	f := newFixture(t)
	p := pipeline.New(pipeline.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, f.controller) }()
	defer func() {
		cancel()
		<-done
	}()

	p.Enqueue(StartCommand{ConnectorID: 1, IdTag: "A"})
	p.Enqueue(StopCommand{ConnectorID: 1, Reason: ReasonRemote})
	p.Enqueue(StartCommand{ConnectorID: 1, IdTag: "B"})

	require.Eventually(t, func() bool {
		tx, ok := f.state.Transaction(1)
		return ok && tx.IdTag == "B"
	}, time.Second, 5*time.Millisecond)

	calls := f.central.Calls()
	assert.Equal(t, []string{"Authorize", "StartTransaction", "StopTransaction", "Authorize", "StartTransaction"}, calls)
	tx, _ := f.state.Transaction(1)
	assert.Equal(t, 43, tx.ID)
	assert.Equal(t, 42, f.central.stops[0].TransactionId)
}

func TestAtMostOneTransactionPerConnector(t *testing.T) {
	f := newFixture(t)
	p := pipeline.New(pipeline.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, f.controller) }()
	defer func() {
		cancel()
		<-done
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Enqueue(StartCommand{ConnectorID: 1, IdTag: "TAG"})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return p.Len() == 0 }, time.Second, 5*time.Millisecond)
	// let the last command finish
	p.Enqueue(TriggerCommand{Message: protocol.TriggerHeartbeat})
	require.Eventually(t, func() bool {
		calls := f.central.Calls()
		return len(calls) > 0 && calls[len(calls)-1] == "Heartbeat"
	}, time.Second, 5*time.Millisecond)

	var starts int
	for _, c := range f.central.Calls() {
		if c == "StartTransaction" {
			starts++
		}
	}
	assert.Equal(t, 1, starts)
	assert.Len(t, f.state.Transactions(), 1)
}

func TestSecondStartOnBusyConnectorIsRejected(t *testing.T) {
	f := newFixture(t)
	p := pipeline.New(pipeline.Options{})

	var (
		mu      sync.Mutex
		results []bool
	)
	exec := pipeline.ExecutorFunc(func(ctx context.Context, cmd pipeline.Command) error {
		start, ok := cmd.(StartCommand)
		if !ok {
			return f.controller.Execute(ctx, cmd)
		}
		accepted, err := f.controller.StartTransaction(ctx, start.ConnectorID, start.IdTag)
		mu.Lock()
		results = append(results, accepted)
		mu.Unlock()
		return err
	})

	require.True(t, p.Enqueue(StartCommand{ConnectorID: 1, IdTag: "TAG1"}))
	require.True(t, p.Enqueue(StartCommand{ConnectorID: 1, IdTag: "TAG2"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, exec) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{true, false}, results)
	mu.Unlock()

	tx, ok := f.state.Transaction(1)
	require.True(t, ok)
	assert.Equal(t, "TAG1", tx.IdTag)
	assert.Len(t, f.central.starts, 1)
}

func TestResetStopsEverythingAndRestarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	_, err = f.controller.StartTransaction(ctx, 2, "TAG2")
	require.NoError(t, err)

	require.NoError(t, f.controller.Execute(ctx, ResetCommand{Type: core.ResetTypeHard}))
	assert.Empty(t, f.state.Transactions())
	require.Len(t, f.central.stops, 2)
	assert.Equal(t, core.ReasonHardReset, f.central.stops[0].Reason)
	for _, c := range f.state.Connectors() {
		assert.Equal(t, core.ChargePointStatusUnavailable, c.Status)
	}

	select {
	case kind := <-f.restarts.ch:
		assert.Equal(t, core.ResetTypeHard, kind)
	case <-time.After(time.Second):
		t.Fatal("restart not requested")
	}
}

func TestEmergencyStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)

	require.NoError(t, f.controller.Execute(ctx, EmergencyStopCommand{Pressed: true}))
	assert.Empty(t, f.state.Transactions())
	assert.Equal(t, core.ReasonEmergencyStop, f.central.stops[0].Reason)
	for _, c := range f.state.Connectors() {
		assert.Equal(t, core.ChargePointStatusFaulted, c.Status)
		assert.Equal(t, EmergencyStopInfo, c.Info)
	}

	// electrical recovery does not clear an emergency stop
	require.NoError(t, f.controller.Execute(ctx, ClearFaultCommand{ConnectorID: 2, Code: core.OtherError}))
	assert.Equal(t, core.ChargePointStatusFaulted, f.status(t, 2).Status)

	require.NoError(t, f.controller.Execute(ctx, EmergencyStopCommand{Pressed: false}))
	for _, c := range f.state.Connectors() {
		assert.Equal(t, core.ChargePointStatusAvailable, c.Status)
	}
}

func TestOfflineAuthorizationFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.config.Set(ocppconfig.KeyLocalAuthorizeOffline, "true"))

	_, err := f.controller.StartTransaction(ctx, 1, "TAG1")
	require.NoError(t, err)
	require.NoError(t, f.controller.StopTransaction(ctx, 1, ReasonRemote))

	f.central.connected = false
	f.central.authErr = ocpp.ErrNotConnected
	ok, err := f.controller.authorize(ctx, "TAG1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.controller.authorize(ctx, "OTHER")
	assert.ErrorIs(t, err, ocpp.ErrNotConnected)

	require.NoError(t, f.controller.Execute(ctx, ClearCacheCommand{}))
	_, err = f.controller.authorize(ctx, "TAG1")
	assert.ErrorIs(t, err, ocpp.ErrNotConnected)
}

func TestTriggerStatusNotificationRenotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, n := range f.state.PendingNotifications() {
		f.state.MarkNotified(n.Connector.ID, n.Version)
	}
	require.Empty(t, f.state.PendingNotifications())

	id := 2
	require.NoError(t, f.controller.Execute(ctx, TriggerCommand{Message: protocol.TriggerStatusNotification, ConnectorID: &id}))
	pending := f.state.PendingNotifications()
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Connector.ID)

	require.NoError(t, f.controller.Execute(ctx, TriggerCommand{Message: protocol.TriggerStatusNotification}))
	assert.Len(t, f.state.PendingNotifications(), 2)

	err := f.controller.Execute(ctx, TriggerCommand{Message: protocol.TriggerBootNotification})
	assert.ErrorIs(t, err, ErrTriggerUnavailable)
}

func TestRestoreTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, Transaction{ID: 9, ConnectorID: 2, IdTag: "TAG", MeterStartWh: 1200, StartedAt: time.Now()}))
	require.NoError(t, f.store.Save(ctx, Transaction{ID: 10, ConnectorID: 5, IdTag: "TAG"}))

	require.NoError(t, f.controller.Restore(ctx))
	tx, ok := f.state.Transaction(2)
	require.True(t, ok)
	assert.Equal(t, 9, tx.ID)
	assert.Equal(t, core.ChargePointStatusCharging, f.status(t, 2).Status)
	assert.True(t, f.relay.Energized(2))
	s, _ := f.meters.Latest(2)
	assert.Equal(t, 1200.0, s.EnergyWh)
	assert.NotContains(t, f.store.saved, 5)
}

func TestRestoreResumesFromMeterCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := Transaction{ID: 9, ConnectorID: 2, IdTag: "TAG", MeterStartWh: 1200, StartedAt: time.Now()}
	require.NoError(t, f.store.Save(ctx, tx))
	require.NoError(t, f.store.SaveMeter(ctx, tx, 1850))

	require.NoError(t, f.controller.Restore(ctx))
	s, _ := f.meters.Latest(2)
	assert.Equal(t, 1850.0, s.EnergyWh)

	require.NoError(t, f.controller.Execute(ctx, StopCommand{ConnectorID: 2, TransactionID: 9, Reason: ReasonRemote}))
	require.Len(t, f.central.stops, 1)
	assert.Equal(t, 1850, f.central.stops[0].MeterStop)
}

func TestStateStatusNotifications(t *testing.T) {
	s := NewState(1)
	pending := s.PendingNotifications()
	require.Len(t, pending, 1)
	s.MarkNotified(1, pending[0].Version)
	assert.Empty(t, s.PendingNotifications())

	assert.False(t, s.SetStatus(1, core.ChargePointStatusAvailable, "", ""))
	assert.Empty(t, s.PendingNotifications())
	assert.False(t, s.SetStatus(1, core.ChargePointStatusCharging, "", ""), "charging needs a transaction")
	assert.False(t, s.SetStatus(3, core.ChargePointStatusFaulted, "", ""))

	require.True(t, s.SetStatus(1, core.ChargePointStatusUnavailable, "", ""))
	inFlight := s.PendingNotifications()[0]
	// changed again while the first notification is being sent
	require.True(t, s.SetStatus(1, core.ChargePointStatusAvailable, "", ""))
	s.MarkNotified(1, inFlight.Version)
	pending = s.PendingNotifications()
	require.Len(t, pending, 1)
	assert.Equal(t, core.ChargePointStatusAvailable, pending[0].Connector.Status)

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change signal")
	}
}

func TestStopReasonWire(t *testing.T) {
	assert.Equal(t, core.ReasonOther, ReasonSuspendedEVSE.Wire())
	assert.Equal(t, core.ReasonEVDisconnected, ReasonEVDisconnected.Wire())
	assert.Equal(t, core.ReasonOther, StopReason("Bogus").Wire())
	assert.True(t, ReasonUnlockCommand.UserInitiated())
	assert.False(t, ReasonRemote.UserInitiated())
}

func TestAuthCacheExpiry(t *testing.T) {
	cache := NewAuthCache()
	now := time.Now()
	cache.now = func() time.Time { return now }

	info := types.NewIdTagInfo(types.AuthorizationStatusAccepted)
	info.ExpiryDate = types.NewDateTime(now.Add(time.Minute))
	cache.Put("A", info)
	assert.True(t, cache.Accepted("A"))

	cache.now = func() time.Time { return now.Add(2 * time.Minute) }
	assert.False(t, cache.Accepted("A"))

	cache.Put("A", types.NewIdTagInfo(types.AuthorizationStatusBlocked))
	assert.Zero(t, cache.Len())
}
