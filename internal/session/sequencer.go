package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"go.uber.org/zap"

	"chargepoint/internal/ocpp/protocol"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/station"
)

// Registrar is the part of the OCPP client the sequencer uses.
type Registrar interface {
	BootNotification(ctx context.Context, req protocol.BootNotificationRequest) (*protocol.BootNotificationResponse, error)
	Heartbeat(ctx context.Context) (*protocol.HeartbeatResponse, error)
}

// Identity is what BootNotification reports about the charge point.
type Identity struct {
	FirmwareVersion string
	SerialNumber    string
	MeterType       string
}

// Sequencer registers one session and keeps it alive. A new one is made for every session.
type Sequencer struct {
	client   Registrar
	state    *station.State
	config   *ocppconfig.Store
	identity Identity
	logger   *zap.Logger
	unit     time.Duration

	registered atomic.Bool
	ready      chan struct{}
	readyOnce  sync.Once

	mu         sync.Mutex
	override   int
	configured int
}

func NewSequencer(client Registrar, state *station.State, config *ocppconfig.Store, identity Identity, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		client:   client,
		state:    state,
		config:   config,
		identity: identity,
		logger:   logger,
		unit:     time.Second,
		ready:    make(chan struct{}),
	}
}

// Registered reports whether the central system accepted this session.
func (s *Sequencer) Registered() bool { return s.registered.Load() }

// Ready is closed once the session is registered.
func (s *Sequencer) Ready() <-chan struct{} { return s.ready }

// Boot sends BootNotification until it is accepted or 1+MaxBootNotificationRetries attempts
// have failed. A session that gives up stays open but unregistered.
func (s *Sequencer) Boot(ctx context.Context) bool {
	attempts := 1 + s.config.IntOr(ocppconfig.KeyMaxBootNotificationRetries, 5)
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.Notify(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		s.logger.Warn("boot notification not accepted",
			zap.Int("attempt", attempt),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		wait := time.Duration(s.config.IntOr(ocppconfig.KeyBootNotificationRetryInterval, 10)) * s.unit
		if !sleep(ctx, wait) {
			return false
		}
	}
	s.logger.Error("giving up on registration for this session", zap.Int("attempts", attempts))
	return false
}

// Notify makes a single BootNotification attempt.
func (s *Sequencer) Notify(ctx context.Context) error {
	resp, err := s.client.BootNotification(ctx, protocol.BootNotificationRequest{
		ChargePointVendor:       s.config.StringOr(ocppconfig.KeyVendor, ""),
		ChargePointModel:        s.config.StringOr(ocppconfig.KeyModel, ""),
		ChargePointSerialNumber: s.identity.SerialNumber,
		FirmwareVersion:         s.identity.FirmwareVersion,
		MeterType:               s.identity.MeterType,
	})
	if err != nil {
		return err
	}
	if resp.Status != core.RegistrationStatusAccepted {
		return fmt.Errorf("registration %s", resp.Status)
	}

	s.mu.Lock()
	s.override = resp.Interval
	s.configured = s.config.IntOr(ocppconfig.KeyHeartbeatInterval, 30)
	s.mu.Unlock()

	s.registered.Store(true)
	s.state.Renotify()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("registered with central system", zap.Int("heartbeat_interval", resp.Interval))
	return nil
}

// heartbeatInterval prefers the interval granted at boot unless HeartbeatInterval was changed
// since then.
func (s *Sequencer) heartbeatInterval() time.Duration {
	configured := s.config.IntOr(ocppconfig.KeyHeartbeatInterval, 30)
	s.mu.Lock()
	seconds := configured
	if s.override > 0 && configured == s.configured {
		seconds = s.override
	}
	s.mu.Unlock()
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * s.unit
}

// HeartbeatLoop waits for registration, then sends Heartbeat every interval until ctx is done.
func (s *Sequencer) HeartbeatLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.ready:
	}

	for {
		if !sleep(ctx, s.heartbeatInterval()) {
			return nil
		}
		if _, err := s.client.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("heartbeat failed", zap.Error(err))
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
