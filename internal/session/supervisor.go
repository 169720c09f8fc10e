// Package session owns the connection to the central system: it dials, runs the per-session
// loops and redials when the session ends.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chargepoint/internal/meter"
	"chargepoint/internal/metrics"
	"chargepoint/internal/ocpp"
	"chargepoint/internal/ocppconfig"
	"chargepoint/internal/station"
)

// Dialer opens a transport session.
type Dialer interface {
	Dial(ctx context.Context) (ocpp.Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (ocpp.Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (ocpp.Conn, error) { return f(ctx) }

// Client is the OCPP client a session runs on.
type Client interface {
	Registrar
	StatusNotifier
	Serve(ctx context.Context, conn ocpp.Conn) error
}

// Sampler is the meter sampling loop run inside each session.
type Sampler interface {
	Run(ctx context.Context, registered func() bool) error
}

// Options wires a Supervisor. Sampler and Source are optional.
type Options struct {
	Dialer      Dialer
	Client      Client
	State       *station.State
	Config      *ocppconfig.Store
	Identity    Identity
	Sampler     Sampler
	Source      meter.Source
	Sink        meter.Sink
	Backoff     Backoff
	StatusRetry time.Duration
	Events      station.Events
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Supervisor keeps one session alive at a time. Connector state and transactions belong to the
// process and carry over from one session to the next.
type Supervisor struct {
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	current *Sequencer
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Events == nil {
		opts.Events = station.NopEvents()
	}
	return &Supervisor{opts: opts, logger: opts.Logger}
}

// Sequencer returns the sequencer of the live session, or nil while offline.
func (s *Supervisor) Sequencer() *Sequencer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Registered reports whether the live session is registered.
func (s *Supervisor) Registered() bool {
	seq := s.Sequencer()
	return seq != nil && seq.Registered()
}

// Run dials and serves sessions until ctx is done. Transport failures are never fatal.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := s.opts.Dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := s.opts.Backoff.Delay(attempt)
			s.logger.Warn("dial failed", zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
			s.opts.Metrics.RecordReconnect()
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		attempt = 0
		s.runSession(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}

		attempt = 1
		delay := s.opts.Backoff.Delay(attempt)
		s.logger.Info("session ended, reconnecting", zap.Duration("retry_in", delay))
		s.opts.Metrics.RecordReconnect()
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// errSessionEnded ends the session group when the reader returns without an error.
var errSessionEnded = errors.New("session: connection closed")

func (s *Supervisor) runSession(parent context.Context, conn ocpp.Conn) {
	seq := NewSequencer(s.opts.Client, s.opts.State, s.opts.Config, s.opts.Identity, s.logger.Named("sequencer"))
	s.mu.Lock()
	s.current = seq
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.opts.Metrics.RecordSession(true)
	defer s.opts.Metrics.RecordSession(false)
	s.logger.Info("session established")

	g, ctx := errgroup.WithContext(parent)
	// Only the reader ends the session; the other loops log their failures and stop.
	spawn := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("session loop failed", zap.String("loop", name), zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := s.opts.Client.Serve(ctx, conn); err != nil {
			return err
		}
		return errSessionEnded
	})
	spawn("boot", func(ctx context.Context) error {
		seq.Boot(ctx)
		return seq.HeartbeatLoop(ctx)
	})
	spawn("status", func(ctx context.Context) error {
		return StatusLoop(ctx, seq.Ready(), s.opts.Client, s.opts.State, s.opts.Events, s.opts.StatusRetry, s.logger.Named("status"))
	})
	if s.opts.Sampler != nil {
		spawn("sampling", func(ctx context.Context) error {
			return s.opts.Sampler.Run(ctx, seq.Registered)
		})
	}
	if s.opts.Source != nil && s.opts.Sink != nil {
		spawn("ingestion", func(ctx context.Context) error {
			return s.opts.Source.Run(ctx, s.opts.Sink)
		})
	}

	<-ctx.Done()
	_ = conn.Close()
	err := g.Wait()
	if err != nil && !errors.Is(err, errSessionEnded) && parent.Err() == nil {
		s.logger.Info("session closed", zap.Error(err))
		return
	}
	s.logger.Info("session closed")
}
