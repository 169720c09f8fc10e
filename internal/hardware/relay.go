// Package hardware drives the connector relays and watches the emergency stop input.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Relay switches connector power. Open energizes the outlet, Close cuts it.
type Relay interface {
	Open(ctx context.Context, connectorID int) error
	Close(ctx context.Context, connectorID int) error
}

// CloseAll cuts power on connectors 1..n and returns every failure.
func CloseAll(ctx context.Context, r Relay, n int) error {
	var errs []error
	for id := 1; id <= n; id++ {
		if err := r.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogRelay is a relay for benches without hardware. It remembers the switch positions.
type LogRelay struct {
	logger *zap.Logger

	mu     sync.Mutex
	closed map[int]bool
}

func NewLogRelay(logger *zap.Logger) *LogRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRelay{logger: logger, closed: make(map[int]bool)}
}

func (r *LogRelay) Open(_ context.Context, connectorID int) error {
	r.mu.Lock()
	r.closed[connectorID] = false
	r.mu.Unlock()
	r.logger.Info("relay on", zap.Int("connector_id", connectorID))
	return nil
}

func (r *LogRelay) Close(_ context.Context, connectorID int) error {
	r.mu.Lock()
	r.closed[connectorID] = true
	r.mu.Unlock()
	r.logger.Info("relay off", zap.Int("connector_id", connectorID))
	return nil
}

// Energized reports whether the connector is switched on.
func (r *LogRelay) Energized(connectorID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed, ok := r.closed[connectorID]
	return ok && !closed
}

// SysfsRelay writes GPIO value files, one per connector (e.g. /sys/class/gpio/gpio17/value).
type SysfsRelay struct {
	Pins map[int]string
	// ActiveLow inverts the written level for relay boards that switch on a low input.
	ActiveLow bool
	Logger    *zap.Logger
}

func (r *SysfsRelay) Open(_ context.Context, connectorID int) error {
	return r.write(connectorID, true)
}

func (r *SysfsRelay) Close(_ context.Context, connectorID int) error {
	return r.write(connectorID, false)
}

func (r *SysfsRelay) write(connectorID int, on bool) error {
	path, ok := r.Pins[connectorID]
	if !ok {
		return fmt.Errorf("hardware: no relay pin for connector %d", connectorID)
	}
	level := on != r.ActiveLow
	value := []byte("0")
	if level {
		value = []byte("1")
	}
	if err := os.WriteFile(path, value, 0o644); err != nil {
		return fmt.Errorf("hardware: switch connector %d: %w", connectorID, err)
	}
	if r.Logger != nil {
		r.Logger.Debug("relay switched", zap.Int("connector_id", connectorID), zap.Bool("on", on))
	}
	return nil
}
