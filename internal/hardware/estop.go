package hardware

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// EmergencyStop polls a GPIO value file and reports presses and releases.
type EmergencyStop struct {
	Path     string
	Interval time.Duration
	// ActiveLow means the input reads 0 while pressed.
	ActiveLow bool
	OnPress   func()
	OnRelease func()
	Logger    *zap.Logger
}

func (e *EmergencyStop) read() (bool, error) {
	raw, err := os.ReadFile(e.Path)
	if err != nil {
		return false, fmt.Errorf("hardware: read emergency stop: %w", err)
	}
	high := strings.TrimSpace(string(raw)) == "1"
	return high != e.ActiveLow, nil
}

// Run polls until ctx is done. A button already pressed at start counts as a press.
func (e *EmergencyStop) Run(ctx context.Context) error {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := e.Interval
	if interval <= 0 {
		interval = time.Second
	}

	pressed := false
	failing := false
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		now, err := e.read()
		switch {
		case err != nil:
			if !failing {
				logger.Error("emergency stop input unreadable", zap.Error(err))
			}
			failing = true
		default:
			failing = false
			if now != pressed {
				pressed = now
				if pressed {
					logger.Warn("emergency stop pressed")
					if e.OnPress != nil {
						e.OnPress()
					}
				} else {
					logger.Info("emergency stop released")
					if e.OnRelease != nil {
						e.OnRelease()
					}
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
