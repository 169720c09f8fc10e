package meter

import (
	"context"
	"time"
)

// Simulator publishes a constant load on every connector. Used on benches without meters.
type Simulator struct {
	Connectors int
	Voltage    float64
	Current    float64
	Interval   time.Duration
}

// NewSimulator returns a 220 V / 16 A simulator publishing every 10 seconds.
func NewSimulator(connectors int) *Simulator {
	return &Simulator{
		Connectors: connectors,
		Voltage:    220,
		Current:    16,
		Interval:   10 * time.Second,
	}
}

func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s.publish(sink)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.publish(sink)
		}
	}
}

func (s *Simulator) publish(sink Sink) {
	now := time.Now()
	for id := 1; id <= s.Connectors; id++ {
		sink.Publish(Reading{
			ConnectorID: id,
			Voltage:     s.Voltage,
			Current:     s.Current,
			Power:       s.Voltage * s.Current,
			At:          now,
		})
	}
}
