// Package meter ingests voltage, current and power readings from the connector meters and keeps the
// latest sample per connector.
package meter

import (
	"context"
	"sync"
	"time"

	"chargepoint/internal/metrics"
)

// Sample is the current electrical state of one connector.
type Sample struct {
	Voltage  float64
	Current  float64
	Power    float64
	EnergyWh float64
	At       time.Time
}

// Reading is one raw measurement published by a Source.
type Reading struct {
	ConnectorID int
	Voltage     float64
	Current     float64
	Power       float64
	// EnergyWh is only honoured when HasEnergy is set, i.e. the meter has its own register.
	EnergyWh  float64
	HasEnergy bool
	At        time.Time
}

// Sink receives readings.
type Sink interface {
	Publish(r Reading)
}

// Source produces readings until ctx is done.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

type entry struct {
	sample     Sample
	hasEnergy  bool
	integrated time.Time
}

// Registry holds the latest sample per connector. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[int]*entry
	metrics *metrics.Metrics
}

// NewRegistry returns a registry with a zero sample for each connector.
func NewRegistry(connectors int, m *metrics.Metrics) *Registry {
	r := &Registry{entries: make(map[int]*entry, connectors), metrics: m}
	for id := 1; id <= connectors; id++ {
		r.entries[id] = &entry{}
	}
	return r
}

// Publish overwrites the electrical values of a connector. Cumulative energy only moves forward.
func (r *Registry) Publish(rd Reading) {
	if rd.At.IsZero() {
		rd.At = time.Now()
	}

	r.mu.Lock()
	e, ok := r.entries[rd.ConnectorID]
	if !ok {
		e = &entry{}
		r.entries[rd.ConnectorID] = e
	}
	e.sample.Voltage = rd.Voltage
	e.sample.Current = rd.Current
	e.sample.Power = rd.Power
	e.sample.At = rd.At
	if rd.HasEnergy {
		e.hasEnergy = true
		if rd.EnergyWh > e.sample.EnergyWh {
			e.sample.EnergyWh = rd.EnergyWh
		}
	}
	s := e.sample
	r.mu.Unlock()

	r.metrics.RecordReading(rd.ConnectorID, "voltage", s.Voltage)
	r.metrics.RecordReading(rd.ConnectorID, "current", s.Current)
	r.metrics.RecordReading(rd.ConnectorID, "power", s.Power)
	r.metrics.RecordReading(rd.ConnectorID, "energy_wh", s.EnergyWh)
}

// Latest returns the current sample of a connector.
func (r *Registry) Latest(connectorID int) (Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connectorID]
	if !ok {
		return Sample{}, false
	}
	return e.sample, true
}

// Begin sets the integration baseline, so energy accumulates from now on.
func (r *Registry) Begin(connectorID int, now time.Time) Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectorID]
	if !ok {
		e = &entry{}
		r.entries[connectorID] = e
	}
	e.integrated = now
	return e.sample
}

// Integrate adds power × elapsed hours since the previous call to the cumulative energy and
// returns the resulting sample. Meters with their own energy register are left alone.
func (r *Registry) Integrate(connectorID int, now time.Time) (Sample, bool) {
	r.mu.Lock()
	e, ok := r.entries[connectorID]
	if !ok {
		r.mu.Unlock()
		return Sample{}, false
	}
	if !e.hasEnergy && !e.integrated.IsZero() && now.After(e.integrated) && e.sample.Power > 0 {
		e.sample.EnergyWh += e.sample.Power * now.Sub(e.integrated).Hours()
	}
	if now.After(e.integrated) {
		e.integrated = now
	}
	s := e.sample
	r.mu.Unlock()

	r.metrics.RecordReading(connectorID, "energy_wh", s.EnergyWh)
	return s, true
}

// Restore seeds the cumulative energy of a connector, e.g. from a transaction snapshot.
func (r *Registry) Restore(connectorID int, energyWh float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectorID]
	if !ok {
		e = &entry{}
		r.entries[connectorID] = e
	}
	if energyWh > e.sample.EnergyWh {
		e.sample.EnergyWh = energyWh
	}
}
