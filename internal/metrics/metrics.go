package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chargepoint"

// Metrics holds the charge point collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PendingCalls    prometheus.Gauge
	CallDuration    *prometheus.HistogramVec
	CallFailures    *prometheus.CounterVec
	SessionUp       prometheus.Gauge
	Reconnects      prometheus.Counter
	QueueDepth      prometheus.Gauge
	CommandsDropped prometheus.Counter
	CommandsFailed  *prometheus.CounterVec
	MeterReading    *prometheus.GaugeVec
	FaultStops      *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PendingCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ocpp",
			Name:      "pending_calls",
			Help:      "Outbound calls awaiting a response",
		}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ocpp",
			Name:      "call_duration_seconds",
			Help:      "Round trip time of outbound calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		CallFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ocpp",
			Name:      "call_failures_total",
			Help:      "Outbound calls that failed by reason",
		}, []string{"action", "reason"}),
		SessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "up",
			Help:      "Websocket session status (0=down, 1=up)",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_total",
			Help:      "Total number of dial attempts after the first",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Commands waiting in the pipeline",
		}),
		CommandsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dropped_total",
			Help:      "Commands shed because the queue was full",
		}),
		CommandsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failed_total",
			Help:      "Commands that returned an error",
		}, []string{"operation"}),
		MeterReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "meter",
			Name:      "reading",
			Help:      "Latest meter reading per connector and measurand",
		}, []string{"connector", "measurand"}),
		FaultStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fault",
			Name:      "stops_total",
			Help:      "Transactions stopped by the fault engine",
		}, []string{"connector", "code"}),
	}

	m.registry.MustRegister(
		m.PendingCalls, m.CallDuration, m.CallFailures,
		m.SessionUp, m.Reconnects,
		m.QueueDepth, m.CommandsDropped, m.CommandsFailed,
		m.MeterReading, m.FaultStops,
	)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetPendingCalls records the number of in-flight calls.
func (m *Metrics) SetPendingCalls(n int) {
	if m == nil {
		return
	}
	m.PendingCalls.Set(float64(n))
}

// RecordCall records a completed call. reason is empty on success.
func (m *Metrics) RecordCall(action string, took time.Duration, reason string) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(action).Observe(took.Seconds())
	if reason != "" {
		m.CallFailures.WithLabelValues(action, reason).Inc()
	}
}

// RecordSession updates the session gauge.
func (m *Metrics) RecordSession(up bool) {
	if m == nil {
		return
	}
	value := 0.0
	if up {
		value = 1.0
	}
	m.SessionUp.Set(value)
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// SetQueueDepth records pipeline depth.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordDropped counts a shed command.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.CommandsDropped.Inc()
}

// RecordCommandFailure counts a failed command.
func (m *Metrics) RecordCommandFailure(operation string) {
	if m == nil {
		return
	}
	m.CommandsFailed.WithLabelValues(operation).Inc()
}

// RecordReading sets the latest value of a measurand.
func (m *Metrics) RecordReading(connectorID int, measurand string, value float64) {
	if m == nil {
		return
	}
	m.MeterReading.WithLabelValues(strconv.Itoa(connectorID), measurand).Set(value)
}

// RecordFaultStop counts a stop forced by a threshold violation.
func (m *Metrics) RecordFaultStop(connectorID int, code string) {
	if m == nil {
		return
	}
	m.FaultStops.WithLabelValues(strconv.Itoa(connectorID), code).Inc()
}
