// Package metrics records elevation and link operation counters for
// symdeploy and exports them as a Prometheus textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Elevation results.
const (
	ElevationAccepted    = "accepted"
	ElevationDeclined    = "declined"
	ElevationFailed      = "failed"
	ElevationUnsupported = "unsupported"
)

// Operation results.
const (
	ResultOK           = "ok"
	ResultFailed       = "failed"
	ResultNotSupported = "not_supported"
	ResultOrphaned     = "orphaned"
)

// Metrics holds the collectors of one process. Methods are safe on a nil
// receiver so callers never need to guard optional metrics.
type Metrics struct {
	registry *prometheus.Registry

	Elevations        *prometheus.CounterVec
	Sessions          prometheus.Counter
	ActiveSessions    prometheus.Gauge
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	Quits             prometheus.Counter
	ServerStops       prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Elevations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symdeploy_elevations_total",
				Help: "Elevation requests by outcome",
			},
			[]string{"result"},
		),
		Sessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "symdeploy_helper_sessions_total",
				Help: "Elevated helper sessions that completed the handshake",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "symdeploy_helper_sessions_active",
				Help: "Elevated helper sessions currently connected",
			},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symdeploy_link_operations_total",
				Help: "Link operations by kind and result",
			},
			[]string{"kind", "result"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symdeploy_link_operation_duration_seconds",
				Help:    "Time from dispatch to completion of a link operation",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"kind"},
		),
		Quits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "symdeploy_helper_quits_total",
				Help: "Quit messages sent to the elevated helper",
			},
		),
		ServerStops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "symdeploy_ipc_server_stops_total",
				Help: "IPC servers stopped",
			},
		),
	}
	m.registry.MustRegister(
		m.Elevations,
		m.Sessions,
		m.ActiveSessions,
		m.Operations,
		m.OperationDuration,
		m.Quits,
		m.ServerStops,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveElevation(result string) {
	if m == nil {
		return
	}
	m.Elevations.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveOperation(kind, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(kind, result).Inc()
	if elapsed > 0 {
		m.OperationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) QuitSent() {
	if m == nil {
		return
	}
	m.Quits.Inc()
}

func (m *Metrics) ServerStopped() {
	if m == nil {
		return
	}
	m.ServerStops.Inc()
}

// WriteTextfile writes every collector to path in the Prometheus text
// format, for pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
