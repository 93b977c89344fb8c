// Package metrics exposes board session counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the session's collectors. A nil *Metrics discards everything.
type Metrics struct {
	Frames            *prometheus.CounterVec // labels: type
	DecodeErrors      prometheus.Counter
	CalibrationErrors *prometheus.CounterVec // labels: pad
	EventsDropped     prometheus.Counter
	Connected         prometheus.Gauge
	TotalWeight       prometheus.Gauge
}

// New registers the session metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiiboard_frames_total",
			Help: "Input reports received, by report type.",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wiiboard_decode_errors_total",
			Help: "Input reports dropped because they could not be decoded.",
		}),
		CalibrationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wiiboard_calibration_errors_total",
			Help: "Mass computations rejected for degenerate calibration, by pad.",
		}, []string{"pad"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wiiboard_events_dropped_total",
			Help: "Events not delivered because the consumer was not reading.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wiiboard_connected",
			Help: "1 while a board session is connected.",
		}),
		TotalWeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wiiboard_total_weight_kg",
			Help: "Total weight of the last mass report.",
		}),
	}
	reg.MustRegister(
		m.Frames,
		m.DecodeErrors,
		m.CalibrationErrors,
		m.EventsDropped,
		m.Connected,
		m.TotalWeight,
	)
	return m
}

func (m *Metrics) IncFrame(typ string) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(typ).Inc()
}

func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

func (m *Metrics) IncCalibrationError(pad string) {
	if m == nil {
		return
	}
	m.CalibrationErrors.WithLabelValues(pad).Inc()
}

func (m *Metrics) IncEventsDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

func (m *Metrics) SetTotalWeight(kg float64) {
	if m == nil {
		return
	}
	m.TotalWeight.Set(kg)
}
