// Package metrics exposes Prometheus metrics for extraction requests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/use-agent/soundgrab/models"
)

const namespace = "soundgrab"

// Metrics implements orchestrator.Observer.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	AttemptsPerReq  *prometheus.HistogramVec
	InFlight        *prometheus.GaugeVec
}

// New creates and registers all metrics on reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Extraction requests by mode and final kind",
			},
			[]string{"mode", "kind"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Wall time of extraction requests",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Strategy attempts by mode, strategy and outcome kind",
			},
			[]string{"mode", "strategy", "kind"},
		),
		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Wall time of single strategy attempts",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"mode", "strategy"},
		),
		AttemptsPerReq: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempts_per_request",
				Help:      "Number of strategies tried per request",
				Buckets:   prometheus.LinearBuckets(1, 1, 8),
			},
			[]string{"mode"},
		),
		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Extraction requests currently holding a concurrency slot",
			},
			[]string{"mode"},
		),
	}
}

func (m *Metrics) RequestStarted(mode models.Mode) {
	m.InFlight.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) AttemptFinished(mode models.Mode, strategy string, kind models.Kind, d time.Duration) {
	m.AttemptsTotal.WithLabelValues(string(mode), strategy, string(kind)).Inc()
	m.AttemptDuration.WithLabelValues(string(mode), strategy).Observe(d.Seconds())
}

func (m *Metrics) RequestFinished(mode models.Mode, kind models.Kind, attempts int, d time.Duration) {
	m.InFlight.WithLabelValues(string(mode)).Dec()
	m.RequestsTotal.WithLabelValues(string(mode), string(kind)).Inc()
	m.RequestDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
	m.AttemptsPerReq.WithLabelValues(string(mode)).Observe(float64(attempts))
}
