package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the reconnect engine's counters and gauges. Pass a private
// registry in tests; nil falls back to the default registerer.
type Metrics struct {
	ReconnectAttempts *prometheus.CounterVec
	ReconnectDuration prometheus.Histogram
	SessionsByStatus  *prometheus.GaugeVec
	BreakerOpen       prometheus.Gauge
	CorruptionsFound  prometheus.Counter
	Recoveries        *prometheus.CounterVec
	LockContention    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ReconnectAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by outcome.",
		}, []string{"outcome"}),
		ReconnectDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "reconnect_duration_seconds",
			Help:      "Wall time of a single reconnect attempt.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		}),
		SessionsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "sessions",
			Help:      "Session count by connection status.",
		}, []string{"status"}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "breaker_open",
			Help:      "1 while the reconnect circuit breaker is open.",
		}),
		CorruptionsFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "corruptions_detected_total",
			Help:      "Credential records that failed their integrity check.",
		}),
		Recoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "recoveries_total",
			Help:      "Credential recoveries by source tier.",
		}, []string{"source"}),
		LockContention: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wakeeper",
			Subsystem: "session",
			Name:      "lock_contention_total",
			Help:      "Reconnect attempts skipped because another worker held the lease.",
		}),
	}
}
