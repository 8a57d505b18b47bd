package router

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the router's Prometheus collectors.
type Metrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
	Retries  *prometheus.CounterVec
}

// NewMetrics creates the router collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flulink",
				Subsystem: "router",
				Name:      "requests_total",
				Help:      "Dispatched actions by outcome",
			},
			[]string{"action", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flulink",
				Subsystem: "router",
				Name:      "dispatch_duration_seconds",
				Help:      "Time from validation to final outcome",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flulink",
				Subsystem: "router",
				Name:      "retries_total",
				Help:      "Retries after transient backend failures",
			},
			[]string{"action"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.Duration, m.Retries)
	}
	return m
}
