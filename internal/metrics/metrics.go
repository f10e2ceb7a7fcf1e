// Package metrics holds the Prometheus instruments for digest runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "social_digest"

// Metrics holds all run metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	AccountsTotal      *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	LastSuccess        prometheus.Gauge
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of digest runs by final status",
			},
			[]string{"status"},
		),
		AccountsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounts_total",
				Help:      "Total number of processed accounts by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of publish attempts by status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of digest runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last successful run",
			},
		),
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, took time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(took.Seconds())
	if status == StatusSuccess {
		m.LastSuccess.Set(float64(finished.Unix()))
	}
}

// ObserveAccount records one account outcome.
func (m *Metrics) ObserveAccount(outcome string) {
	if m == nil {
		return
	}
	m.AccountsTotal.WithLabelValues(outcome).Inc()
}

// ObserveNotification records one publish attempt.
func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if !ok {
		status = StatusFailure
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusNoop    = "noop"
)
