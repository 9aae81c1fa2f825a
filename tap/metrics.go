package tap

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const MetricsJob = "tap_talonone"

// Metrics counts the work of one run. Each run gets its own registry so
// a push only carries that run's numbers.
type Metrics struct {
	Registry *prometheus.Registry

	// Requests counts API calls. Labels: stream, status (HTTP code or "error")
	Requests *prometheus.CounterVec
	// RequestDuration observes API call latency in seconds. Labels: stream
	RequestDuration *prometheus.HistogramVec
	// Records counts emitted records. Labels: stream
	Records *prometheus.CounterVec
	// Dropped counts records left out. Labels: stream, reason
	Dropped *prometheus.CounterVec
	// Retries counts transport retries. Labels: reason
	Retries *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_talonone_requests_total",
				Help: "Total number of Talon.One API requests",
			},
			[]string{"stream", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tap_talonone_request_duration_seconds",
				Help:    "Talon.One API request latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		Records: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_talonone_records_total",
				Help: "Total number of records emitted",
			},
			[]string{"stream"},
		),
		Dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_talonone_records_dropped_total",
				Help: "Total number of records dropped before emission",
			},
			[]string{"stream", "reason"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tap_talonone_retries_total",
				Help: "Total number of retried API requests",
			},
			[]string{"reason"},
		),
	}
}

func (m *Metrics) observeRequest(stream string, status int, err error, took time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	} else if err == nil {
		label = "ok"
	}
	m.Requests.WithLabelValues(stream, label).Inc()
	m.RequestDuration.WithLabelValues(stream).Observe(took.Seconds())
}

func (m *Metrics) observeRecord(stream string) {
	if m == nil {
		return
	}
	m.Records.WithLabelValues(stream).Inc()
}

func (m *Metrics) observeDropped(stream string, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(stream, reason).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(reason).Inc()
}

// Push sends the run's metrics to a Prometheus Pushgateway.
func (m *Metrics) Push(ctx context.Context, gatewayURL string, accountID int64) error {
	err := push.New(gatewayURL, MetricsJob).
		Gatherer(m.Registry).
		Grouping("account_id", strconv.FormatInt(accountID, 10)).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s %w", gatewayURL, err)
	}
	return nil
}
