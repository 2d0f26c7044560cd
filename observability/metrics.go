package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RampMetrics tracks ledger submissions handled by the processor and the
// HTTP front end.
type RampMetrics struct {
	submissions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	deposits    *prometheus.CounterVec
	throttles   *prometheus.CounterVec
}

var (
	rampMetricsOnce sync.Once
	rampRegistry    *RampMetrics
)

// Ramp returns the lazily-initialised ledger metrics registry.
func Ramp() *RampMetrics {
	rampMetricsOnce.Do(func() {
		rampRegistry = &RampMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramp",
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Ledger instructions processed, segmented by operation and result code.",
			}, []string{"op", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ramp",
				Subsystem: "ledger",
				Name:      "submission_duration_seconds",
				Help:      "Time spent executing and committing a ledger instruction.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramp",
				Subsystem: "ledger",
				Name:      "deposits_total",
				Help:      "Off-ramp deposit notifications emitted, segmented by asset name.",
			}, []string{"asset"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramp",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Submissions rejected before execution.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			rampRegistry.submissions,
			rampRegistry.latency,
			rampRegistry.deposits,
			rampRegistry.throttles,
		)
	})
	return rampRegistry
}

// ObserveSubmission records one processed instruction and its result code.
func (m *RampMetrics) ObserveSubmission(op string, code uint32, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.submissions.WithLabelValues(op, strconv.FormatUint(uint64(code), 10)).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordDeposit increments the deposit counter for the supplied asset name.
func (m *RampMetrics) RecordDeposit(asset string) {
	if m == nil {
		return
	}
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	m.deposits.WithLabelValues(normalized).Inc()
}

// RecordThrottle counts a rejected submission. Reasons should be stable
// strings such as "rate_limit".
func (m *RampMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}
