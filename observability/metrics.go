package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// NodeMetrics tracks units of work executed by the node.
type NodeMetrics struct {
	units     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	height    prometheus.Gauge
	payouts   *prometheus.CounterVec
	pricing   *prometheus.GaugeVec
	rejected  *prometheus.CounterVec
	deposits  *prometheus.CounterVec
	locked    *prometheus.GaugeVec
	events    *prometheus.CounterVec
	dropped   prometheus.Counter
	auditSink *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	nodeMetricsOnce sync.Once
	nodeRegistry    *NodeMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record RPC
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests segmented by route group and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total RPC errors segmented by route group and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "inferpay",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of RPC requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be the HTTP
// status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	module = orUnknown(module)
	method = orUnknown(method)
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(orUnknown(module), reason).Inc()
}

// Node returns the singleton registry for node units of work.
func Node() *NodeMetrics {
	nodeMetricsOnce.Do(func() {
		nodeRegistry = &NodeMetrics{
			units: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "node",
				Name:      "units_total",
				Help:      "Units of work segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "node",
				Name:      "failures_total",
				Help:      "Discarded units of work segmented by operation and failure reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "inferpay",
				Subsystem: "node",
				Name:      "unit_duration_seconds",
				Help:      "Execution time of units of work including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "inferpay",
				Subsystem: "node",
				Name:      "height",
				Help:      "Number of committed units of work.",
			}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "settlement",
				Name:      "payout_amount_total",
				Help:      "Settled amounts segmented by token and payout leg.",
			}, []string{"token", "leg"}),
			pricing: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "inferpay",
				Subsystem: "pricing",
				Name:      "current",
				Help:      "Current pricing record fields, including the version counter.",
			}, []string{"field"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "pricing",
				Name:      "rejected_total",
				Help:      "Pool notifications that were logged and skipped, by reason.",
			}, []string{"reason"}),
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "escrow",
				Name:      "deposits_total",
				Help:      "Deposits created segmented by token.",
			}, []string{"token"}),
			locked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "inferpay",
				Subsystem: "escrow",
				Name:      "locked_amount",
				Help:      "Amount held in custody for unsettled deposits.",
			}, []string{"token"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Audit events published after commit, by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "events",
				Name:      "stream_dropped_total",
				Help:      "Events not delivered to a slow stream subscriber.",
			}),
			auditSink: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "inferpay",
				Subsystem: "auditlog",
				Name:      "writes_total",
				Help:      "Audit log writes segmented by outcome.",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			nodeRegistry.units,
			nodeRegistry.failures,
			nodeRegistry.latency,
			nodeRegistry.height,
			nodeRegistry.payouts,
			nodeRegistry.pricing,
			nodeRegistry.rejected,
			nodeRegistry.deposits,
			nodeRegistry.locked,
			nodeRegistry.events,
			nodeRegistry.dropped,
			nodeRegistry.auditSink,
		)
	})
	return nodeRegistry
}

// ObserveUnit records a finished unit of work. reason is empty on success.
func (m *NodeMetrics) ObserveUnit(operation, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	operation = orUnknown(operation)
	outcome := "committed"
	if reason != "" {
		outcome = "discarded"
		m.failures.WithLabelValues(operation, reason).Inc()
	}
	m.units.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetHeight publishes the committed height.
func (m *NodeMetrics) SetHeight(h uint64) {
	if m == nil {
		return
	}
	m.height.Set(float64(h))
}

// RecordPayout adds a settled amount to the payout counter.
func (m *NodeMetrics) RecordPayout(token, leg string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	m.payouts.WithLabelValues(normalizeAsset(token), leg).Add(bigToFloat(amount))
}

// RecordPricing publishes the committed pricing record.
func (m *NodeMetrics) RecordPricing(version uint64, input, output *big.Int, feeBps uint32) {
	if m == nil {
		return
	}
	m.pricing.WithLabelValues("version").Set(float64(version))
	m.pricing.WithLabelValues("price_per_input_unit").Set(bigToFloat(input))
	m.pricing.WithLabelValues("price_per_output_unit").Set(bigToFloat(output))
	m.pricing.WithLabelValues("protocol_fee_bps").Set(float64(feeBps))
}

// RecordPricingRejected counts a skipped pool notification.
func (m *NodeMetrics) RecordPricingRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(orUnknown(reason)).Inc()
}

// RecordDeposit counts a created deposit and publishes the locked total.
func (m *NodeMetrics) RecordDeposit(token string, locked *big.Int) {
	if m == nil {
		return
	}
	token = normalizeAsset(token)
	m.deposits.WithLabelValues(token).Inc()
	m.SetLocked(token, locked)
}

// SetLocked publishes the amount held for unsettled deposits of token.
func (m *NodeMetrics) SetLocked(token string, locked *big.Int) {
	if m == nil {
		return
	}
	m.locked.WithLabelValues(normalizeAsset(token)).Set(bigToFloat(locked))
}

// RecordEvent counts a published audit event.
func (m *NodeMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(orUnknown(eventType)).Inc()
}

// RecordStreamDrop counts an event a slow subscriber missed.
func (m *NodeMetrics) RecordStreamDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// RecordAuditWrite counts an audit log write.
func (m *NodeMetrics) RecordAuditWrite(err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.auditSink.WithLabelValues(outcome).Inc()
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func normalizeAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
