package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter

	toolInvocationTotal    *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec
	toolErrorsTotal        *prometheus.CounterVec
	streamTokensTotal      *prometheus.CounterVec

	protocolErrorsTotal *prometheus.CounterVec
	rateLimitedTotal    prometheus.Counter

	ledgerFlushTotal    *prometheus.CounterVec
	ledgerFlushDuration prometheus.Histogram
	ledgerFlushRecords  prometheus.Counter

	registeredTools prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeConnections: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "toolgate_active_connections",
					Help: "Current open WebSocket connections.",
				},
			),
			connectionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "toolgate_connections_total",
					Help: "Total accepted WebSocket connections.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_tool_invocations_total",
					Help: "Total tool invocations by tool, mode and status.",
				},
				[]string{"tool", "mode", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "toolgate_tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_tool_errors_total",
					Help: "Total tool invocation errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
			streamTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_stream_tokens_total",
					Help: "Total stream tokens sent by tool.",
				},
				[]string{"tool"},
			),
			protocolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_protocol_errors_total",
					Help: "Total JSON-RPC error responses by code.",
				},
				[]string{"code"},
			),
			rateLimitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "toolgate_rate_limited_total",
					Help: "Total requests rejected by the rate limiter.",
				},
			),
			ledgerFlushTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "toolgate_ledger_flush_total",
					Help: "Total ledger flushes by status.",
				},
				[]string{"status"},
			),
			ledgerFlushDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "toolgate_ledger_flush_duration_seconds",
					Help:    "Ledger flush duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			ledgerFlushRecords: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "toolgate_ledger_flushed_records_total",
					Help: "Total ledger records persisted.",
				},
			),
			registeredTools: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "toolgate_registered_tools",
					Help: "Current number of registered tools.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeConnections,
			m.connectionsTotal,
			m.toolInvocationTotal,
			m.toolInvocationDuration,
			m.toolErrorsTotal,
			m.streamTokensTotal,
			m.protocolErrorsTotal,
			m.rateLimitedTotal,
			m.ledgerFlushTotal,
			m.ledgerFlushDuration,
			m.ledgerFlushRecords,
			m.registeredTools,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordConnectionOpened() {
	m := getMetrics()
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func RecordConnectionClosed() {
	m := getMetrics()
	m.activeConnections.Dec()
}

func RecordToolInvocation(tool string, streaming bool, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	mode := "sync"
	if streaming {
		mode = "stream"
	}
	m.toolInvocationTotal.WithLabelValues(tool, mode, status).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordToolError(tool, kind string) {
	m := getMetrics()
	m.toolErrorsTotal.WithLabelValues(tool, kind).Inc()
}

func RecordStreamTokens(tool string, count int) {
	m := getMetrics()
	m.streamTokensTotal.WithLabelValues(tool).Add(float64(count))
}

func RecordProtocolError(code string) {
	m := getMetrics()
	m.protocolErrorsTotal.WithLabelValues(code).Inc()
}

func RecordRateLimited() {
	m := getMetrics()
	m.rateLimitedTotal.Inc()
}

func RecordLedgerFlush(duration time.Duration, records int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
		m.ledgerFlushRecords.Add(float64(records))
	}
	m.ledgerFlushTotal.WithLabelValues(status).Inc()
	m.ledgerFlushDuration.Observe(duration.Seconds())
}

func SetRegisteredTools(count int) {
	m := getMetrics()
	m.registeredTools.Set(float64(count))
}
