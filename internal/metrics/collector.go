// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 同时实现 transport.RoundTripObserver 与 lsp.Observer。
type Collector struct {
	// 传输指标
	roundTripsTotal   *prometheus.CounterVec
	roundTripDuration *prometheus.HistogramVec

	// 会话指标
	inboundMessages *prometheus.CounterVec
	failOpenTotal   *prometheus.CounterVec
	pendingRequests prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 传输指标
	c.roundTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "round_trips_total",
			Help:      "Total number of HTTP round trips to the formula service",
		},
		[]string{"operation", "status"},
	)

	c.roundTripDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "round_trip_duration_seconds",
			Help:      "Round trip duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// 会话指标
	c.inboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lsp",
			Name:      "inbound_messages_total",
			Help:      "Messages received in response batches, by kind",
		},
		[]string{"kind"},
	)

	c.failOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lsp",
			Name:      "fail_open_total",
			Help:      "Requests that failed and were answered with an empty result",
		},
		[]string{"method", "reason"},
	)

	c.pendingRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lsp",
			Name:      "pending_requests",
			Help:      "Requests waiting for a correlated response",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🌐 传输指标记录
// =============================================================================

// ObserveRoundTrip 记录一次往返
func (c *Collector) ObserveRoundTrip(op, status string, duration time.Duration) {
	c.roundTripsTotal.WithLabelValues(op, status).Inc()
	c.roundTripDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// =============================================================================
// 📨 会话指标记录
// =============================================================================

// ObserveInbound 记录一条入站消息
func (c *Collector) ObserveInbound(kind string) {
	c.inboundMessages.WithLabelValues(kind).Inc()
}

// ObserveFailOpen 记录一次失败转空结果
func (c *Collector) ObserveFailOpen(method, reason string) {
	c.failOpenTotal.WithLabelValues(method, reason).Inc()
}

// ObservePending 记录在途请求数
func (c *Collector) ObservePending(n int) {
	c.pendingRequests.Set(float64(n))
}
