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

// Collector 指标收集器，同时实现 hitl.MetricsRecorder
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// HITL 指标
	suspensionsTotal *prometheus.CounterVec
	decisionsTotal   *prometheus.CounterVec
	resumesTotal     *prometheus.CounterVec
	resumeDuration   *prometheus.HistogramVec
	waitsTotal       *prometheus.CounterVec
	waitDuration     *prometheus.HistogramVec
	activeChannels   prometheus.Gauge
	streamsOpen      *prometheus.GaugeVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

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

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// HITL 指标
	c.suspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "suspensions_total",
			Help:      "Total number of suspension requests registered",
		},
		[]string{"mode"},
	)

	c.decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "decisions_total",
			Help:      "Total number of submitted decisions by outcome",
		},
		[]string{"outcome"},
	)

	c.resumesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "resumes_total",
			Help:      "Total number of resume handoffs by outcome",
		},
		[]string{"outcome"},
	)

	c.resumeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "resume_duration_seconds",
			Help:      "Resume handoff duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	c.waitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "waits_total",
			Help:      "Total number of blocking waits by outcome",
		},
		[]string{"outcome"}, // decided, timeout, cancelled
	)

	c.waitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "wait_duration_seconds",
			Help:      "Time a blocking suspension waited for a human decision",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"outcome"},
	)

	c.activeChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "active_channels",
			Help:      "Number of live per-user event channels",
		},
	)

	c.streamsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hitl",
			Name:      "streams_open",
			Help:      "Number of open event streams by transport",
		},
		[]string{"transport"}, // sse, websocket
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// ✋ HITL 指标记录
// =============================================================================

// RecordSuspension 记录一次挂起
func (c *Collector) RecordSuspension(mode string) {
	c.suspensionsTotal.WithLabelValues(mode).Inc()
}

// RecordDecision 记录决策结果
func (c *Collector) RecordDecision(outcome string) {
	c.decisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordResume 记录恢复交接
func (c *Collector) RecordResume(outcome string, duration time.Duration) {
	c.resumesTotal.WithLabelValues(outcome).Inc()
	c.resumeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordWait 记录阻塞等待
func (c *Collector) RecordWait(outcome string, duration time.Duration) {
	c.waitsTotal.WithLabelValues(outcome).Inc()
	c.waitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetActiveChannels 更新活跃用户通道数
func (c *Collector) SetActiveChannels(n int) {
	c.activeChannels.Set(float64(n))
}

// StreamOpened 事件流建立
func (c *Collector) StreamOpened(transport string) {
	c.streamsOpen.WithLabelValues(transport).Inc()
}

// StreamClosed 事件流关闭
func (c *Collector) StreamClosed(transport string) {
	c.streamsOpen.WithLabelValues(transport).Dec()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
