package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HITLMetrics 通过 OTel Meter 导出挂起/决策/恢复指标，实现 hitl.MetricsRecorder.
// 遥测未启用时全局 MeterProvider 为 noop，记录调用没有开销。
type HITLMetrics struct {
	suspensions    metric.Int64Counter
	decisions      metric.Int64Counter
	resumes        metric.Int64Counter
	resumeDuration metric.Float64Histogram
	waitDuration   metric.Float64Histogram

	activeChannels atomic.Int64
}

// NewHITLMetrics 在 meter 上注册指标，通常传入 Providers.Meter()
func NewHITLMetrics(meter metric.Meter) (*HITLMetrics, error) {
	m := &HITLMetrics{}
	var err error

	// 挂起计数
	m.suspensions, err = meter.Int64Counter("hitl.suspension.total",
		metric.WithDescription("Total number of suspensions"),
		metric.WithUnit("{suspension}"))
	if err != nil {
		return nil, err
	}

	// 决策计数
	m.decisions, err = meter.Int64Counter("hitl.decision.total",
		metric.WithDescription("Total number of submitted decisions by outcome"),
		metric.WithUnit("{decision}"))
	if err != nil {
		return nil, err
	}

	// 恢复计数
	m.resumes, err = meter.Int64Counter("hitl.resume.total",
		metric.WithDescription("Total number of resume handoffs by outcome"),
		metric.WithUnit("{resume}"))
	if err != nil {
		return nil, err
	}

	// 恢复延迟
	m.resumeDuration, err = meter.Float64Histogram("hitl.resume.duration",
		metric.WithDescription("Resume handoff duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30))
	if err != nil {
		return nil, err
	}

	// 阻塞等待时长
	m.waitDuration, err = meter.Float64Histogram("hitl.wait.duration",
		metric.WithDescription("Time a blocking suspension waited for a decision"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 600))
	if err != nil {
		return nil, err
	}

	// 活跃通道
	_, err = meter.Int64ObservableGauge("hitl.channel.active",
		metric.WithDescription("Number of open user event channels"),
		metric.WithUnit("{channel}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeChannels.Load())
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordSuspension 记录一次挂起
func (m *HITLMetrics) RecordSuspension(mode string) {
	m.suspensions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordDecision 记录一次决策结果
func (m *HITLMetrics) RecordDecision(outcome string) {
	m.decisions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordResume 记录一次恢复交接
func (m *HITLMetrics) RecordResume(outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.resumes.Add(context.Background(), 1, attrs)
	m.resumeDuration.Record(context.Background(), d.Seconds(), attrs)
}

// RecordWait 记录阻塞等待
func (m *HITLMetrics) RecordWait(outcome string, d time.Duration) {
	m.waitDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SetActiveChannels 更新活跃通道数
func (m *HITLMetrics) SetActiveChannels(n int) {
	m.activeChannels.Store(int64(n))
}
