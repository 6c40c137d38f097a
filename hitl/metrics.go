package hitl

import "time"

// MetricsRecorder 接收引擎内部的指标事件.
// internal/metrics.Collector 实现了该接口.
type MetricsRecorder interface {
	RecordSuspension(mode string)
	RecordDecision(outcome string)
	RecordResume(outcome string, duration time.Duration)
	RecordWait(outcome string, duration time.Duration)
	SetActiveChannels(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordSuspension(string)            {}
func (nopMetrics) RecordDecision(string)              {}
func (nopMetrics) RecordResume(string, time.Duration) {}
func (nopMetrics) RecordWait(string, time.Duration)   {}
func (nopMetrics) SetActiveChannels(int)              {}

// 等待结果标签
const (
	waitDecided   = "decided"
	waitTimeout   = "timeout"
	waitCancelled = "cancelled"
)

// TeeMetrics 把指标事件同时发送给多个记录器，nil 记录器被忽略.
func TeeMetrics(recorders ...MetricsRecorder) MetricsRecorder {
	out := make(teeMetrics, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	switch len(out) {
	case 0:
		return nopMetrics{}
	case 1:
		return out[0]
	}
	return out
}

type teeMetrics []MetricsRecorder

func (t teeMetrics) RecordSuspension(mode string) {
	for _, r := range t {
		r.RecordSuspension(mode)
	}
}

func (t teeMetrics) RecordDecision(outcome string) {
	for _, r := range t {
		r.RecordDecision(outcome)
	}
}

func (t teeMetrics) RecordResume(outcome string, d time.Duration) {
	for _, r := range t {
		r.RecordResume(outcome, d)
	}
}

func (t teeMetrics) RecordWait(outcome string, d time.Duration) {
	for _, r := range t {
		r.RecordWait(outcome, d)
	}
}

func (t teeMetrics) SetActiveChannels(n int) {
	for _, r := range t {
		r.SetActiveChannels(n)
	}
}
