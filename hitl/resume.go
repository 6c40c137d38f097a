package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Handoff 交给任务执行器的恢复载荷，关联键来自请求的 metadata.
type Handoff struct {
	EventID      string           `json:"event_id"`
	UserID       string           `json:"user_id"`
	SessionID    string           `json:"session_id,omitempty"`
	InvocationID string           `json:"invocation_id,omitempty"`
	CallID       string           `json:"call_id,omitempty"`
	CallName     string           `json:"call_name,omitempty"`
	Result       *SyntheticResult `json:"result"`
}

// NewHandoff 由请求和结果构造 Handoff.
func NewHandoff(req *SuspensionRequest, result *SyntheticResult) Handoff {
	return Handoff{
		EventID:      req.EventID,
		UserID:       req.UserID,
		SessionID:    req.Meta(MetaSessionID),
		InvocationID: req.Meta(MetaInvocationID),
		CallID:       req.Meta(MetaCallID),
		CallName:     req.Meta(MetaCallName),
		Result:       result,
	}
}

// Executor 任务执行器的恢复接口。
// Continue 把合成结果作为被挂起调用的返回值交回任务，返回任务的后续输出.
type Executor interface {
	Continue(ctx context.Context, h Handoff) (any, error)
}

// ExecutorFunc 函数适配器.
type ExecutorFunc func(ctx context.Context, h Handoff) (any, error)

// Continue 调用 f.
func (f ExecutorFunc) Continue(ctx context.Context, h Handoff) (any, error) {
	return f(ctx, h)
}

// Resumption 一次成功恢复的结果.
type Resumption struct {
	Result *SyntheticResult
	Output any
}

// Coordinator 构造合成结果并交给任务执行器，保证每个事件至多恢复一次.
type Coordinator struct {
	registry *Registry
	executor Executor
	metrics  MetricsRecorder
	logger   *zap.Logger
}

// NewCoordinator 创建恢复协调器.
func NewCoordinator(registry *Registry, executor Executor, metrics MetricsRecorder, logger *zap.Logger) *Coordinator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		executor: executor,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "hitl_resume")),
	}
}

// Resume 把决策交还任务执行器.
//
// 条目已被移除、仍为 pending 或正被另一个调用恢复时返回 ErrEventNotFound；
// 交接前先以 compare-and-set 把条目置为 resuming，写入失败则不调用执行器。
// 交接失败返回包装了执行器错误的 ErrResumeFailed，条目退回原状态以便重试；
// 成功后移除条目。d 为 nil 时使用条目中记录的决策.
func (c *Coordinator) Resume(ctx context.Context, req *SuspensionRequest, d *Decision) (*Resumption, error) {
	if req == nil {
		return nil, ErrEventNotFound
	}
	eventID := req.EventID
	if !c.registry.claim(eventID) {
		c.metrics.RecordResume("in_flight", 0)
		return nil, fmt.Errorf("%w: resume already in flight for %s", ErrEventNotFound, eventID)
	}
	defer c.registry.release(eventID)

	current, found, err := c.registry.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !found || !current.Status.IsTerminal() {
		c.metrics.RecordResume("not_found", 0)
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if d == nil {
		d = current.Decision
	}
	if d == nil {
		return nil, fmt.Errorf("%w: no decision recorded for %s", ErrEventNotFound, eventID)
	}

	result, err := BuildResult(current, d)
	if err != nil {
		return nil, err
	}

	if c.executor == nil {
		return nil, fmt.Errorf("%w: no executor configured", ErrResumeFailed)
	}

	settled := current.Status
	if _, err := c.registry.store.Transition(ctx, eventID, settled, StatusResuming, nil); err != nil {
		if errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrStatusConflict) {
			// 另一个进程已经开始交接
			c.metrics.RecordResume("not_found", 0)
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("mark suspension %s resuming: %w", eventID, err)
	}

	cleanupCtx := context.WithoutCancel(ctx)
	start := time.Now()
	output, err := c.executor.Continue(ctx, NewHandoff(current, result))
	if err != nil {
		c.metrics.RecordResume("failed", time.Since(start))
		c.logger.Warn("resume handoff failed",
			zap.String("event_id", eventID),
			zap.String("session_id", current.Meta(MetaSessionID)),
			zap.Error(err))
		if _, rerr := c.registry.store.Transition(cleanupCtx, eventID, StatusResuming, settled, nil); rerr != nil {
			c.logger.Error("failed to reopen suspension for retry",
				zap.String("event_id", eventID),
				zap.Error(rerr))
		}
		return nil, fmt.Errorf("%w: %w", ErrResumeFailed, err)
	}
	c.metrics.RecordResume("resumed", time.Since(start))

	// 条目停留在 resuming 时不会被再次交接，删除失败只记录日志
	if rerr := c.registry.Remove(cleanupCtx, eventID); rerr != nil {
		c.logger.Error("failed to remove resumed suspension",
			zap.String("event_id", eventID),
			zap.Error(rerr))
	}

	c.logger.Info("suspension resumed",
		zap.String("event_id", eventID),
		zap.String("status", result.Status))
	return &Resumption{Result: result, Output: output}, nil
}

// IsResumeFailed 报告错误是否为交接失败.
func IsResumeFailed(err error) bool {
	return errors.Is(err, ErrResumeFailed)
}
