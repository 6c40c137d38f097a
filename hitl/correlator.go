package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OutcomeStatus 决策处理的结果分类.
type OutcomeStatus string

const (
	OutcomeAccepted           OutcomeStatus = "accepted"
	OutcomeAcceptedAndResumed OutcomeStatus = "accepted_and_resumed"
	OutcomeNotFound           OutcomeStatus = "not_found"
	OutcomeForbidden          OutcomeStatus = "forbidden"
	OutcomeInvalidInput       OutcomeStatus = "invalid_input"
	OutcomeResumeFailed       OutcomeStatus = "resume_failed"
)

// Outcome 决策处理结果。常规情况都以 Outcome 表达而不是 error.
type Outcome struct {
	Status OutcomeStatus

	// Request 为转移后的条目快照（accepted 系列）或原条目（forbidden 等）
	Request  *SuspensionRequest
	Decision *Decision

	// ResolvedWaiter 阻塞模式下是否唤醒了 waiter
	ResolvedWaiter bool

	// 非阻塞模式恢复后的结果与任务执行器输出
	Result *SyntheticResult
	Output any

	// Err 携带 invalid_input 与 resume_failed 的原因
	Err error
}

// Accepted 报告决策是否已被记录.
func (o Outcome) Accepted() bool {
	switch o.Status {
	case OutcomeAccepted, OutcomeAcceptedAndResumed, OutcomeResumeFailed:
		return true
	}
	return false
}

// Correlator 把异步到达的决策关联回挂起请求.
type Correlator struct {
	registry *Registry
	hub      *Hub
	metrics  MetricsRecorder
	logger   *zap.Logger
}

// NewCorrelator 创建决策关联器，hub 可为 nil.
func NewCorrelator(registry *Registry, hub *Hub, metrics MetricsRecorder, logger *zap.Logger) *Correlator {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		registry: registry,
		hub:      hub,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "hitl_correlator")),
	}
}

// SubmitDecision 校验并记录决策.
//
// 条目不存在或已决策返回 not_found；提交者不是所有者返回 forbidden，
// 条目保持不变；输入无法解析返回 invalid_input，条目保持 pending。
// 只有存储故障作为 error 返回。
func (c *Correlator) SubmitDecision(ctx context.Context, eventID string, d Decision) (Outcome, error) {
	return c.submit(ctx, eventID, d, StatusDecided)
}

func (c *Correlator) submit(ctx context.Context, eventID string, d Decision, to Status) (Outcome, error) {
	d.EventID = eventID
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now()
	}

	c.registry.mu.Lock()
	out, err := c.submitLocked(ctx, eventID, &d, to)
	c.registry.mu.Unlock()
	if err != nil {
		return Outcome{}, err
	}

	c.metrics.RecordDecision(string(out.Status))
	if out.Status == OutcomeAccepted && c.hub != nil {
		c.hub.PublishIfActive(out.Request.UserID, ResolvedEvent(eventID, out.Request.Status))
	}
	return out, nil
}

func (c *Correlator) submitLocked(ctx context.Context, eventID string, d *Decision, to Status) (Outcome, error) {
	req, err := c.registry.store.Get(ctx, eventID)
	if errors.Is(err, ErrEventNotFound) {
		return Outcome{Status: OutcomeNotFound, Decision: d}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load suspension %s: %w", eventID, err)
	}
	if req.Status != StatusPending {
		return Outcome{Status: OutcomeNotFound, Request: req, Decision: d}, nil
	}
	if d.Submitter != req.UserID {
		c.logger.Warn("decision from non-owner rejected",
			zap.String("event_id", eventID),
			zap.String("owner", req.UserID),
			zap.String("submitter", d.Submitter))
		return Outcome{Status: OutcomeForbidden, Request: req, Decision: d}, nil
	}
	if to == StatusDecided {
		if verr := ValidateDecision(req, d); verr != nil {
			return Outcome{Status: OutcomeInvalidInput, Request: req, Decision: d, Err: verr}, nil
		}
	}

	updated, resolved, err := c.registry.transitionLocked(ctx, eventID, to, d)
	switch {
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrStatusConflict):
		// 另一个进程抢先完成了转移
		return Outcome{Status: OutcomeNotFound, Request: req, Decision: d}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("record decision %s: %w", eventID, err)
	}

	c.logger.Info("decision recorded",
		zap.String("event_id", eventID),
		zap.String("user_id", updated.UserID),
		zap.String("status", string(updated.Status)),
		zap.Bool("approved", d.Approved),
		zap.Bool("resolved_waiter", resolved))

	return Outcome{
		Status:         OutcomeAccepted,
		Request:        updated,
		Decision:       d,
		ResolvedWaiter: resolved,
	}, nil
}
