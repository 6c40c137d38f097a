package hitl

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout 阻塞等待的默认超时.
const DefaultTimeout = 300 * time.Second

// Supervisor 为阻塞等待设置超时上界.
type Supervisor struct {
	registry   *Registry
	correlator *Correlator
	hub        *Hub
	metrics    MetricsRecorder
	logger     *zap.Logger

	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

// NewSupervisor 创建超时监督者。maxTimeout 为 0 表示不限制调用方传入的超时.
func NewSupervisor(registry *Registry, correlator *Correlator, hub *Hub, metrics MetricsRecorder, logger *zap.Logger, defaultTimeout, maxTimeout time.Duration) *Supervisor {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Supervisor{
		registry:       registry,
		correlator:     correlator,
		hub:            hub,
		metrics:        metrics,
		logger:         logger.With(zap.String("component", "hitl_supervisor")),
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
	}
}

// EffectiveTimeout 归一化调用方传入的超时.
func (s *Supervisor) EffectiveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	if s.maxTimeout > 0 && timeout > s.maxTimeout {
		timeout = s.maxTimeout
	}
	return timeout
}

// Await 等待阻塞模式请求的决策，在 waiter、截止时间与 ctx 之间竞争。
//
// 超时合成 Decision{approved:false, input:"timeout"}，经由与人工决策相同的
// 关联路径记录为 expired。无论哪种结果返回，条目都会被移除、waiter 注销。
func (s *Supervisor) Await(ctx context.Context, eventID string, timeout time.Duration) (*Decision, error) {
	ch, ok := s.registry.waiter(eventID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoWaiter, eventID)
	}
	defer s.registry.dropWaiter(eventID)

	timeout = s.EffectiveTimeout(timeout)
	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// 清理不受调用方取消影响
	cleanupCtx := context.WithoutCancel(ctx)

	select {
	case d := <-ch:
		s.metrics.RecordWait(waitDecided, time.Since(start))
		s.remove(cleanupCtx, eventID)
		return &d, nil

	case <-timer.C:
		d, _, err := s.expire(cleanupCtx, eventID, ch)
		if err != nil {
			return nil, err
		}
		if d.IsTimeout() {
			s.metrics.RecordWait(waitTimeout, time.Since(start))
		} else {
			s.metrics.RecordWait(waitDecided, time.Since(start))
		}
		s.remove(cleanupCtx, eventID)
		return d, nil

	case <-ctx.Done():
		// 取消同样要先赢得 pending→expired，已被接受的决策不能丢弃
		d, closed, err := s.expire(cleanupCtx, eventID, ch)
		if err != nil {
			return nil, err
		}
		s.remove(cleanupCtx, eventID)
		if !closed {
			s.metrics.RecordWait(waitDecided, time.Since(start))
			return d, nil
		}
		s.metrics.RecordWait(waitCancelled, time.Since(start))
		s.logger.Info("blocking wait cancelled",
			zap.String("event_id", eventID),
			zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
}

// expire 以超时拒绝关闭请求，closed 报告本次调用是否完成了关闭。
// 若人工决策抢先到达，返回人工决策且 closed 为 false.
func (s *Supervisor) expire(ctx context.Context, eventID string, ch chan Decision) (d *Decision, closed bool, err error) {
	req, found, err := s.registry.Get(ctx, eventID)
	if err != nil {
		return nil, false, err
	}
	timeoutDecision := Decision{
		EventID:   eventID,
		Approved:  false,
		Input:     TimeoutReason,
		DecidedAt: time.Now(),
	}
	if !found {
		return &timeoutDecision, true, nil
	}
	timeoutDecision.Submitter = req.UserID

	out, err := s.correlator.submit(ctx, eventID, timeoutDecision, StatusExpired)
	if err != nil {
		return nil, false, err
	}
	if out.Status == OutcomeAccepted {
		s.logger.Info("suspension timed out",
			zap.String("event_id", eventID),
			zap.String("user_id", req.UserID))
		return out.Decision, true, nil
	}

	// 输给了并发到达的决策：waiter 已在同一临界区内被投递
	select {
	case d := <-ch:
		return &d, false, nil
	default:
	}
	// 决策由其他进程记录时 waiter 不会被投递，读取存储中的决策
	if latest, ok, gerr := s.registry.Get(ctx, eventID); gerr == nil && ok && latest.Decision != nil {
		return latest.Decision, false, nil
	}
	return &timeoutDecision, true, nil
}

func (s *Supervisor) remove(ctx context.Context, eventID string) {
	if err := s.registry.Remove(ctx, eventID); err != nil {
		s.logger.Error("failed to remove suspension",
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}
