package hitl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/hitlflow/hitl"

// OrphanGrace 阻塞请求过期后留给所属实例 Supervisor 的处理时间，
// 超过后由任意实例的 Sweep 关闭.
const OrphanGrace = 30 * time.Second

// DefaultChannelIdleTTL 无订阅者的用户队列保留时长.
const DefaultChannelIdleTTL = 10 * time.Minute

// SuspendParams 挂起请求的创建参数.
type SuspendParams struct {
	// EventID 为空时自动生成
	EventID     string
	UserID      string
	Description string
	ActionData  map[string]any
	Metadata    map[string]string
	Mode        Mode
	// Timeout 阻塞模式的等待上限；非阻塞模式为 0 时使用 NonBlockingTTL
	Timeout time.Duration
}

// Resolution 阻塞挂起的最终结果.
type Resolution struct {
	Request  *SuspensionRequest
	Decision *Decision
	Result   *SyntheticResult
	TimedOut bool
}

// Stats 健康检查使用的运行指标.
type Stats struct {
	ActiveChannels int `json:"active_channels"`
	Pending        int `json:"pending"`
}

// ManagerOption 配置 Manager.
type ManagerOption func(*Manager)

// WithLogger 设置日志器.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics 设置指标记录器.
func WithMetrics(metrics MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		if metrics != nil {
			m.metrics = metrics
		}
	}
}

// WithTimeouts 设置阻塞等待的默认与最大超时.
func WithTimeouts(defaultTimeout, maxTimeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaultTimeout = defaultTimeout
		m.maxTimeout = maxTimeout
	}
}

// WithNonBlockingTTL 设置非阻塞请求的存活时间，0 表示永不过期.
func WithNonBlockingTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.nonBlockingTTL = ttl }
}

// WithInstanceID 设置实例 ID。新请求记录该 ID，Recover 只处理同一 ID 的条目；
// 为空时 Recover 处理存储中的全部条目，只适用于单实例部署.
func WithInstanceID(id string) ManagerOption {
	return func(m *Manager) { m.instanceID = id }
}

// WithChannelIdleTTL 设置无订阅者队列的回收时长，0 表示不回收.
func WithChannelIdleTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) { m.channelIdleTTL = ttl }
}

// WithTracer 设置 tracer，默认使用全局 TracerProvider.
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(m *Manager) {
		if tracer != nil {
			m.tracer = tracer
		}
	}
}

// Manager 组合登记表、事件中心、关联器、监督者与恢复协调器.
type Manager struct {
	registry    *Registry
	hub         *Hub
	correlator  *Correlator
	supervisor  *Supervisor
	coordinator *Coordinator

	metrics MetricsRecorder
	tracer  trace.Tracer
	logger  *zap.Logger

	instanceID     string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	nonBlockingTTL time.Duration
	channelIdleTTL time.Duration
}

// NewManager 创建 Manager。registry 与 hub 由组合根构造并传入.
func NewManager(registry *Registry, hub *Hub, executor Executor, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:       registry,
		hub:            hub,
		metrics:        nopMetrics{},
		tracer:         otel.Tracer(instrumentationName),
		logger:         zap.NewNop(),
		defaultTimeout: DefaultTimeout,
		channelIdleTTL: DefaultChannelIdleTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "hitl_manager"))
	m.correlator = NewCorrelator(registry, hub, m.metrics, m.logger)
	m.supervisor = NewSupervisor(registry, m.correlator, hub, m.metrics, m.logger, m.defaultTimeout, m.maxTimeout)
	m.coordinator = NewCoordinator(registry, executor, m.metrics, m.logger)
	return m
}

// Registry 返回登记表.
func (m *Manager) Registry() *Registry { return m.registry }

// Hub 返回事件中心.
func (m *Manager) Hub() *Hub { return m.hub }

// Correlator 返回决策关联器.
func (m *Manager) Correlator() *Correlator { return m.correlator }

// Supervisor 返回超时监督者.
func (m *Manager) Supervisor() *Supervisor { return m.supervisor }

// Coordinator 返回恢复协调器.
func (m *Manager) Coordinator() *Coordinator { return m.coordinator }

// Suspend 登记挂起请求并向所有者推送 confirmation_required.
// 推送失败（通道已满）只记录日志，请求仍可通过 Pending 取回.
func (m *Manager) Suspend(ctx context.Context, p SuspendParams) (*SuspensionRequest, error) {
	ctx, span := m.tracer.Start(ctx, "hitl.suspend",
		trace.WithAttributes(
			attribute.String("hitl.user_id", p.UserID),
			attribute.String("hitl.mode", string(p.Mode)),
		))
	defer span.End()

	if p.UserID == "" {
		err := fmt.Errorf("%w: user_id required", ErrInvalidRequest)
		recordSpanError(span, err)
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeNonBlocking
	}
	eventID := p.EventID
	if eventID == "" {
		eventID = NewEventID()
	}

	now := time.Now()
	req := &SuspensionRequest{
		EventID:     eventID,
		UserID:      p.UserID,
		Description: p.Description,
		ActionData:  p.ActionData,
		Metadata:    p.Metadata,
		Status:      StatusPending,
		Mode:        mode,
		Owner:       m.instanceID,
		CreatedAt:   now,
	}
	switch {
	case mode == ModeBlocking:
		exp := now.Add(m.supervisor.EffectiveTimeout(p.Timeout))
		req.ExpiresAt = &exp
	case p.Timeout > 0:
		exp := now.Add(p.Timeout)
		req.ExpiresAt = &exp
	case m.nonBlockingTTL > 0:
		exp := now.Add(m.nonBlockingTTL)
		req.ExpiresAt = &exp
	}
	span.SetAttributes(attribute.String("hitl.event_id", eventID))

	if err := m.registry.Create(ctx, req); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	m.metrics.RecordSuspension(string(mode))

	if m.hub != nil {
		if err := m.hub.Publish(req.UserID, RequiredEvent(req)); err != nil {
			m.logger.Warn("confirmation_required not delivered",
				zap.String("event_id", eventID),
				zap.String("user_id", req.UserID),
				zap.Error(err))
		}
		m.metrics.SetActiveChannels(m.hub.ActiveChannels())
	}

	m.logger.Info("suspension created",
		zap.String("event_id", eventID),
		zap.String("user_id", req.UserID),
		zap.String("mode", string(mode)))
	return req.Clone(), nil
}

// Await 等待阻塞模式请求的决策.
func (m *Manager) Await(ctx context.Context, eventID string, timeout time.Duration) (*Decision, error) {
	return m.supervisor.Await(ctx, eventID, timeout)
}

// SuspendAndWait 以阻塞模式挂起并等待决策，返回决策与合成结果.
func (m *Manager) SuspendAndWait(ctx context.Context, p SuspendParams) (*Resolution, error) {
	p.Mode = ModeBlocking
	req, err := m.Suspend(ctx, p)
	if err != nil {
		return nil, err
	}

	ctx, span := m.tracer.Start(ctx, "hitl.await",
		trace.WithAttributes(attribute.String("hitl.event_id", req.EventID)))
	defer span.End()

	d, err := m.supervisor.Await(ctx, req.EventID, p.Timeout)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	result, err := BuildResult(req, d)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("hitl.approved", d.Approved))
	return &Resolution{
		Request:  req,
		Decision: d,
		Result:   result,
		TimedOut: d.IsTimeout(),
	}, nil
}

// Decide 处理来自客户端的决策。阻塞模式唤醒 waiter 后返回 accepted；
// 非阻塞模式继续驱动恢复，返回 accepted_and_resumed 或 resume_failed.
func (m *Manager) Decide(ctx context.Context, eventID string, d Decision) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "hitl.decide",
		trace.WithAttributes(
			attribute.String("hitl.event_id", eventID),
			attribute.Bool("hitl.approved", d.Approved),
		))
	defer span.End()

	out, err := m.correlator.SubmitDecision(ctx, eventID, d)
	if err != nil {
		recordSpanError(span, err)
		return out, err
	}
	span.SetAttributes(attribute.String("hitl.outcome", string(out.Status)))
	if out.Status != OutcomeAccepted || out.Request.Mode == ModeBlocking {
		return out, nil
	}
	return m.resume(ctx, out)
}

// RetryResume 重新尝试此前交接失败的恢复，只允许条目所有者调用.
func (m *Manager) RetryResume(ctx context.Context, eventID, submitter string) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "hitl.retry_resume",
		trace.WithAttributes(attribute.String("hitl.event_id", eventID)))
	defer span.End()

	req, found, err := m.registry.Get(ctx, eventID)
	if err != nil {
		recordSpanError(span, err)
		return Outcome{}, err
	}
	if !found || !req.Status.IsTerminal() || req.Mode == ModeBlocking {
		return Outcome{Status: OutcomeNotFound, Request: req}, nil
	}
	if req.UserID != submitter {
		return Outcome{Status: OutcomeForbidden, Request: req}, nil
	}
	return m.resume(ctx, Outcome{Status: OutcomeAccepted, Request: req, Decision: req.Decision})
}

func (m *Manager) resume(ctx context.Context, out Outcome) (Outcome, error) {
	ctx, span := m.tracer.Start(ctx, "hitl.resume",
		trace.WithAttributes(attribute.String("hitl.event_id", out.Request.EventID)))
	defer span.End()

	res, err := m.coordinator.Resume(ctx, out.Request, out.Decision)
	switch {
	case err == nil:
		out.Status = OutcomeAcceptedAndResumed
		out.Result = res.Result
		out.Output = res.Output
		return out, nil
	case errors.Is(err, ErrResumeFailed):
		recordSpanError(span, err)
		out.Status = OutcomeResumeFailed
		out.Err = err
		return out, nil
	case errors.Is(err, ErrEventNotFound):
		out.Status = OutcomeNotFound
		return out, nil
	default:
		recordSpanError(span, err)
		return out, err
	}
}

// Pending 返回用户尚未决策的请求，供重连的客户端补齐错过的事件.
func (m *Manager) Pending(ctx context.Context, userID string) ([]*SuspensionRequest, error) {
	return m.registry.ListPending(ctx, userID)
}

// Subscribe 订阅用户事件通道.
func (m *Manager) Subscribe(userID string) *Subscription {
	sub := m.hub.Subscribe(userID)
	m.metrics.SetActiveChannels(m.hub.ActiveChannels())
	return sub
}

// Unsubscribe 关闭订阅并刷新通道指标.
func (m *Manager) Unsubscribe(sub *Subscription) {
	sub.Close()
	m.metrics.SetActiveChannels(m.hub.ActiveChannels())
}

// Stats 返回健康检查数据.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	n, err := m.registry.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{ActiveChannels: m.hub.ActiveChannels(), Pending: n}, nil
}

// Recover 启动时把本实例上次运行遗留的 pending/decided/resuming 条目标记为过期并删除。
// 停机期间做出的决策不会被自动恢复；其他实例创建的条目不受影响.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	ids, err := m.registry.Store().ExpireStale(ctx, time.Now(), m.instanceID)
	if err != nil {
		return 0, fmt.Errorf("expire stale suspensions: %w", err)
	}
	for _, id := range ids {
		if err := m.registry.Remove(ctx, id); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		m.logger.Warn("expired suspensions left from previous run",
			zap.Int("count", len(ids)),
			zap.String("instance_id", m.instanceID))
	}
	return len(ids), nil
}

// Sweep 处理已过期的请求。
// 非阻塞请求以超时拒绝记录，尝试以拒绝恢复任务，然后删除；
// 阻塞请求由各自的 Supervisor 处理，只有本进程没有 waiter 且超过 OrphanGrace
// 的条目（创建它的实例已退出）才在这里关闭.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	now := time.Now()
	overdue, err := m.registry.Store().ListOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list overdue suspensions: %w", err)
	}
	expired := 0
	for _, req := range overdue {
		switch req.Mode {
		case ModeNonBlocking:
			ok, err := m.sweepNonBlocking(ctx, req)
			if err != nil {
				return expired, err
			}
			if ok {
				expired++
			}
		case ModeBlocking:
			ok, err := m.sweepOrphan(ctx, req, now)
			if err != nil {
				return expired, err
			}
			if ok {
				expired++
			}
		}
	}
	return expired, nil
}

func (m *Manager) sweepNonBlocking(ctx context.Context, req *SuspensionRequest) (bool, error) {
	d := Decision{Approved: false, Input: TimeoutReason, Submitter: req.UserID}
	out, err := m.correlator.submit(ctx, req.EventID, d, StatusExpired)
	if err != nil || out.Status != OutcomeAccepted {
		return false, err
	}
	if _, rerr := m.coordinator.Resume(ctx, out.Request, out.Decision); rerr != nil {
		m.logger.Warn("timeout rejection not handed off",
			zap.String("event_id", req.EventID),
			zap.Error(rerr))
		_ = m.registry.Remove(ctx, req.EventID)
	}
	return true, nil
}

func (m *Manager) sweepOrphan(ctx context.Context, req *SuspensionRequest, now time.Time) (bool, error) {
	if _, local := m.registry.waiter(req.EventID); local {
		return false, nil
	}
	if req.ExpiresAt == nil || now.Sub(*req.ExpiresAt) < OrphanGrace {
		return false, nil
	}
	d := Decision{Approved: false, Input: TimeoutReason, Submitter: req.UserID}
	out, err := m.correlator.submit(ctx, req.EventID, d, StatusExpired)
	if err != nil || out.Status != OutcomeAccepted {
		return false, err
	}
	m.logger.Warn("closed orphaned blocking suspension",
		zap.String("event_id", req.EventID),
		zap.String("owner", req.Owner))
	if rerr := m.registry.Remove(ctx, req.EventID); rerr != nil {
		m.logger.Error("failed to remove orphaned suspension",
			zap.String("event_id", req.EventID),
			zap.Error(rerr))
	}
	return true, nil
}

// Run 周期执行 Sweep 并回收空闲用户队列，直到 ctx 结束.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				m.logger.Info("expired overdue suspensions", zap.Int("count", n))
			}
			if m.channelIdleTTL > 0 && m.hub.Reap(m.channelIdleTTL) > 0 {
				m.metrics.SetActiveChannels(m.hub.ActiveChannels())
			}
		}
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
