package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/hitl"
)

// ErrSessionGone 目标会话或调用已不存在.
var ErrSessionGone = errors.New("executor: session gone")

// Continuation 被挂起调用的续体，接收合成结果并返回任务的后续输出.
type Continuation func(ctx context.Context, h hitl.Handoff) (any, error)

// Local 进程内执行器.
type Local struct {
	mu       sync.Mutex
	sessions map[string]map[string]Continuation
	logger   *zap.Logger
}

// NewLocal 创建进程内执行器.
func NewLocal(logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		sessions: make(map[string]map[string]Continuation),
		logger:   logger.With(zap.String("component", "local_executor")),
	}
}

// Register 为会话中的一次调用注册续体，返回注销函数。
// invocationID 为空表示会话级续体，匹配该会话内没有专门注册的调用.
func (l *Local) Register(sessionID, invocationID string, fn Continuation) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.sessions[sessionID]
	if !ok {
		inv = make(map[string]Continuation)
		l.sessions[sessionID] = inv
	}
	inv[invocationID] = fn
	return func() { l.unregister(sessionID, invocationID) }
}

func (l *Local) unregister(sessionID, invocationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.sessions[sessionID]
	if !ok {
		return
	}
	delete(inv, invocationID)
	if len(inv) == 0 {
		delete(l.sessions, sessionID)
	}
}

// CloseSession 丢弃会话的全部续体，之后的恢复返回 ErrSessionGone.
func (l *Local) CloseSession(sessionID string) {
	l.mu.Lock()
	delete(l.sessions, sessionID)
	l.mu.Unlock()
}

// Sessions 返回当前注册的会话数.
func (l *Local) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *Local) lookup(sessionID, invocationID string) (Continuation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if fn, ok := inv[invocationID]; ok {
		return fn, true
	}
	fn, ok := inv[""]
	return fn, ok
}

// Continue 调用续体。成功后注销专门注册的调用续体，失败时保留以便重试.
func (l *Local) Continue(ctx context.Context, h hitl.Handoff) (any, error) {
	fn, ok := l.lookup(h.SessionID, h.InvocationID)
	if !ok {
		return nil, fmt.Errorf("%w: session=%q invocation=%q", ErrSessionGone, h.SessionID, h.InvocationID)
	}
	out, err := fn(ctx, h)
	if err != nil {
		return nil, err
	}
	if h.InvocationID != "" {
		l.unregister(h.SessionID, h.InvocationID)
	}
	l.logger.Debug("continuation invoked",
		zap.String("event_id", h.EventID),
		zap.String("session_id", h.SessionID),
		zap.String("call_name", h.CallName))
	return out, nil
}

var _ hitl.Executor = (*Local)(nil)
