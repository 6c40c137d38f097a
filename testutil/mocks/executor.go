// Package mocks 提供 hitl 相关接口的 Mock 实现.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/hitlflow/hitl"
)

// =============================================================================
// 🎭 Mock Executor
// =============================================================================

// MockExecutor 记录每次 Continue 调用的 hitl.Executor，支持错误注入与延迟
type MockExecutor struct {
	mu      sync.Mutex
	calls   []hitl.Handoff
	result  any
	err     error
	failN   int
	delay   time.Duration
	notify  chan hitl.Handoff
	handler func(ctx context.Context, h hitl.Handoff) (any, error)
}

// NewMockExecutor 创建 Mock Executor
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{notify: make(chan hitl.Handoff, 64)}
}

// WithResult 设置返回值
func (m *MockExecutor) WithResult(v any) *MockExecutor {
	m.result = v
	return m
}

// WithError 设置每次调用返回的错误
func (m *MockExecutor) WithError(err error) *MockExecutor {
	m.err = err
	m.failN = -1
	return m
}

// FailTimes 前 n 次调用返回 err，之后成功
func (m *MockExecutor) FailTimes(n int, err error) *MockExecutor {
	m.err = err
	m.failN = n
	return m
}

// WithDelay 每次调用前等待 d，期间响应 ctx 取消
func (m *MockExecutor) WithDelay(d time.Duration) *MockExecutor {
	m.delay = d
	return m
}

// WithHandler 自定义调用逻辑，优先于 WithResult
func (m *MockExecutor) WithHandler(fn func(ctx context.Context, h hitl.Handoff) (any, error)) *MockExecutor {
	m.handler = fn
	return m
}

// Continue 实现 hitl.Executor
func (m *MockExecutor) Continue(ctx context.Context, h hitl.Handoff) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, h)
	n := len(m.calls)
	m.mu.Unlock()

	select {
	case m.notify <- h:
	default:
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.err != nil && (m.failN < 0 || n <= m.failN) {
		return nil, m.err
	}
	if m.handler != nil {
		return m.handler(ctx, h)
	}
	return m.result, nil
}

// Calls 返回调用记录副本
func (m *MockExecutor) Calls() []hitl.Handoff {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hitl.Handoff, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Handoffs 每次调用都会（非阻塞地）投递到该通道
func (m *MockExecutor) Handoffs() <-chan hitl.Handoff {
	return m.notify
}

var _ hitl.Executor = (*MockExecutor)(nil)
