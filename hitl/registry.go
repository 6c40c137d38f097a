package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry 挂起请求的权威登记表.
//
// 条目数据委托给 Store；Registry 自身持有进程内状态：阻塞模式的一次性
// waiter 与恢复过程中的在途认领。所有对外可见的变更都在 mu 下完成，
// 使幂等与所有权检查和变更本身保持原子。
type Registry struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	waiters map[string]chan Decision
	claims  map[string]struct{}
}

// NewRegistry 创建登记表，store 为 nil 时使用内存存储.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:   store,
		logger:  logger.With(zap.String("component", "hitl_registry")),
		waiters: make(map[string]chan Decision),
		claims:  make(map[string]struct{}),
	}
}

// Store 返回底层存储.
func (r *Registry) Store() Store { return r.store }

// Create 登记新的挂起请求。阻塞模式同时注册一次性 waiter.
// event_id 已存在时返回 ErrDuplicateEvent 且不覆盖原条目.
func (r *Registry) Create(ctx context.Context, req *SuspensionRequest) error {
	if req == nil || req.EventID == "" || req.UserID == "" {
		return ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Create(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			r.logger.Error("duplicate event id",
				zap.String("event_id", req.EventID),
				zap.String("user_id", req.UserID))
			return err
		}
		return fmt.Errorf("create suspension %s: %w", req.EventID, err)
	}
	if req.Mode == ModeBlocking {
		r.waiters[req.EventID] = make(chan Decision, 1)
	}
	return nil
}

// Get 查询条目，不存在时 ok 为 false.
func (r *Registry) Get(ctx context.Context, eventID string) (*SuspensionRequest, bool, error) {
	req, err := r.store.Get(ctx, eventID)
	if errors.Is(err, ErrEventNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get suspension %s: %w", eventID, err)
	}
	return req, true, nil
}

// Remove 删除条目及其 waiter，幂等.
func (r *Registry) Remove(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, eventID)
	if err := r.store.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("remove suspension %s: %w", eventID, err)
	}
	return nil
}

// ListPending 返回用户仍在等待决策的请求，最早的在前.
func (r *Registry) ListPending(ctx context.Context, userID string) ([]*SuspensionRequest, error) {
	reqs, err := r.store.ListByUser(ctx, userID, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending for %s: %w", userID, err)
	}
	return reqs, nil
}

// Count 返回条目数量.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Ping 检查存储可用性.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// transitionLocked 在持有 mu 的前提下执行状态 test-and-set，
// 成功后若存在 waiter 则投递决策。调用方必须持有 r.mu.
func (r *Registry) transitionLocked(ctx context.Context, eventID string, to Status, d *Decision) (*SuspensionRequest, bool, error) {
	updated, err := r.store.Transition(ctx, eventID, StatusPending, to, d)
	if err != nil {
		return nil, false, err
	}
	resolved := false
	if updated.Mode == ModeBlocking {
		if ch, ok := r.waiters[eventID]; ok {
			select {
			case ch <- *d:
				resolved = true
			default:
			}
		}
	}
	return updated, resolved, nil
}

// waiter 返回阻塞模式的 waiter 通道.
func (r *Registry) waiter(eventID string) (chan Decision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.waiters[eventID]
	return ch, ok
}

// dropWaiter 注销 waiter，不影响条目本身.
func (r *Registry) dropWaiter(eventID string) {
	r.mu.Lock()
	delete(r.waiters, eventID)
	r.mu.Unlock()
}

// claim 为恢复取得在途认领，同一事件同一时刻只能有一个持有者.
func (r *Registry) claim(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.claims[eventID]; busy {
		return false
	}
	r.claims[eventID] = struct{}{}
	return true
}

func (r *Registry) release(eventID string) {
	r.mu.Lock()
	delete(r.claims, eventID)
	r.mu.Unlock()
}

// Close 关闭底层存储.
func (r *Registry) Close() error {
	return r.store.Close()
}
