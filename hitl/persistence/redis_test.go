package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/testutil/storetest"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hitl.Store {
		s, _ := newRedisStore(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)
	exp := time.Now().Add(time.Minute)
	req := storetest.NewRequest("evt", "alice", time.Now())
	req.ExpiresAt = &exp
	require.NoError(t, s.Create(ctx, req))

	assert.True(t, mr.Exists("test:hitl:event:evt"))
	members, err := mr.ZMembers("test:hitl:user:alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"evt"}, members)
	members, err = mr.ZMembers("test:hitl:deadline")
	require.NoError(t, err)
	assert.Equal(t, []string{"evt"}, members)

	_, err = s.Transition(ctx, "evt", hitl.StatusPending, hitl.StatusDecided,
		&hitl.Decision{EventID: "evt", Approved: true, Submitter: "alice", DecidedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, mr.Exists("test:hitl:deadline"), "decided entries leave the deadline index")

	require.NoError(t, s.Delete(ctx, "evt"))
	assert.False(t, mr.Exists("test:hitl:event:evt"))
	assert.False(t, mr.Exists("test:hitl:user:alice"))
	assert.False(t, mr.Exists("test:hitl:all"))
}

func TestRedisStore_PingFailsWhenServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedisStore(client, "")
	defer s.Close()

	require.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}

func TestRedisStore_SharedAcrossRegistries(t *testing.T) {
	// 两个进程共享同一 Redis：只有一个决策能被接受
	ctx := context.Background()
	mr := miniredis.RunT(t)
	newReg := func() *hitl.Registry {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return hitl.NewRegistry(NewRedisStore(client, ""), nil)
	}
	a, b := newReg(), newReg()
	require.NoError(t, a.Create(ctx, storetest.NewRequest("evt", "alice", time.Now())))

	ca := hitl.NewCorrelator(a, nil, nil, nil)
	cb := hitl.NewCorrelator(b, nil, nil, nil)
	first, err := ca.SubmitDecision(ctx, "evt", hitl.Decision{Approved: true, Input: "4", Submitter: "alice"})
	require.NoError(t, err)
	second, err := cb.SubmitDecision(ctx, "evt", hitl.Decision{Approved: false, Submitter: "alice"})
	require.NoError(t, err)

	assert.Equal(t, hitl.OutcomeAccepted, first.Status)
	assert.Equal(t, hitl.OutcomeNotFound, second.Status)
}

var errIndexWrite = errors.New("index write failed")

// failIndexOnce 让第一个包含 ZADD 的流水线失败，模拟索引写入时连接中断.
type failIndexOnce struct {
	armed atomic.Bool
}

func (h *failIndexOnce) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failIndexOnce) ProcessHook(next redis.ProcessHook) redis.ProcessHook { return next }

func (h *failIndexOnce) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			if cmd.Name() == "zadd" && h.armed.CompareAndSwap(true, false) {
				return errIndexWrite
			}
		}
		return next(ctx, cmds)
	}
}

func TestRedisStore_CreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hook := &failIndexOnce{}
	hook.armed.Store(true)
	client.AddHook(hook)
	s := NewRedisStore(client, "test:")
	t.Cleanup(func() { _ = s.Close() })

	req := storetest.NewRequest("evt", "alice", time.Now())
	err := s.Create(ctx, req)
	require.ErrorIs(t, err, errIndexWrite)
	assert.False(t, mr.Exists("test:hitl:event:evt"), "no orphan event key after a failed create")
	assert.False(t, mr.Exists("test:hitl:all"))

	// 失败后重试不会被当作重复
	require.NoError(t, s.Create(ctx, req))
	list, err := s.ListByUser(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "evt", list[0].EventID)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, s.Create(ctx, req), hitl.ErrDuplicateEvent)
}

func TestRedisStore_RecoverIsScopedToInstance(t *testing.T) {
	// 两个副本共享同一 Redis：一个副本启动恢复不能清掉另一个副本的请求
	ctx := context.Background()
	mr := miniredis.RunT(t)
	var resumed atomic.Int32
	exec := hitl.ExecutorFunc(func(ctx context.Context, h hitl.Handoff) (any, error) {
		resumed.Add(1)
		return "continued", nil
	})
	newManager := func(instance string) *hitl.Manager {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		reg := hitl.NewRegistry(NewRedisStore(client, ""), nil)
		return hitl.NewManager(reg, hitl.NewHub(0, nil), exec, hitl.WithInstanceID(instance))
	}

	a := newManager("node-a")
	req, err := a.Suspend(ctx, hitl.SuspendParams{UserID: "alice", Description: "deploy?"})
	require.NoError(t, err)
	assert.Equal(t, "node-a", req.Owner)
	time.Sleep(5 * time.Millisecond)

	b := newManager("node-b")
	n, err := b.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := a.Pending(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	out, err := a.Decide(ctx, req.EventID, hitl.Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeAcceptedAndResumed, out.Status)
	assert.Equal(t, int32(1), resumed.Load())

	// 同一实例 ID 重启后回收自己的遗留请求
	left, err := a.Suspend(ctx, hitl.SuspendParams{UserID: "alice", Description: "again?"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	restarted := newManager("node-a")
	n, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, found, err := restarted.Registry().Get(ctx, left.EventID)
	require.NoError(t, err)
	assert.False(t, found)
}
