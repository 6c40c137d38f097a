// Package storetest 提供 hitl.Store 实现的一致性测试套件.
//
// 每个存储实现（内存、Redis、SQL）都应在自己的测试中调用 Run，
// 保证它们对 Create/Transition 的原子语义表现一致。
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hitlflow/hitl"
)

// Factory 为每个子测试创建一个空的存储.
type Factory func(t *testing.T) hitl.Store

// NewRequest 构造测试用的 pending 请求.
func NewRequest(id, user string, createdAt time.Time) *hitl.SuspensionRequest {
	return &hitl.SuspensionRequest{
		EventID:     id,
		UserID:      user,
		Description: "confirm " + id,
		ActionData:  map[string]any{hitl.ActionInputType: "number", "base": 10},
		Metadata:    map[string]string{hitl.MetaSessionID: "sess-" + id},
		Status:      hitl.StatusPending,
		Mode:        hitl.ModeNonBlocking,
		CreatedAt:   createdAt,
	}
}

// Run 执行完整的一致性套件.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("DuplicateCreate", func(t *testing.T) { testDuplicateCreate(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("ConcurrentTransition", func(t *testing.T) { testConcurrentTransition(t, newStore(t)) })
	t.Run("DeleteIdempotent", func(t *testing.T) { testDeleteIdempotent(t, newStore(t)) })
	t.Run("ListByUser", func(t *testing.T) { testListByUser(t, newStore(t)) })
	t.Run("ListOverdue", func(t *testing.T) { testListOverdue(t, newStore(t)) })
	t.Run("ExpireStale", func(t *testing.T) { testExpireStale(t, newStore(t)) })
	t.Run("ExpireStaleByOwner", func(t *testing.T) { testExpireStaleByOwner(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

func testCreateAndGet(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	req := NewRequest("evt-1", "alice", now)
	require.NoError(t, s.Create(ctx, req))

	got, err := s.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "confirm evt-1", got.Description)
	assert.Equal(t, hitl.StatusPending, got.Status)
	assert.Equal(t, hitl.ModeNonBlocking, got.Mode)
	assert.Equal(t, hitl.InputNumber, got.InputType())
	assert.EqualValues(t, 10, got.PreKnownValues()["base"])
	assert.Equal(t, "sess-evt-1", got.Meta(hitl.MetaSessionID))
	assert.WithinDuration(t, now, got.CreatedAt, time.Second)
	assert.Nil(t, got.Decision)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, hitl.ErrEventNotFound)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testDuplicateCreate(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewRequest("evt", "alice", time.Now())))

	dup := NewRequest("evt", "mallory", time.Now())
	assert.ErrorIs(t, s.Create(ctx, dup), hitl.ErrDuplicateEvent)

	got, err := s.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
}

func testTransition(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewRequest("evt", "alice", time.Now())))

	d := &hitl.Decision{EventID: "evt", Approved: true, Input: "4", Submitter: "alice", DecidedAt: time.Now().UTC()}
	updated, err := s.Transition(ctx, "evt", hitl.StatusPending, hitl.StatusDecided, d)
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusDecided, updated.Status)
	require.NotNil(t, updated.Decision)
	assert.Equal(t, "4", updated.Decision.Input)
	require.NotNil(t, updated.DecidedAt)

	_, err = s.Transition(ctx, "evt", hitl.StatusPending, hitl.StatusExpired, nil)
	assert.ErrorIs(t, err, hitl.ErrStatusConflict)

	_, err = s.Transition(ctx, "missing", hitl.StatusPending, hitl.StatusDecided, d)
	assert.ErrorIs(t, err, hitl.ErrEventNotFound)

	got, err := s.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusDecided, got.Status)
	require.NotNil(t, got.Decision)
	assert.True(t, got.Decision.Approved)
	assert.Equal(t, "alice", got.Decision.Submitter)
}

func testConcurrentTransition(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewRequest("evt", "alice", time.Now())))

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := &hitl.Decision{EventID: "evt", Approved: i%2 == 0, Submitter: "alice", DecidedAt: time.Now()}
			if _, err := s.Transition(ctx, "evt", hitl.StatusPending, hitl.StatusDecided, d); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func testDeleteIdempotent(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, NewRequest("evt", "alice", time.Now())))
	require.NoError(t, s.Delete(ctx, "evt"))
	require.NoError(t, s.Delete(ctx, "evt"))

	_, err := s.Get(ctx, "evt")
	assert.ErrorIs(t, err, hitl.ErrEventNotFound)
	list, err := s.ListByUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testListByUser(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a-%d", i)
		require.NoError(t, s.Create(ctx, NewRequest(id, "alice", base.Add(time.Duration(3-i)*time.Second))))
	}
	require.NoError(t, s.Create(ctx, NewRequest("b-0", "bob", base)))

	_, err := s.Transition(ctx, "a-1", hitl.StatusPending, hitl.StatusDecided,
		&hitl.Decision{EventID: "a-1", Approved: true, Submitter: "alice", DecidedAt: time.Now()})
	require.NoError(t, err)

	pending, err := s.ListByUser(ctx, "alice", hitl.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a-2", pending[0].EventID)
	assert.Equal(t, "a-0", pending[1].EventID)

	all, err := s.ListByUser(ctx, "alice", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testListOverdue(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	overdue := NewRequest("overdue", "alice", now.Add(-2*time.Minute))
	overdue.ExpiresAt = &past
	fresh := NewRequest("fresh", "alice", now)
	fresh.ExpiresAt = &future
	forever := NewRequest("forever", "alice", now)
	require.NoError(t, s.Create(ctx, overdue))
	require.NoError(t, s.Create(ctx, fresh))
	require.NoError(t, s.Create(ctx, forever))

	list, err := s.ListOverdue(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "overdue", list[0].EventID)
}

func testExpireStale(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	cutoff := time.Now().UTC()
	require.NoError(t, s.Create(ctx, NewRequest("old-pending", "u", cutoff.Add(-time.Hour))))
	require.NoError(t, s.Create(ctx, NewRequest("old-decided", "u", cutoff.Add(-time.Hour))))
	require.NoError(t, s.Create(ctx, NewRequest("new", "u", cutoff.Add(time.Hour))))
	_, err := s.Transition(ctx, "old-decided", hitl.StatusPending, hitl.StatusDecided,
		&hitl.Decision{EventID: "old-decided", Approved: true, Submitter: "u", DecidedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, NewRequest("old-resuming", "u", cutoff.Add(-time.Hour))))
	_, err = s.Transition(ctx, "old-resuming", hitl.StatusPending, hitl.StatusDecided,
		&hitl.Decision{EventID: "old-resuming", Approved: true, Submitter: "u", DecidedAt: time.Now()})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "old-resuming", hitl.StatusDecided, hitl.StatusResuming, nil)
	require.NoError(t, err)

	ids, err := s.ExpireStale(ctx, cutoff, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"old-pending", "old-decided", "old-resuming"}, ids)

	got, err := s.Get(ctx, "old-decided")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusExpired, got.Status)
	got, err = s.Get(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusPending, got.Status)

	again, err := s.ExpireStale(ctx, cutoff, "")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func testExpireStaleByOwner(t *testing.T, s hitl.Store) {
	ctx := context.Background()
	cutoff := time.Now().UTC()
	mine := NewRequest("mine", "u", cutoff.Add(-time.Hour))
	mine.Owner = "node-a"
	theirs := NewRequest("theirs", "u", cutoff.Add(-time.Hour))
	theirs.Owner = "node-b"
	require.NoError(t, s.Create(ctx, mine))
	require.NoError(t, s.Create(ctx, theirs))

	got, err := s.Get(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Owner)

	ids, err := s.ExpireStale(ctx, cutoff, "node-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, ids)

	got, err = s.Get(ctx, "theirs")
	require.NoError(t, err)
	assert.Equal(t, hitl.StatusPending, got.Status, "other instances' entries are untouched")
}
