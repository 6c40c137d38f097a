package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(id, user string, mode Mode) *SuspensionRequest {
	return &SuspensionRequest{
		EventID:     id,
		UserID:      user,
		Description: "confirm " + id,
		Status:      StatusPending,
		Mode:        mode,
		CreatedAt:   time.Now(),
	}
}

func TestRegistry_CreateRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)

	require.NoError(t, r.Create(ctx, newPending("evt-1", "alice", ModeNonBlocking)))

	dup := newPending("evt-1", "mallory", ModeNonBlocking)
	dup.Description = "overwrite attempt"
	err := r.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateEvent)

	got, ok, err := r.Get(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "confirm evt-1", got.Description)
	assert.Equal(t, StatusPending, got.Status)
}

func TestRegistry_CreateValidates(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.ErrorIs(t, r.Create(context.Background(), nil), ErrInvalidRequest)
	assert.ErrorIs(t, r.Create(context.Background(), newPending("", "alice", ModeBlocking)), ErrInvalidRequest)
	assert.ErrorIs(t, r.Create(context.Background(), newPending("evt", "", ModeBlocking)), ErrInvalidRequest)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Create(ctx, newPending("evt-1", "alice", ModeBlocking)))

	require.NoError(t, r.Remove(ctx, "evt-1"))
	require.NoError(t, r.Remove(ctx, "evt-1"))

	_, ok, err := r.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, hasWaiter := r.waiter("evt-1")
	assert.False(t, hasWaiter)
}

func TestRegistry_WaiterOnlyForBlocking(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Create(ctx, newPending("blk", "alice", ModeBlocking)))
	require.NoError(t, r.Create(ctx, newPending("nb", "alice", ModeNonBlocking)))

	_, ok := r.waiter("blk")
	assert.True(t, ok)
	_, ok = r.waiter("nb")
	assert.False(t, ok)
}

func TestRegistry_ListPendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	base := time.Now()
	for i, id := range []string{"c", "a", "b"} {
		req := newPending(id, "alice", ModeNonBlocking)
		req.CreatedAt = base.Add(time.Duration(2-i) * time.Second)
		require.NoError(t, r.Create(ctx, req))
	}
	require.NoError(t, r.Create(ctx, newPending("other", "bob", ModeNonBlocking)))

	list, err := r.ListPending(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].EventID, list[1].EventID, list[2].EventID})

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRegistry_ClaimIsExclusive(t *testing.T) {
	r := NewRegistry(nil, nil)
	assert.True(t, r.claim("evt"))
	assert.False(t, r.claim("evt"))
	r.release("evt")
	assert.True(t, r.claim("evt"))
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	req := newPending("evt", "alice", ModeNonBlocking)
	req.ActionData = map[string]any{"amount": 500}
	require.NoError(t, r.Create(ctx, req))

	got, _, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	got.ActionData["amount"] = 1
	got.Status = StatusDecided

	again, _, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, 500, again.ActionData["amount"])
	assert.Equal(t, StatusPending, again.Status)
}
