package hitl

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu       sync.Mutex
	handoffs []Handoff
	fn       func(ctx context.Context, h Handoff) (any, error)
}

func (e *recordingExecutor) Continue(ctx context.Context, h Handoff) (any, error) {
	e.mu.Lock()
	e.handoffs = append(e.handoffs, h)
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(ctx, h)
	}
	return "continued", nil
}

func (e *recordingExecutor) calls() []Handoff {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Handoff(nil), e.handoffs...)
}

func decideFixture(t *testing.T, req *SuspensionRequest, d Decision) (*Registry, Outcome) {
	t.Helper()
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Create(ctx, req))
	out, err := NewCorrelator(r, nil, nil, nil).SubmitDecision(ctx, req.EventID, d)
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, out.Status)
	return r, out
}

func TestCoordinator_ResumeApproveNumber(t *testing.T) {
	req := newPending("evt", "alice", ModeNonBlocking)
	req.ActionData = map[string]any{ActionInputType: "number", "base": 10}
	req.Metadata = map[string]string{
		MetaSessionID:    "sess-1",
		MetaInvocationID: "inv-1",
		MetaCallID:       "call-1",
		MetaCallName:     "multiply",
	}
	r, out := decideFixture(t, req, Decision{Approved: true, Input: "4", Submitter: "alice"})

	exec := &recordingExecutor{}
	c := NewCoordinator(r, exec, nil, nil)
	res, err := c.Resume(context.Background(), out.Request, out.Decision)
	require.NoError(t, err)

	assert.Equal(t, float64(4), res.Result.Value)
	assert.Equal(t, 10, res.Result.Values["base"])
	assert.Equal(t, "continued", res.Output)

	calls := exec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sess-1", calls[0].SessionID)
	assert.Equal(t, "inv-1", calls[0].InvocationID)
	assert.Equal(t, "call-1", calls[0].CallID)
	assert.Equal(t, "multiply", calls[0].CallName)
	assert.Equal(t, "alice", calls[0].UserID)

	_, ok, err := r.Get(context.Background(), "evt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_ResumeRejectRemovesOnce(t *testing.T) {
	req := newPending("evt", "alice", ModeNonBlocking)
	r, out := decideFixture(t, req, Decision{Approved: false, Input: "not now", Submitter: "alice"})

	exec := &recordingExecutor{}
	c := NewCoordinator(r, exec, nil, nil)

	res, err := c.Resume(context.Background(), out.Request, out.Decision)
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res.Result.Status)
	assert.Equal(t, "not now", res.Result.Reason)
	assert.False(t, res.Result.Confirmed)

	_, ok, err := r.Get(context.Background(), "evt")
	require.NoError(t, err)
	assert.False(t, ok)

	// 第二次恢复不能重复产生副作用
	_, err = c.Resume(context.Background(), out.Request, out.Decision)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Len(t, exec.calls(), 1)
}

func TestCoordinator_ResumeFailedKeepsDecided(t *testing.T) {
	req := newPending("evt", "alice", ModeNonBlocking)
	r, out := decideFixture(t, req, Decision{Approved: true, Submitter: "alice"})

	sessionGone := errors.New("session gone")
	exec := &recordingExecutor{fn: func(context.Context, Handoff) (any, error) { return nil, sessionGone }}
	c := NewCoordinator(r, exec, nil, nil)

	_, err := c.Resume(context.Background(), out.Request, out.Decision)
	assert.ErrorIs(t, err, ErrResumeFailed)
	assert.ErrorIs(t, err, sessionGone)
	assert.True(t, IsResumeFailed(err))
	assert.False(t, errors.Is(err, ErrEventNotFound))

	stored, ok, gerr := r.Get(context.Background(), "evt")
	require.NoError(t, gerr)
	require.True(t, ok)
	assert.Equal(t, StatusDecided, stored.Status, "failed handoff reopens the entry")

	// 执行器恢复后可以重试
	exec.fn = nil
	_, err = c.Resume(context.Background(), stored, nil)
	require.NoError(t, err)
}

func TestCoordinator_PendingEntryNotResumable(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	req := newPending("evt", "alice", ModeNonBlocking)
	require.NoError(t, r.Create(ctx, req))

	exec := &recordingExecutor{}
	_, err := NewCoordinator(r, exec, nil, nil).Resume(ctx, req, &Decision{Approved: true})
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Empty(t, exec.calls())
}

func TestCoordinator_ConcurrentResumeRunsOnce(t *testing.T) {
	req := newPending("evt", "alice", ModeNonBlocking)
	r, out := decideFixture(t, req, Decision{Approved: true, Submitter: "alice"})

	release := make(chan struct{})
	exec := &recordingExecutor{fn: func(context.Context, Handoff) (any, error) {
		<-release
		return nil, nil
	}}
	c := NewCoordinator(r, exec, nil, nil)

	const n = 8
	var wg sync.WaitGroup
	var ok, notFound atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resume(context.Background(), out.Request, out.Decision)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrEventNotFound):
				notFound.Add(1)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), notFound.Load())
	assert.Len(t, exec.calls(), 1)
}

func TestCoordinator_SharedStoreHandsOffOnce(t *testing.T) {
	// 两个进程共享存储，各自的进程内 claim 互不可见，只能靠存储 CAS 排他
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := NewRegistry(store, nil), NewRegistry(store, nil)
	require.NoError(t, a.Create(ctx, newPending("evt", "alice", ModeNonBlocking)))
	out, err := NewCorrelator(a, nil, nil, nil).SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, out.Status)

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := &recordingExecutor{fn: func(context.Context, Handoff) (any, error) {
		close(entered)
		<-release
		return nil, nil
	}}
	done := make(chan error, 1)
	go func() {
		_, err := NewCoordinator(a, slow, nil, nil).Resume(ctx, out.Request, out.Decision)
		done <- err
	}()
	<-entered

	stored, err := store.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, StatusResuming, stored.Status)

	other := &recordingExecutor{}
	_, err = NewCoordinator(b, other, nil, nil).Resume(ctx, out.Request, out.Decision)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.Empty(t, other.calls())

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, slow.calls(), 1)
}

func TestCoordinator_ExpiredResumesAsRejection(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, nil)
	req := newPending("evt", "alice", ModeNonBlocking)
	require.NoError(t, r.Create(ctx, req))
	out, err := NewCorrelator(r, nil, nil, nil).submit(ctx, "evt",
		Decision{Approved: false, Input: TimeoutReason, Submitter: "alice"}, StatusExpired)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, out.Request.Status)

	res, err := NewCoordinator(r, &recordingExecutor{}, nil, nil).Resume(ctx, out.Request, nil)
	require.NoError(t, err)
	assert.Equal(t, TimeoutReason, res.Result.Reason)
}

func TestNewHandoff(t *testing.T) {
	req := &SuspensionRequest{EventID: "e", UserID: "u"}
	h := NewHandoff(req, &SyntheticResult{Status: ResultOK, Confirmed: true})
	assert.Equal(t, "e", h.EventID)
	assert.Empty(t, h.SessionID)
	assert.True(t, h.Result.Approved())
}
