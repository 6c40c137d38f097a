package hitl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// --- test doubles (function callback pattern) ---

type testMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
	resumes   map[string]int
	waits     map[string]int
}

func newTestMetrics() *testMetrics {
	return &testMetrics{
		decisions: make(map[string]int),
		resumes:   make(map[string]int),
		waits:     make(map[string]int),
	}
}

func (m *testMetrics) RecordSuspension(string) {}
func (m *testMetrics) SetActiveChannels(int)   {}

func (m *testMetrics) RecordDecision(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions[outcome]++
}

func (m *testMetrics) RecordResume(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumes[outcome]++
}

func (m *testMetrics) RecordWait(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits[outcome]++
}

func (m *testMetrics) count(kind map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return kind[key]
}

// failingStore 在 Get 上注入存储故障.
type failingStore struct {
	*MemoryStore
	getErr error
}

func (s *failingStore) Get(ctx context.Context, id string) (*SuspensionRequest, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, id)
}

func newCorrelatorFixture(t *testing.T) (*Registry, *Correlator) {
	t.Helper()
	r := NewRegistry(nil, nil)
	return r, NewCorrelator(r, NewHub(16, nil), nil, nil)
}

func TestCorrelator_IdempotentDecision(t *testing.T) {
	ctx := context.Background()
	r, c := newCorrelatorFixture(t)
	require.NoError(t, r.Create(ctx, newPending("evt", "alice", ModeNonBlocking)))

	first, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, first.Status)
	assert.Equal(t, StatusDecided, first.Request.Status)
	require.NotNil(t, first.Request.Decision)

	second, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, second.Status)

	stored, _, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, first.Decision.DecidedAt.Unix(), stored.Decision.DecidedAt.Unix())
}

func TestCorrelator_UnknownEvent(t *testing.T) {
	_, c := newCorrelatorFixture(t)
	out, err := c.SubmitDecision(context.Background(), "missing", Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out.Status)
}

func TestCorrelator_Ownership(t *testing.T) {
	ctx := context.Background()
	r, c := newCorrelatorFixture(t)
	require.NoError(t, r.Create(ctx, newPending("evt", "alice", ModeNonBlocking)))

	out, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "bob"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeForbidden, out.Status)

	stored, ok, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.Decision)
}

func TestCorrelator_InvalidInputLeavesPending(t *testing.T) {
	ctx := context.Background()
	r, c := newCorrelatorFixture(t)
	req := newPending("evt", "alice", ModeNonBlocking)
	req.ActionData = map[string]any{ActionInputType: "number"}
	require.NoError(t, r.Create(ctx, req))

	out, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Input: "four", Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalidInput, out.Status)
	assert.ErrorIs(t, out.Err, ErrInvalidInput)

	stored, _, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	// 拒绝不校验输入
	out, err = c.SubmitDecision(ctx, "evt", Decision{Approved: false, Input: "four", Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out.Status)
}

func TestCorrelator_ResolvesBlockingWaiter(t *testing.T) {
	ctx := context.Background()
	r, c := newCorrelatorFixture(t)
	require.NoError(t, r.Create(ctx, newPending("evt", "alice", ModeBlocking)))

	out, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.True(t, out.ResolvedWaiter)

	ch, ok := r.waiter("evt")
	require.True(t, ok)
	select {
	case d := <-ch:
		assert.True(t, d.Approved)
		assert.Equal(t, "evt", d.EventID)
	default:
		t.Fatal("waiter not resolved")
	}
}

func TestCorrelator_StorageFailureIsError(t *testing.T) {
	boom := errors.New("backend unreachable")
	store := &failingStore{MemoryStore: NewMemoryStore()}
	r := NewRegistry(store, nil)
	c := NewCorrelator(r, nil, nil, nil)
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, newPending("evt", "alice", ModeNonBlocking)))

	store.getErr = boom
	_, err := c.SubmitDecision(ctx, "evt", Decision{Approved: true, Submitter: "alice"})
	assert.ErrorIs(t, err, boom)

	store.getErr = nil
	stored, _, err := r.Get(ctx, "evt")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestCorrelator_ConcurrentIndependence(t *testing.T) {
	ctx := context.Background()
	r, c := newCorrelatorFixture(t)
	require.NoError(t, r.Create(ctx, newPending("E1", "u", ModeNonBlocking)))
	require.NoError(t, r.Create(ctx, newPending("E2", "u", ModeNonBlocking)))

	out, err := c.SubmitDecision(ctx, "E2", Decision{Approved: true, Submitter: "u"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, out.Status)

	e1, ok, err := r.Get(ctx, "E1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, e1.Status)
}

func TestCorrelator_PublishesResolvedToActiveSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(4, nil)
	r := NewRegistry(nil, nil)
	c := NewCorrelator(r, hub, nil, nil)
	require.NoError(t, r.Create(ctx, newPending("evt", "alice", ModeNonBlocking)))

	sub := hub.Subscribe("alice")
	defer sub.Close()
	_, err := c.SubmitDecision(ctx, "evt", Decision{Approved: false, Submitter: "alice"})
	require.NoError(t, err)

	ev, err := sub.Next(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, EventConfirmationResolved, ev.Type)
	assert.Equal(t, "evt", ev.EventID)
}

// TestProperty_AtMostOneAcceptedDecision 并发提交任意数量的决策，恰好一个被接受.
func TestProperty_AtMostOneAcceptedDecision(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		submitters := rapid.IntRange(2, 16).Draw(rt, "submitters")
		foreign := rapid.IntRange(0, submitters-1).Draw(rt, "foreign")

		ctx := context.Background()
		metrics := newTestMetrics()
		r := NewRegistry(nil, nil)
		c := NewCorrelator(r, nil, metrics, nil)
		require.NoError(rt, r.Create(ctx, newPending("evt", "owner", ModeBlocking)))

		var wg sync.WaitGroup
		results := make([]OutcomeStatus, submitters)
		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				who := "owner"
				if i < foreign {
					who = fmt.Sprintf("intruder-%d", i)
				}
				out, err := c.SubmitDecision(ctx, "evt", Decision{Approved: i%2 == 0, Submitter: who})
				if err == nil {
					results[i] = out.Status
				}
			}(i)
		}
		wg.Wait()

		accepted := 0
		for i, st := range results {
			switch st {
			case OutcomeAccepted:
				accepted++
			case OutcomeForbidden:
				assert.Less(rt, i, foreign)
			case OutcomeNotFound:
			default:
				rt.Fatalf("unexpected outcome %q", st)
			}
		}
		if foreign < submitters {
			assert.Equal(rt, 1, accepted)
		}
		assert.Equal(rt, accepted, metrics.count(metrics.decisions, string(OutcomeAccepted)))

		ch, ok := r.waiter("evt")
		require.True(rt, ok)
		assert.LessOrEqual(rt, len(ch), 1)
	})
}
