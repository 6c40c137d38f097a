package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hitlflow/hitl"
)

func TestLocal_ContinueRegisteredInvocation(t *testing.T) {
	l := NewLocal(nil)
	var got hitl.Handoff
	l.Register("s1", "inv-1", func(_ context.Context, h hitl.Handoff) (any, error) {
		got = h
		return map[string]any{"sent": true}, nil
	})

	out, err := l.Continue(context.Background(), hitl.Handoff{
		EventID: "evt", SessionID: "s1", InvocationID: "inv-1", CallName: "send_invoice",
		Result: &hitl.SyntheticResult{Status: hitl.ResultOK, Confirmed: true},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sent": true}, out)
	assert.Equal(t, "send_invoice", got.CallName)
	assert.True(t, got.Result.Approved())

	// 续体只能被消费一次
	_, err = l.Continue(context.Background(), hitl.Handoff{SessionID: "s1", InvocationID: "inv-1"})
	assert.ErrorIs(t, err, ErrSessionGone)
	assert.Equal(t, 0, l.Sessions())
}

func TestLocal_SessionGone(t *testing.T) {
	l := NewLocal(nil)
	_, err := l.Continue(context.Background(), hitl.Handoff{SessionID: "missing"})
	assert.ErrorIs(t, err, ErrSessionGone)

	l.Register("s1", "", func(context.Context, hitl.Handoff) (any, error) { return nil, nil })
	l.CloseSession("s1")
	_, err = l.Continue(context.Background(), hitl.Handoff{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrSessionGone)
}

func TestLocal_SessionLevelFallback(t *testing.T) {
	l := NewLocal(nil)
	calls := 0
	unregister := l.Register("s1", "", func(context.Context, hitl.Handoff) (any, error) {
		calls++
		return "ok", nil
	})

	for _, inv := range []string{"a", "b"} {
		out, err := l.Continue(context.Background(), hitl.Handoff{SessionID: "s1", InvocationID: inv})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 2, calls)

	unregister()
	assert.Equal(t, 0, l.Sessions())
}

func TestLocal_FailureKeepsContinuation(t *testing.T) {
	l := NewLocal(nil)
	fail := true
	l.Register("s1", "inv", func(context.Context, hitl.Handoff) (any, error) {
		if fail {
			return nil, errors.New("busy")
		}
		return "done", nil
	})

	_, err := l.Continue(context.Background(), hitl.Handoff{SessionID: "s1", InvocationID: "inv"})
	require.Error(t, err)

	fail = false
	out, err := l.Continue(context.Background(), hitl.Handoff{SessionID: "s1", InvocationID: "inv"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestLocal_WithManager(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(nil)
	m := hitl.NewManager(hitl.NewRegistry(nil, nil), hitl.NewHub(4, nil), l)

	req, err := m.Suspend(ctx, hitl.SuspendParams{
		UserID:   "alice",
		Metadata: map[string]string{hitl.MetaSessionID: "gone"},
	})
	require.NoError(t, err)

	out, err := m.Decide(ctx, req.EventID, hitl.Decision{Approved: true, Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeResumeFailed, out.Status)
	assert.ErrorIs(t, out.Err, ErrSessionGone)
	assert.ErrorIs(t, out.Err, hitl.ErrResumeFailed)
}
