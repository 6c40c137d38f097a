package userinput

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/hitlflow/executor"
	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/testutil"
	"github.com/BaSui01/hitlflow/testutil/mocks"
	"github.com/BaSui01/hitlflow/types"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    hitl.InputType
		wantErr string
	}{
		{name: "defaults to text", raw: `{"question":"Name?"}`, want: hitl.InputText},
		{name: "number", raw: `{"question":"How many?","input_type":"NUMBER","default_value":1}`, want: hitl.InputNumber},
		{name: "choice", raw: `{"question":"Pick","input_type":"choice","choices":["a","b"]}`, want: hitl.InputChoice},
		{name: "missing question", raw: `{"input_type":"text"}`, wantErr: "question is required"},
		{name: "choice without choices", raw: `{"question":"Pick","input_type":"choice"}`, wantErr: "choices are required"},
		{name: "unknown type", raw: `{"question":"Q","input_type":"date"}`, wantErr: "unsupported input_type"},
		{name: "bad json", raw: `{`, wantErr: "invalid arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseArgs(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.InputType)
		})
	}
}

func TestSchema_QuestionRequired(t *testing.T) {
	s, err := Schema()
	require.NoError(t, err)
	assert.Equal(t, Name, s.Name)

	parsed, err := types.ParseSchema(s.Parameters)
	require.NoError(t, err)
	assert.Equal(t, []string{"question"}, parsed.Required)
	require.Contains(t, parsed.Properties, "input_type")
	assert.Equal(t, []any{"text", "number", "choice"}, parsed.Properties["input_type"].Enum)
	assert.Equal(t, "text", parsed.Properties["input_type"].Default)
}

func TestToolResult_EncodeFailureIsError(t *testing.T) {
	res := ToolResult("c1", &Answer{Status: StatusOK, Value: math.Inf(1), InputType: hitl.InputNumber}, nil)
	assert.True(t, res.IsError())
	assert.Contains(t, res.Error, "encode answer")
	assert.Empty(t, res.Result)

	ok := ToolResult("c2", &Answer{Status: StatusOK, Value: 3.0, InputType: hitl.InputNumber}, nil)
	assert.False(t, ok.IsError())
	assert.JSONEq(t, `{"status":"ok","value":3,"input_type":"number"}`, string(ok.Result))
}

func newManager(t *testing.T, exec hitl.Executor) *hitl.Manager {
	t.Helper()
	return hitl.NewManager(hitl.NewRegistry(nil, nil), hitl.NewHub(8, nil), exec,
		hitl.WithTimeouts(time.Second, time.Second))
}

func TestTool_NonBlockingRoundTrip(t *testing.T) {
	local := executor.NewLocal(nil)
	m := newManager(t, local)
	tool := New(m, nil)

	answers := make(chan *Answer, 1)
	local.Register("sess", "inv", func(_ context.Context, h hitl.Handoff) (any, error) {
		ans, err := AnswerFromHandoff(h)
		if err != nil {
			return nil, err
		}
		answers <- ans
		return ans, nil
	})

	ctx := WithCall(context.Background(), Call{UserID: "alice", SessionID: "sess", InvocationID: "inv", CallID: "c1"})
	raw, err := tool.Func()(ctx, json.RawMessage(`{"question":"Multiply by?","input_type":"number","default_value":1}`))
	require.NoError(t, err)

	var w Waiting
	require.NoError(t, json.Unmarshal(raw, &w))
	assert.Equal(t, StatusWaiting, w.Status)
	assert.Equal(t, "Multiply by?", w.Question)
	assert.Equal(t, hitl.InputNumber, w.InputType)
	assert.EqualValues(t, 1, w.DefaultValue)

	pending, err := m.Pending(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, Name, pending[0].Meta(hitl.MetaCallName))
	assert.Equal(t, "c1", pending[0].Meta(hitl.MetaCallID))

	out, err := m.Decide(context.Background(), w.EventID, hitl.Decision{Approved: true, Input: "5", Submitter: "alice"})
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeAcceptedAndResumed, out.Status)

	ans := <-answers
	assert.Equal(t, StatusOK, ans.Status)
	assert.Equal(t, 5.0, ans.Value)
	assert.Equal(t, hitl.InputNumber, ans.InputType)
}

func TestTool_RejectionSurfacesAsError(t *testing.T) {
	local := executor.NewLocal(nil)
	m := newManager(t, local)
	tool := New(m, nil)

	var rejected error
	local.Register("sess", "", func(_ context.Context, h hitl.Handoff) (any, error) {
		_, rejected = AnswerFromHandoff(h)
		return nil, nil
	})

	ctx := WithCall(types.WithUserID(context.Background(), "bob"), Call{SessionID: "sess"})
	w, err := tool.Request(ctx, Args{Question: "Pick a color", InputType: hitl.InputChoice, Choices: []string{"red", "blue"}})
	require.NoError(t, err)

	out, err := m.Decide(context.Background(), w.EventID, hitl.Decision{Approved: false, Input: "not now", Submitter: "bob"})
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeAcceptedAndResumed, out.Status)
	assert.ErrorIs(t, rejected, ErrRejected)
	assert.Contains(t, rejected.Error(), "not now")

	res := ToolResult("c9", nil, rejected)
	assert.True(t, res.IsError())
	assert.Equal(t, Name, res.Name)
}

func TestTool_AskBlocksUntilDecision(t *testing.T) {
	exec := mocks.NewMockExecutor()
	m := newManager(t, exec)
	tool := New(m, nil)
	sub := m.Subscribe("carol")
	defer m.Unsubscribe(sub)

	go func() {
		ev, err := sub.Next(context.Background(), time.Second)
		if err != nil || ev.Type != hitl.EventConfirmationRequired {
			return
		}
		_, _ = m.Decide(context.Background(), ev.EventID, hitl.Decision{Approved: true, Input: "blue", Submitter: "carol"})
	}()

	ctx := WithCall(testutil.TestContext(t), Call{UserID: "carol"})
	ans, err := tool.Ask(ctx, Args{Question: "Pick", InputType: hitl.InputChoice, Choices: []string{"red", "blue"}})
	require.NoError(t, err)
	assert.Equal(t, "blue", ans.Value)

	// 阻塞模式由等待方继续执行，不经过 Executor
	assert.Zero(t, exec.CallCount())
	testutil.AssertPendingIDs(t, m, "carol")
}

func TestTool_ResumeFailureCanBeRetried(t *testing.T) {
	exec := mocks.NewMockExecutor().
		FailTimes(1, errors.New("runtime unavailable")).
		WithHandler(func(_ context.Context, h hitl.Handoff) (any, error) {
			return AnswerFromHandoff(h)
		})
	m := newManager(t, exec)
	tool := New(m, nil)
	sub := m.Subscribe("erin")
	defer m.Unsubscribe(sub)

	ctx := WithCall(testutil.TestContext(t), Call{UserID: "erin", SessionID: "s1", CallID: "c7"})
	w, err := tool.Request(ctx, Args{Question: "Deploy to which region?", InputType: hitl.InputText})
	require.NoError(t, err)

	ev := testutil.NextEvent(t, sub, time.Second)
	assert.Equal(t, w.EventID, ev.EventID)
	testutil.AssertPendingIDs(t, m, "erin", w.EventID)

	out, err := m.Decide(ctx, w.EventID, hitl.Decision{Approved: true, Input: "eu-west-1", Submitter: "erin"})
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeResumeFailed, out.Status)

	out, err = m.RetryResume(ctx, w.EventID, "erin")
	require.NoError(t, err)
	assert.Equal(t, hitl.OutcomeAcceptedAndResumed, out.Status)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c7", calls[1].CallID)
	assert.Equal(t, Name, calls[1].CallName)

	ans, ok := out.Output.(*Answer)
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", ans.Value)
}

func TestTool_AskTimeoutIsRejection(t *testing.T) {
	m := hitl.NewManager(hitl.NewRegistry(nil, nil), hitl.NewHub(8, nil), nil,
		hitl.WithTimeouts(20*time.Millisecond, time.Second))
	tool := New(m, nil)

	ctx := WithCall(context.Background(), Call{UserID: "dave"})
	_, err := tool.Ask(ctx, Args{Question: "Still there?", InputType: hitl.InputText})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), hitl.TimeoutReason)
}

func TestTool_RequiresCaller(t *testing.T) {
	tool := New(newManager(t, nil), nil)
	_, err := tool.Request(context.Background(), Args{Question: "Q", InputType: hitl.InputText})
	assert.Error(t, err)
}

func TestAnswerFromHandoff_WrongCall(t *testing.T) {
	_, err := AnswerFromHandoff(hitl.Handoff{CallName: "send_invoice", Result: &hitl.SyntheticResult{Status: hitl.ResultOK}})
	assert.Error(t, err)
}
