package userinput

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/hitlflow/hitl"
	"github.com/BaSui01/hitlflow/types"
)

// Name 是工具在函数调用中使用的名字.
const Name = "request_user_input"

// 工具返回的状态
const (
	StatusWaiting = "waiting_for_input"
	StatusOK      = "ok"
)

// ErrRejected 用户拒绝了输入请求.
var ErrRejected = errors.New("user rejected the input request")

// ToolFunc 与任务执行器的工具调用签名一致.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Args 工具参数.
type Args struct {
	Question     string         `json:"question"`
	InputType    hitl.InputType `json:"input_type,omitempty"`
	DefaultValue any            `json:"default_value,omitempty"`
	Choices      []string       `json:"choices,omitempty"`
}

// ParseArgs 解析并校验参数，input_type 缺省为 text.
func ParseArgs(raw json.RawMessage) (Args, error) {
	var a Args
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a); err != nil {
			return Args{}, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	if a.InputType == hitl.InputNone {
		a.InputType = hitl.InputText
	}
	a.InputType = hitl.InputType(strings.ToLower(string(a.InputType)))
	return a, a.Validate()
}

// Validate 检查必填字段与 input_type.
func (a Args) Validate() error {
	if strings.TrimSpace(a.Question) == "" {
		return errors.New("question is required")
	}
	switch a.InputType {
	case hitl.InputText, hitl.InputNumber:
	case hitl.InputChoice:
		if len(a.Choices) == 0 {
			return errors.New("choices are required when input_type is choice")
		}
	default:
		return fmt.Errorf("unsupported input_type %q", a.InputType)
	}
	return nil
}

func (a Args) actionData() map[string]any {
	data := map[string]any{hitl.ActionInputType: string(a.InputType)}
	if a.DefaultValue != nil {
		data[hitl.ActionDefaultValue] = a.DefaultValue
	}
	if len(a.Choices) > 0 {
		data[hitl.ActionChoices] = a.Choices
	}
	return data
}

// Schema 返回工具声明，question 必填.
func Schema() (types.ToolSchema, error) {
	params := types.NewObjectSchema().
		WithDescription("Ask the user for a value and pause until they answer.").
		AddProperty("question", types.NewStringSchema().
			WithDescription("The question or prompt to show to the user.")).
		AddProperty("input_type", types.NewEnumSchema("text", "number", "choice").
			WithDescription("Type of input expected. Default: text.").
			WithDefault("text")).
		AddProperty("default_value", (&types.JSONSchema{}).
			WithDescription("Optional value to pre-fill in the input field.")).
		AddProperty("choices", types.NewArraySchema(types.NewStringSchema()).
			WithDescription("Options to choose from, required when input_type is choice.")).
		AddRequired("question")

	raw, err := params.ToJSON()
	if err != nil {
		return types.ToolSchema{}, fmt.Errorf("encode %s parameters: %w", Name, err)
	}
	return types.ToolSchema{
		Name:        Name,
		Description: "Request a typed input (text, number or choice) from the user through a human-in-the-loop confirmation.",
		Parameters:  raw,
	}, nil
}

// Call 标识一次工具调用，用于恢复时找回暂停的任务.
type Call struct {
	UserID       string
	SessionID    string
	InvocationID string
	CallID       string
}

type callKey struct{}

// WithCall 把调用信息放入 ctx.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFromContext 读取调用信息，UserID 缺省时取 types.UserID.
func CallFromContext(ctx context.Context) (Call, bool) {
	c, ok := ctx.Value(callKey{}).(Call)
	if c.UserID == "" {
		if uid, found := types.UserID(ctx); found {
			c.UserID = uid
			ok = true
		}
	}
	return c, ok && c.UserID != ""
}

func (c Call) metadata() map[string]string {
	md := map[string]string{hitl.MetaCallName: Name}
	if c.SessionID != "" {
		md[hitl.MetaSessionID] = c.SessionID
	}
	if c.InvocationID != "" {
		md[hitl.MetaInvocationID] = c.InvocationID
	}
	if c.CallID != "" {
		md[hitl.MetaCallID] = c.CallID
	}
	return md
}

// Suspender 是 hitl.Manager 中工具需要的部分.
type Suspender interface {
	Suspend(ctx context.Context, p hitl.SuspendParams) (*hitl.SuspensionRequest, error)
	SuspendAndWait(ctx context.Context, p hitl.SuspendParams) (*hitl.Resolution, error)
}

// Waiting 第一次调用的返回值，提示任务已暂停.
type Waiting struct {
	Status       string         `json:"status"`
	EventID      string         `json:"event_id"`
	Question     string         `json:"question"`
	InputType    hitl.InputType `json:"input_type"`
	DefaultValue any            `json:"default_value"`
	Choices      []string       `json:"choices"`
}

// Answer 用户答复后工具的返回值.
type Answer struct {
	Status    string         `json:"status"`
	Value     any            `json:"value"`
	InputType hitl.InputType `json:"input_type"`
}

// Tool 实现 request_user_input.
type Tool struct {
	suspender Suspender
	logger    *zap.Logger
}

// New 创建工具.
func New(s Suspender, logger *zap.Logger) *Tool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{suspender: s, logger: logger.With(zap.String("tool", Name))}
}

func (t *Tool) params(ctx context.Context, a Args, mode hitl.Mode) (hitl.SuspendParams, error) {
	call, ok := CallFromContext(ctx)
	if !ok {
		return hitl.SuspendParams{}, fmt.Errorf("%s: caller identity missing from context", Name)
	}
	return hitl.SuspendParams{
		UserID:      call.UserID,
		Description: a.Question,
		ActionData:  a.actionData(),
		Metadata:    call.metadata(),
		Mode:        mode,
	}, nil
}

// Request 以非阻塞方式挂起，立即返回 waiting_for_input。
// 用户答复后结果经由任务执行器的 Handoff 送回，用 AnswerFromHandoff 转换.
func (t *Tool) Request(ctx context.Context, a Args) (*Waiting, error) {
	p, err := t.params(ctx, a, hitl.ModeNonBlocking)
	if err != nil {
		return nil, err
	}
	req, err := t.suspender.Suspend(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.Info("requesting user input",
		zap.String("event_id", req.EventID),
		zap.String("input_type", string(a.InputType)))
	return &Waiting{
		Status:       StatusWaiting,
		EventID:      req.EventID,
		Question:     a.Question,
		InputType:    a.InputType,
		DefaultValue: a.DefaultValue,
		Choices:      a.Choices,
	}, nil
}

// Ask 以阻塞方式挂起并等待答复，超时按拒绝处理.
func (t *Tool) Ask(ctx context.Context, a Args) (*Answer, error) {
	p, err := t.params(ctx, a, hitl.ModeBlocking)
	if err != nil {
		return nil, err
	}
	res, err := t.suspender.SuspendAndWait(ctx, p)
	if err != nil {
		return nil, err
	}
	return answerFromResult(res.Result)
}

// Func 返回非阻塞形式的 ToolFunc.
func (t *Tool) Func() ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		a, err := ParseArgs(args)
		if err != nil {
			return nil, err
		}
		w, err := t.Request(ctx, a)
		if err != nil {
			return nil, err
		}
		return json.Marshal(w)
	}
}

// BlockingFunc 返回阻塞形式的 ToolFunc.
func (t *Tool) BlockingFunc() ToolFunc {
	return func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		a, err := ParseArgs(args)
		if err != nil {
			return nil, err
		}
		ans, err := t.Ask(ctx, a)
		if err != nil {
			return nil, err
		}
		return json.Marshal(ans)
	}
}

// AnswerFromHandoff 把恢复载荷转换为工具的第二次返回值.
// 拒绝（包括超时）返回 ErrRejected.
func AnswerFromHandoff(h hitl.Handoff) (*Answer, error) {
	if h.CallName != "" && h.CallName != Name {
		return nil, fmt.Errorf("handoff for %q is not a %s call", h.CallName, Name)
	}
	return answerFromResult(h.Result)
}

func answerFromResult(r *hitl.SyntheticResult) (*Answer, error) {
	if r == nil {
		return nil, errors.New("missing result")
	}
	if !r.Approved() {
		if r.Reason != "" {
			return nil, fmt.Errorf("%w: %s", ErrRejected, r.Reason)
		}
		return nil, ErrRejected
	}
	return &Answer{Status: StatusOK, Value: r.Value, InputType: r.InputType}, nil
}

// ToolResult 按工具调用结果格式输出，错误放入 Error 字段.
func ToolResult(callID string, ans *Answer, err error) types.ToolResult {
	res := types.ToolResult{ToolCallID: callID, Name: Name}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	data, merr := json.Marshal(ans)
	if merr != nil {
		res.Error = fmt.Sprintf("encode answer: %v", merr)
		return res
	}
	res.Result = data
	return res
}
