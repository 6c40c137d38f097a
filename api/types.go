package api

import (
	"time"

	"github.com/BaSui01/hitlflow/hitl"
)

// =============================================================================
// 决策类型
// =============================================================================

// DecisionRequest 客户端对挂起请求的答复。
// @Description 决策请求结构
type DecisionRequest struct {
	// 是否批准
	Approved bool `json:"approved" example:"true"`
	// 拒绝原因，input 为空的拒绝决策使用该字段
	Reason string `json:"reason,omitempty" example:"amount too high"`
	// 用户输入，按 action_data.input_type 解析
	Input string `json:"input,omitempty" example:"5"`
}

// EffectiveInput 拒绝且没有 input 时使用 reason.
func (r DecisionRequest) EffectiveInput() string {
	if r.Input == "" && !r.Approved {
		return r.Reason
	}
	return r.Input
}

// DecisionResponse 决策处理结果。
// @Description 决策响应结构
type DecisionResponse struct {
	EventID string `json:"event_id" example:"2b1f0c52-8d4e-4b53-9d5c-3f0e0c1a7e11"`
	// accepted 或 accepted_and_resumed
	Status  string `json:"status" example:"accepted_and_resumed"`
	Message string `json:"message,omitempty" example:"Decision received successfully"`
	// 交给任务执行器的合成结果（仅非阻塞模式）
	Result *hitl.SyntheticResult `json:"result,omitempty"`
	// 任务执行器恢复后的输出
	Output any `json:"output,omitempty"`
}

// =============================================================================
// 挂起类型
// =============================================================================

// SuspensionCreateRequest 服务间调用创建挂起请求。
// @Description 创建挂起请求
type SuspensionCreateRequest struct {
	// 为空时由服务生成
	EventID     string            `json:"event_id,omitempty"`
	UserID      string            `json:"user_id" example:"alice"`
	Description string            `json:"description" example:"Send invoice #42 for €500?"`
	ActionData  map[string]any    `json:"action_data,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// blocking 或 non_blocking（默认）
	Mode string `json:"mode,omitempty" example:"non_blocking"`
	// 超时，Go duration 格式，例如 "90s"
	Timeout string `json:"timeout,omitempty" example:"300s"`
}

// Params 转换为 hitl.SuspendParams.
func (r SuspensionCreateRequest) Params() (hitl.SuspendParams, error) {
	mode, err := hitl.ParseMode(r.Mode)
	if err != nil {
		return hitl.SuspendParams{}, err
	}
	var timeout time.Duration
	if r.Timeout != "" {
		timeout, err = time.ParseDuration(r.Timeout)
		if err != nil {
			return hitl.SuspendParams{}, err
		}
	}
	return hitl.SuspendParams{
		EventID:     r.EventID,
		UserID:      r.UserID,
		Description: r.Description,
		ActionData:  r.ActionData,
		Metadata:    r.Metadata,
		Mode:        mode,
		Timeout:     timeout,
	}, nil
}

// SuspensionResponse 非阻塞创建的返回值，以及待处理列表中的条目。
// @Description 挂起请求视图
type SuspensionResponse struct {
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id,omitempty"`
	Description string            `json:"description,omitempty"`
	ActionData  map[string]any    `json:"action_data,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      string            `json:"status"`
	Mode        string            `json:"mode"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// NewSuspensionResponse 由挂起请求构造视图.
func NewSuspensionResponse(req *hitl.SuspensionRequest) SuspensionResponse {
	return SuspensionResponse{
		EventID:     req.EventID,
		UserID:      req.UserID,
		Description: req.Description,
		ActionData:  req.ActionData,
		Metadata:    req.Metadata,
		Status:      string(req.Status),
		Mode:        string(req.Mode),
		CreatedAt:   req.CreatedAt,
		ExpiresAt:   req.ExpiresAt,
	}
}

// ResolutionResponse 阻塞创建等到的结果。
// @Description 阻塞挂起的决策结果
type ResolutionResponse struct {
	EventID  string                `json:"event_id"`
	Approved bool                  `json:"approved"`
	Input    string                `json:"input,omitempty"`
	TimedOut bool                  `json:"timed_out"`
	Message  string                `json:"message,omitempty"`
	Result   *hitl.SyntheticResult `json:"result,omitempty"`
}

// NewResolutionResponse 转换阻塞挂起的结果，超时附带可读的说明.
func NewResolutionResponse(res *hitl.Resolution) ResolutionResponse {
	out := ResolutionResponse{
		EventID:  res.Request.EventID,
		Approved: res.Decision.Approved,
		Input:    res.Decision.Input,
		TimedOut: res.TimedOut,
		Result:   res.Result,
	}
	if res.TimedOut {
		out.Message = "no decision was made before the confirmation timed out"
	}
	return out
}

// PendingResponse 当前用户尚未决策的请求，按创建时间升序。
// @Description 待处理列表
type PendingResponse struct {
	Requests []SuspensionResponse `json:"requests"`
	Count    int                  `json:"count"`
}

// =============================================================================
// 健康检查类型
// =============================================================================

// HealthResponse 健康检查结果。
// @Description 健康状态
type HealthResponse struct {
	Status         string                 `json:"status" example:"healthy"`
	ActiveChannels int                    `json:"active_channels"`
	Pending        int                    `json:"pending"`
	Timestamp      time.Time              `json:"timestamp"`
	Version        string                 `json:"version,omitempty"`
	Checks         map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查结果.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}
