package hitl

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status 挂起请求的生命周期状态.
type Status string

const (
	StatusPending Status = "pending"
	StatusDecided Status = "decided"
	StatusExpired Status = "expired"
	// StatusResuming 交接已开始。成功后条目被删除；删除失败时条目停留在此状态，
	// 不会再次交接.
	StatusResuming Status = "resuming"
)

// IsTerminal 报告状态是否已结束决策阶段.
func (s Status) IsTerminal() bool {
	return s == StatusDecided || s == StatusExpired
}

// Mode 区分挂起请求的等待方式.
// Blocking 表示创建者持有 waiter 同步等待；NonBlocking 表示由外部调用方驱动恢复。
type Mode string

const (
	ModeBlocking    Mode = "blocking"
	ModeNonBlocking Mode = "non_blocking"
)

// ParseMode 解析模式字符串，空串按 non_blocking 处理.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeNonBlocking:
		return ModeNonBlocking, nil
	case ModeBlocking:
		return ModeBlocking, nil
	default:
		return "", fmt.Errorf("unknown suspension mode %q", s)
	}
}

// InputType 请求期望的输入类型，空值表示纯粹的是/否确认.
type InputType string

const (
	InputNone   InputType = ""
	InputText   InputType = "text"
	InputNumber InputType = "number"
	InputChoice InputType = "choice"
)

// metadata 中任务执行器恢复自身所需的关联键
const (
	MetaSessionID    = "session_id"
	MetaInvocationID = "invocation_id"
	MetaCallID       = "call_id"
	MetaCallName     = "call_name"
)

// action_data 中的保留键，其余键都视为预知值并合并进结果
const (
	ActionInputType    = "input_type"
	ActionChoices      = "choices"
	ActionDefaultValue = "default_value"
)

// TimeoutReason 超时合成拒绝决策的输入.
const TimeoutReason = "timeout"

// Decision 人工对挂起请求的答复.
type Decision struct {
	EventID   string    `json:"event_id"`
	Approved  bool      `json:"approved"`
	Input     string    `json:"input,omitempty"`
	Submitter string    `json:"submitter"`
	DecidedAt time.Time `json:"decided_at"`
}

// IsTimeout 报告该决策是否由超时合成.
func (d *Decision) IsTimeout() bool {
	return d != nil && !d.Approved && d.Input == TimeoutReason
}

// SuspensionRequest 一次挂起的确认请求.
type SuspensionRequest struct {
	EventID     string            `json:"event_id"`
	UserID      string            `json:"user_id"`
	Description string            `json:"description"`
	ActionData  map[string]any    `json:"action_data,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Status      Status            `json:"status"`
	Mode        Mode              `json:"mode"`
	// Owner 创建该请求的实例 ID，启动恢复只处理本实例的条目
	Owner       string            `json:"owner,omitempty"`
	Decision    *Decision         `json:"decision,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Clone 返回副本，map 与指针字段都会复制，切片值共享.
func (r *SuspensionRequest) Clone() *SuspensionRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActionData != nil {
		c.ActionData = make(map[string]any, len(r.ActionData))
		for k, v := range r.ActionData {
			c.ActionData[k] = v
		}
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	if r.Decision != nil {
		d := *r.Decision
		c.Decision = &d
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// InputType 返回 action_data 声明的输入类型.
func (r *SuspensionRequest) InputType() InputType {
	v, _ := r.ActionData[ActionInputType].(string)
	return InputType(strings.ToLower(v))
}

// Choices 返回 choice 类型的候选项。经过 JSON 往返后值可能是 []any.
func (r *SuspensionRequest) Choices() []string {
	switch v := r.ActionData[ActionChoices].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, c := range v {
			out = append(out, fmt.Sprint(c))
		}
		return out
	default:
		return nil
	}
}

// DefaultValue 返回默认输入.
func (r *SuspensionRequest) DefaultValue() (string, bool) {
	v, ok := r.ActionData[ActionDefaultValue]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// PreKnownValues 返回除保留键以外的 action_data.
func (r *SuspensionRequest) PreKnownValues() map[string]any {
	out := make(map[string]any)
	for k, v := range r.ActionData {
		switch k {
		case ActionInputType, ActionChoices, ActionDefaultValue:
			continue
		}
		out[k] = v
	}
	return out
}

// Meta 读取 metadata 键.
func (r *SuspensionRequest) Meta(key string) string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata[key]
}

// NewEventID 生成新的事件 ID.
func NewEventID() string {
	return uuid.NewString()
}

// SortByCreatedAt 按创建时间升序排序，时间相同按 ID 排序保证稳定.
func SortByCreatedAt(reqs []*SuspensionRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].EventID < reqs[j].EventID
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}
