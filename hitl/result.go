package hitl

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// 结果状态
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// SyntheticResult 替代被挂起调用的返回值.
//
// 序列化时 Values 中的预知值会平铺到顶层，保留字段优先。
type SyntheticResult struct {
	Status    string         `json:"status"`
	Confirmed bool           `json:"confirmed"`
	InputType InputType      `json:"input_type,omitempty"`
	Value     any            `json:"value,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Values    map[string]any `json:"-"`
}

// Approved 报告结果是否为批准.
func (r *SyntheticResult) Approved() bool {
	return r != nil && r.Status == ResultOK
}

// Map 返回平铺后的键值形式.
func (r *SyntheticResult) Map() map[string]any {
	out := make(map[string]any, len(r.Values)+5)
	for k, v := range r.Values {
		out[k] = v
	}
	out["status"] = r.Status
	out["confirmed"] = r.Confirmed
	if r.InputType != InputNone {
		out["input_type"] = r.InputType
	}
	if r.Value != nil {
		out["value"] = r.Value
	}
	if r.Reason != "" {
		out["reason"] = r.Reason
	}
	return out
}

// MarshalJSON 平铺预知值.
func (r SyntheticResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON 解析平铺格式，未知键归入 Values.
func (r *SyntheticResult) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = SyntheticResult{}
	for k, v := range raw {
		switch k {
		case "status":
			r.Status, _ = v.(string)
		case "confirmed":
			r.Confirmed, _ = v.(bool)
		case "input_type":
			s, _ := v.(string)
			r.InputType = InputType(s)
		case "value":
			r.Value = v
		case "reason":
			r.Reason, _ = v.(string)
		default:
			if r.Values == nil {
				r.Values = make(map[string]any)
			}
			r.Values[k] = v
		}
	}
	return nil
}

// effectiveInput 空输入回退到 default_value.
func effectiveInput(req *SuspensionRequest, d *Decision) string {
	in := strings.TrimSpace(d.Input)
	if in == "" {
		if def, ok := req.DefaultValue(); ok {
			return def
		}
	}
	return in
}

// parseInput 按声明的类型解析输入.
func parseInput(req *SuspensionRequest, raw string) (any, error) {
	switch req.InputType() {
	case InputNumber:
		if raw == "" {
			return nil, fmt.Errorf("%w: number required", ErrInvalidInput)
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidInput, raw)
		}
		return n, nil
	case InputChoice:
		choices := req.Choices()
		if len(choices) > 0 && !slices.Contains(choices, raw) {
			return nil, fmt.Errorf("%w: %q is not one of %v", ErrInvalidInput, raw, choices)
		}
		return raw, nil
	case InputText:
		return raw, nil
	case InputNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unsupported input_type %q", ErrInvalidInput, req.InputType())
	}
}

// ValidateDecision 检查批准决策的输入能否按声明类型解析。拒绝决策总是合法.
func ValidateDecision(req *SuspensionRequest, d *Decision) error {
	if d == nil || !d.Approved {
		return nil
	}
	_, err := parseInput(req, effectiveInput(req, d))
	return err
}

// BuildResult 构造交给任务执行器的结果。
//
//   - 批准且声明了 input_type：解析输入并合并预知值
//   - 批准且无输入：简单的批准标记
//   - 拒绝：携带原因的拒绝标记
func BuildResult(req *SuspensionRequest, d *Decision) (*SyntheticResult, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: missing decision", ErrInvalidInput)
	}
	if !d.Approved {
		return &SyntheticResult{
			Status:    ResultRejected,
			Confirmed: false,
			Reason:    strings.TrimSpace(d.Input),
		}, nil
	}

	it := req.InputType()
	if it == InputNone {
		return &SyntheticResult{Status: ResultOK, Confirmed: true}, nil
	}
	value, err := parseInput(req, effectiveInput(req, d))
	if err != nil {
		return nil, err
	}
	values := req.PreKnownValues()
	if len(values) == 0 {
		values = nil
	}
	return &SyntheticResult{
		Status:    ResultOK,
		Confirmed: true,
		InputType: it,
		Value:     value,
		Values:    values,
	}, nil
}
