package types

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// 🧰 工具声明
// =============================================================================

// ToolSchema 任务运行时注册工具时使用的声明
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult 工具调用的返回，恢复后的第二次调用同样以该形式交回运行时
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// IsError 调用失败或被用户拒绝
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}

// =============================================================================
// 📐 参数 Schema
// =============================================================================

// JSONSchema 工具参数所需的 JSON Schema 子集
type JSONSchema struct {
	Type        string                 `json:"type,omitempty"`
	Description string                 `json:"description,omitempty"`
	Properties  map[string]*JSONSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
	Items       *JSONSchema            `json:"items,omitempty"`
	Enum        []any                  `json:"enum,omitempty"`
	Default     any                    `json:"default,omitempty"`
}

// NewObjectSchema 创建 object schema
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: "object", Properties: make(map[string]*JSONSchema)}
}

// NewStringSchema 创建 string schema
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: "string"}
}

// NewArraySchema 创建元素为 items 的 array schema
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: "array", Items: items}
}

// NewEnumSchema 创建字符串枚举
func NewEnumSchema(values ...string) *JSONSchema {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	return &JSONSchema{Type: "string", Enum: enum}
}

// AddProperty 添加属性，非 object 类型会被转换为 object
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Type = "object"
	s.Properties[name] = prop
	return s
}

// AddRequired 标记必填属性
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// WithDescription 设置描述
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithDefault 设置默认值
func (s *JSONSchema) WithDefault(v any) *JSONSchema {
	s.Default = v
	return s
}

// ToJSON 序列化
func (s *JSONSchema) ToJSON() (json.RawMessage, error) {
	return json.Marshal(s)
}

// ParseSchema 解析工具参数 schema
func ParseSchema(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &s, nil
}
