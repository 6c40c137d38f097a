// Package config 提供 HITLFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（HITLFLOW_ 前缀）的顺序叠加，
// Validate 汇总所有字段错误后一次性返回。
package config
