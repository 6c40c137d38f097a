// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 向 hitl.Manager 提供 Tracer，并以 HITLMetrics 导出挂起、决策与恢复指标。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
