// Package api 定义 HITLFlow HTTP API 的请求与响应结构。
//
// # API 概览
//
// 面向终端用户（需要认证用户）：
//   - GET  /api/v1/hitl/events            SSE 事件流
//   - GET  /api/v1/hitl/events/ws         WebSocket 事件流
//   - GET  /api/v1/hitl/pending           当前用户尚未决策的请求
//   - POST /api/v1/hitl/{event_id}/decision
//   - POST /api/v1/hitl/{event_id}/resume 重试失败的恢复
//
// 服务间调用（X-API-Key）：
//   - POST /api/v1/hitl/suspensions
//
// 健康检查：/health、/healthz、/ready、/readyz、/version。
//
// # 事件格式
//
// 每条事件是一行 JSON，type 取值 connected、ping、confirmation_required
// 与 confirmation_resolved。SSE 以 "data: {json}\n\n" 帧输出，不带 event: 行。
//
// # 生成文档
//
//	swag init -g cmd/hitlflow/main.go -o api --parseDependency --parseInternal
package api
