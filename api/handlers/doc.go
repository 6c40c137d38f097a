// Copyright (c) HITLFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 HITLFlow HTTP API 的请求处理器实现。

# 核心类型

  - HITLHandler    事件流（SSE 与 WebSocket）、决策、恢复重试、待处理列表与挂起创建
  - HealthHandler  /health 附带活跃通道与待处理数量，/ready 运行注册的检查
  - Response       统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter 捕获状态码，透传 Flush、Hijack 与 Unwrap

# 错误映射

决策结果以 hitl.Outcome 表达：accepted 与 accepted_and_resumed 返回 200，
not_found 返回 404，forbidden 返回 403，invalid_input 返回 400，
resume_failed 返回 502 并标记为可重试。存储错误返回 503。

# 认证

处理器不做认证，只读取中间件通过 types.WithUserID 写入的用户 ID。
Routes 接收两个中间件：userAuth 保护面向用户的路由，serviceAuth 保护
POST /api/v1/hitl/suspensions。
*/
package handlers
