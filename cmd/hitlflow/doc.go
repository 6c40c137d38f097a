// Copyright (c) HITLFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 HITLFlow 服务端程序入口。

# 概述

cmd/hitlflow 提供 serve、migrate、health 与 version 子命令。serve 按配置
组装挂起登记存储（memory、redis、database）、任务执行器（local、webhook）
与 hitl.Manager，并在两个端口上分别提供 HTTP API 与 /metrics。

# 中间件链

Recovery、RequestID、OTelTracing、MetricsMiddleware、SecurityHeaders、
RequestLogger、CORS、RateLimiter 作用于所有请求。认证按路由挂载：
面向用户的路由使用 JWTAuth，未配置 JWT 时使用 GatewayUserAuth 信任网关
传入的用户 header；POST /api/v1/hitl/suspensions 使用 APIKeyAuth。

# 关闭顺序

收到信号或服务异常退出后：停止清扫，取消事件流与阻塞等待并排空 HTTP，
关闭存储与连接池，最后刷新遥测。
*/
package main
