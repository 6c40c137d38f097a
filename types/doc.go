// Copyright (c) HITLFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 HITLFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 hitl、executor、tools、
api 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode: 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - ToolSchema / ToolResult: 交给任务运行时的工具声明与调用结果
  - JSONSchema: 工具参数 schema 子集与构建器（NewObjectSchema 等）

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRoles
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
*/
package types
