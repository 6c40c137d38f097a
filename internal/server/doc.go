// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动、
优雅关闭与系统信号监听。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。所有请求 context 派生自 Manager 持有的基础
context，Shutdown 先取消它，使 SSE/WebSocket 事件流与阻塞挂起
请求及时退出，再在超时内排空其余请求。

# 核心类型

  - Manager：HTTP 服务器管理器，提供 Start/Shutdown/Errors/Addr。
  - Config：监听地址、读写超时、空闲超时、最大请求头与关闭超时。
  - WaitForShutdown：监听 SIGINT/SIGTERM 或任一 Manager 的异步错误。
*/
package server
