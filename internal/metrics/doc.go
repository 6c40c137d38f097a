// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
HITL 挂起/恢复与数据库三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离，HITL 指标额外位于 hitl
子系统下。Collector 实现 hitl.MetricsRecorder，由 cmd/hitlflow
注入到 hitl.Manager。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - HITL 指标：挂起数（按 mode）、决策数与恢复数（按 outcome）、
    恢复耗时、阻塞等待耗时、活跃用户通道数、按传输方式统计的打开事件流。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
