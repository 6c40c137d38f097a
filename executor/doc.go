// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 executor 提供 hitl.Executor 的具体实现，把合成结果交还给被挂起的任务。

  - Local：进程内会话注册表。任务在挂起点为每次调用注册一个续体函数，
    恢复时按 session_id/invocation_id 查找；会话已不存在时返回
    ErrSessionGone，由上层转换为 resume_failed。
  - Webhook：把 Handoff 以 JSON POST 到任务编排服务的续接地址，
    对网络错误与 429/502/503/504 做有界的指数退避重试。

# 续接服务的去重约定

网络错误或网关超时时无法确定请求是否已被处理，同一个 Handoff 可能被投递
多次。每次请求都携带 Idempotency-Key 头，值为 event_id，重发时不变；
续接服务必须按该键去重，对已处理过的键直接返回上次的结果（或 2xx）。
500 及其他 4xx/5xx 视为续接服务已给出结论，不重试，交接记为失败，
由用户通过 /resume 显式重试。
*/
package executor
