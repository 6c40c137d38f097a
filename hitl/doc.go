// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 hitl 提供 Human-in-the-Loop 挂起/恢复协调引擎。

# 概述

长时间运行的任务在执行途中挂起，向人工请求确认；确认请求实时推送到
对应用户的客户端，稍后在另一个请求上到达的决策被关联回挂起的任务，
并作为原调用的返回值重放给任务执行器。

# 核心类型

  - Registry：挂起请求的权威登记表，持有阻塞模式下的一次性 waiter
    与恢复过程中的在途认领。数据本身委托给 Store。
  - Store：可插拔存储接口，内置 MemoryStore；Redis 与 SQL 实现位于
    hitl/persistence。
  - Hub：按用户划分的 FIFO 事件通道，惰性创建，空闲时回收。
  - Correlator：校验并记录决策，负责所有权检查与幂等（test-and-set）。
  - Supervisor：为阻塞等待设置超时上界，超时即合成拒绝决策。
  - Coordinator：构造 SyntheticResult 并交给 Executor，保证至多一次恢复。
  - Manager：面向调用方的门面，组合以上组件。

# 状态机

	pending → decided → resuming → (resumed, 条目删除)
	pending → expired → resuming → (以拒绝恢复, 条目删除)
	resuming + 交接失败 → 退回 decided/expired，可通过 RetryResume 重试
	resuming + 删除失败 → 停留在 resuming，不会再次交接，由 Recover 回收

常规情况（未找到、越权、非法输入）以 Outcome 值返回，只有存储故障
才作为 error 返回，此时条目保持不变。
*/
package hitl
