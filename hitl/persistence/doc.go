// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供 hitl.Store 的共享存储实现，使多个进程可以
共用同一张挂起请求登记表。

# 后端

  - memory：hitl.MemoryStore，单进程默认值
  - redis：RedisStore，每个事件一个 JSON 键，按用户、截止时间与
    全量建立有序集合索引；创建使用 SETNX，状态转移使用
    WATCH/MULTI 乐观事务
  - database：SQLStore，基于 GORM 的 hitl_suspensions 表，创建使用
    INSERT ... ON CONFLICT DO NOTHING，状态转移使用带状态条件的 UPDATE

# 限制

waiter 与恢复认领只存在于进程内。共享存储保证同一事件至多一个决策
被接受，但阻塞等待方必须与决策提交在同一进程内才能被立即唤醒；
跨进程时等待方在截止时间读取存储中的决策。
*/
package persistence
