// Copyright (c) HITLFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 HITLFlow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / AssertPendingIDs
  - 事件辅助: WaitForChannel / NextEvent，NextEvent 跳过心跳
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockExecutor，记录每次恢复调用，支持错误注入与延迟
  - testutil/storetest: hitl.Store 一致性测试套件，内存、Redis 与 SQL
    三种存储共用

# 使用示例

	exec := mocks.NewMockExecutor().FailTimes(1, errors.New("runtime down"))
	m := hitl.NewManager(hitl.NewRegistry(nil, nil), hitl.NewHub(8, nil), exec)
	sub := m.Subscribe("alice")
	ev := testutil.NextEvent(t, sub, time.Second)
*/
package testutil
