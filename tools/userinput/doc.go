// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 userinput 提供通用的 request_user_input 工具，让任务在执行中向用户
索取一个 text、number 或 choice 类型的值。

非阻塞用法：第一次调用 Func 挂起并返回 status=waiting_for_input，
用户答复后 hitl 的恢复协调器把结果交给任务执行器，执行器用
AnswerFromHandoff 得到 {"status":"ok","value":…}；用户拒绝或超时时
返回 ErrRejected。

阻塞用法：BlockingFunc / Ask 在同一次调用中等待答复。
*/
package userinput
