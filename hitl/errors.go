package hitl

import "errors"

var (
	// ErrDuplicateEvent 创建时 event_id 已存在.
	ErrDuplicateEvent = errors.New("hitl: duplicate event id")
	// ErrEventNotFound 事件不存在或已被移除.
	ErrEventNotFound = errors.New("hitl: event not found")
	// ErrStatusConflict 状态转移的前置状态不匹配.
	ErrStatusConflict = errors.New("hitl: status conflict")
	// ErrResumeFailed 决策已记录但任务执行器未能接收结果.
	ErrResumeFailed = errors.New("hitl: resume failed")
	// ErrInvalidInput 决策输入无法按声明的类型解析.
	ErrInvalidInput = errors.New("hitl: invalid decision input")
	// ErrChannelFull 用户事件通道已满.
	ErrChannelFull = errors.New("hitl: user channel full")
	// ErrNoWaiter 事件没有可等待的 waiter（非阻塞模式或已被消费）.
	ErrNoWaiter = errors.New("hitl: no waiter registered")
	// ErrInvalidRequest 挂起请求缺少必填字段.
	ErrInvalidRequest = errors.New("hitl: invalid suspension request")
	// ErrStoreClosed 存储已关闭.
	ErrStoreClosed = errors.New("hitl: store is closed")
)
