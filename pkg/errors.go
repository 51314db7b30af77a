package pkg

import "errors"

// 事务引擎统一的错误种类, 所有公开接口只返回这些错误(或其包装),
// 调用方通过 errors.Is 判断具体种类, 不使用 panic 跨越接口边界
var (
	// 事务/操作/保存点不存在或已存在
	ErrTXNotFound        = errors.New("transaction not found")
	ErrTXExists          = errors.New("transaction already exists")
	ErrOperationNotFound = errors.New("operation not found")
	ErrOperationExists   = errors.New("operation already exists")
	ErrSavepointNotFound = errors.New("savepoint not found")
	ErrSavepointExists   = errors.New("savepoint already exists")

	// 事务状态不允许当前操作
	ErrInvalidState = errors.New("invalid transaction state")

	// 事务超时, 由监控协程置为 Timeout 终态
	ErrTimeout = errors.New("transaction timeout")

	// 参与者注册相关
	ErrParticipantNotFound = errors.New("participant not found")
	ErrParticipantExists   = errors.New("participant already registered")

	// 两阶段提交错误: prepare 失败会回滚所有已 prepare 的参与者;
	// commit 阶段失败属于部分提交, 需要人工介入, 不做自动重试
	ErrPrepareFailed  = errors.New("prepare failed")
	ErrCommitFailed   = errors.New("commit failed")
	ErrRollbackFailed = errors.New("rollback failed")

	// 管理器已停止
	ErrManagerStopped = errors.New("transaction manager stopped")
)
