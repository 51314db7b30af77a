package pkg

import (
	"context"
	"time"
)

type OperationType string

const (
	OpRead      OperationType = "Read"
	OpWrite     OperationType = "Write"
	OpExecute   OperationType = "Execute"
	OpConfigure OperationType = "Configure"
	OpCustom    OperationType = "Custom"
)

func (t OperationType) String() string {
	return string(t)
}

// 事务内的单个操作, 创建后除引擎内部记录执行结果外不再修改
// Execute/Rollback 由目标插件提供, 引擎只负责按序调度
type TransactionOperation struct {
	//操作在事务内的唯一标识, 为空时由管理器生成
	OperationId string
	//目标插件(参与者)标识
	PluginId string
	//操作类型, 只用于审计与指标, 不影响提交协议
	Type OperationType
	//插件侧方法名
	MethodName string
	//操作入参
	Parameters map[string]interface{}
	//回滚所需的不透明数据
	RollbackData map[string]interface{}
	//优先级, 数值大的先执行; 优先级相同按加入顺序
	Priority  int
	Timestamp time.Time

	//执行回调, 返回插件侧结果
	Execute func(ctx context.Context, txID string) (map[string]interface{}, error)
	//回滚回调, 部分回滚和整体回滚时都会调用
	Rollback func(ctx context.Context, txID string) error
}
