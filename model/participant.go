package model

import (
	"context"

	"plugintx/pkg"
)

// 事务参与者接口, 希望加入事务的插件实现该接口后到注册中心注册
// 注册中心只持有引用, 插件的生命周期由插件自己管理
type Participant interface {
	//参与者(插件)的唯一标识id
	ID() string

	//两阶段提交的第一阶段: 参与者确认能否提交
	Prepare(ctx context.Context, txID string) error

	//两阶段提交的第二阶段: 提交
	Commit(ctx context.Context, txID string) error

	//放弃事务, 释放参与者侧为该事务保留的资源
	Abort(ctx context.Context, txID string) error

	//是否支持事务, 不支持的参与者在 prepare 阶段视为失败
	SupportsTransactions() bool

	//参与者能保证的最强隔离级别, 弱于事务要求时 prepare 视为失败
	SupportedIsolationLevel() pkg.IsolationLevel
}
