package model

import (
	"context"

	"plugintx/pkg"
)

// 事务上下文储存中心: 管理器通过它保存和检索事务上下文
// 终态事务通过 ArchiveTX 移入保留区, 保留窗口到期后自动清除
type TXStore interface {
	CreateTX(ctx context.Context, tx *pkg.TransactionContext) error
	GetTX(ctx context.Context, txID string) (*pkg.TransactionContext, error)
	//按状态筛选在册事务, 不传状态则返回全部
	ListTXs(ctx context.Context, states ...pkg.TransactionState) ([]*pkg.TransactionContext, error)
	//把终态事务移入保留区, 之后仍可通过 GetTX 查询直到保留窗口到期
	ArchiveTX(ctx context.Context, txID string) error
}
