package plugintx

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plugintx/model"
	"plugintx/pkg"
)

// 单独暴露两阶段提交的第一阶段, 供需要手动编排提交的调用方使用
// 成功后事务进入 Prepared, 不再接受新操作, 只能继续提交或强制中止
func (tm *TXManager) Prepare(ctx context.Context, txID string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}

	tx.LockControl()
	defer tx.UnlockControl()

	if tx.State() != pkg.TXActive {
		return fmt.Errorf("prepare %s transaction, txid: %s: %w", tx.State(), txID, pkg.ErrInvalidState)
	}
	//先迁入 Preparing 关闭追加窗口, 之后再补齐执行,
	//保证已被接受的操作不会在提交流程中被漏掉
	if err := tx.TransitionTo(pkg.TXPreparing); err != nil {
		return err
	}
	if err := tx.ExecutePending(ctx); err != nil {
		rbErr := tm.rollbackTX(ctx, tx, pkg.TXAborted)
		if rbErr != nil {
			tm.logger.Warn("rollback after execute failure", zap.String("tx_id", txID), zap.Error(rbErr))
		}
		tm.emit(EventTXFailed, txID, err)
		return err
	}
	if err := tm.prepareTX(ctx, tx); err != nil {
		tm.emit(EventTXFailed, txID, err)
		return err
	}
	return nil
}

// 提交事务: 先补齐未执行的操作, 再对全部参与者走两阶段提交
// 对调用方同步, 内部按参与者首次出现顺序逐个调用, 保证可确定性
func (tm *TXManager) Commit(ctx context.Context, txID string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}

	tx.LockControl()
	defer tx.UnlockControl()

	switch tx.State() {
	case pkg.TXActive:
		//先迁入 Preparing 关闭追加窗口, 之后再补齐执行,
		//保证已被接受的操作不会在提交流程中被漏掉
		if err := tx.TransitionTo(pkg.TXPreparing); err != nil {
			return err
		}
		if err := tx.ExecutePending(ctx); err != nil {
			if rbErr := tm.rollbackTX(ctx, tx, pkg.TXAborted); rbErr != nil {
				tm.logger.Warn("rollback after execute failure", zap.String("tx_id", txID), zap.Error(rbErr))
			}
			tm.emit(EventTXFailed, txID, err)
			return err
		}
		if err := tm.prepareTX(ctx, tx); err != nil {
			tm.emit(EventTXFailed, txID, err)
			return err
		}
	case pkg.TXPrepared:
		//第一阶段已通过 Prepare 单独完成
	default:
		return fmt.Errorf("commit %s transaction, txid: %s: %w", tx.State(), txID, pkg.ErrInvalidState)
	}

	//第二阶段: 按参与者首次出现顺序提交
	participants, err := tm.registryCenter.GetParticipantsByIDs(tx.Participants()...)
	if err != nil {
		//prepare 之后参与者被注销, 无法完成第二阶段, 只能强制中止
		rbErr := tm.rollbackTX(ctx, tx, pkg.TXAborted)
		if rbErr != nil {
			tm.logger.Warn("rollback after participant lost", zap.String("tx_id", txID), zap.Error(rbErr))
		}
		tm.emit(EventTXFailed, txID, err)
		return fmt.Errorf("commit transaction %s: %w", txID, err)
	}

	var failed []string
	for _, participant := range participants {
		if err := participant.Commit(ctx, txID); err != nil {
			//部分参与者提交失败属于两阶段提交的固有缺陷, 只上报不自动恢复
			tm.logger.Error("participant commit failed, requires operator reconciliation",
				zap.String("tx_id", txID),
				zap.String("participant", participant.ID()),
				zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", participant.ID(), err))
		}
	}

	if err := tx.TransitionTo(pkg.TXCommitted); err != nil {
		return err
	}
	tm.metrics.decActive()
	tm.metrics.incCommitted()
	if err := tm.txStore.ArchiveTX(ctx, txID); err != nil {
		tm.logger.Warn("archive committed transaction", zap.String("tx_id", txID), zap.Error(err))
	}

	if len(failed) > 0 {
		cErr := fmt.Errorf("participants %v, txid: %s: %w", failed, txID, pkg.ErrCommitFailed)
		tm.emit(EventTXFailed, txID, cErr)
		return cErr
	}

	tm.logger.Debug("transaction committed", zap.String("tx_id", txID))
	tm.emit(EventTXCommitted, txID, nil)
	return nil
}

// 整体回滚: 逆序回滚已执行操作, 尽力通知所有参与者 abort
func (tm *TXManager) Rollback(ctx context.Context, txID string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}

	tx.LockControl()
	defer tx.UnlockControl()

	if !tx.State().InFlight() {
		return fmt.Errorf("rollback %s transaction, txid: %s: %w", tx.State(), txID, pkg.ErrInvalidState)
	}

	rbErr := tm.rollbackTX(ctx, tx, pkg.TXAborted)
	tm.emit(EventTXRolledBack, txID, rbErr)
	return rbErr
}

// 第一阶段: 依次询问每个参与者能否提交
// 任何一个失败都会逆序 abort 已经 prepare 成功的参与者, 事务中止
// 调用方需持有排他锁且已把事务迁入 Preparing
func (tm *TXManager) prepareTX(ctx context.Context, tx *pkg.TransactionContext) error {
	txID := tx.TXID()

	participants, err := tm.registryCenter.GetParticipantsByIDs(tx.Participants()...)
	if err != nil {
		//存在未注册的参与者, 不向任何参与者发起调用, 直接中止
		_ = tx.RollbackExecuted(ctx)
		_ = tx.TransitionTo(pkg.TXAborted)
		tm.metrics.decActive()
		tm.metrics.incAborted()
		if aErr := tm.txStore.ArchiveTX(ctx, txID); aErr != nil {
			tm.logger.Warn("archive aborted transaction", zap.String("tx_id", txID), zap.Error(aErr))
		}
		return fmt.Errorf("prepare transaction %s: %w", txID, err)
	}

	prepared := make([]model.Participant, 0, len(participants))
	var prepareErr error
	for _, participant := range participants {
		if !participant.SupportsTransactions() {
			prepareErr = fmt.Errorf("participant %s does not support transactions", participant.ID())
			break
		}
		if participant.SupportedIsolationLevel() < tx.Isolation() {
			prepareErr = fmt.Errorf("participant %s supports %s, weaker than required %s",
				participant.ID(), participant.SupportedIsolationLevel(), tx.Isolation())
			break
		}
		if err := participant.Prepare(ctx, txID); err != nil {
			prepareErr = fmt.Errorf("participant %s: %v", participant.ID(), err)
			break
		}
		prepared = append(prepared, participant)
	}

	if prepareErr != nil {
		//逆序 abort 已经 prepare 成功的参与者, 尽力而为
		for i := len(prepared) - 1; i >= 0; i-- {
			if err := prepared[i].Abort(ctx, txID); err != nil {
				tm.logger.Warn("abort prepared participant failed",
					zap.String("tx_id", txID),
					zap.String("participant", prepared[i].ID()),
					zap.Error(err))
			}
		}
		if err := tx.RollbackExecuted(ctx); err != nil {
			tm.logger.Warn("rollback executed operations failed", zap.String("tx_id", txID), zap.Error(err))
		}
		_ = tx.TransitionTo(pkg.TXAborted)
		tm.metrics.decActive()
		tm.metrics.incAborted()
		if err := tm.txStore.ArchiveTX(ctx, txID); err != nil {
			tm.logger.Warn("archive aborted transaction", zap.String("tx_id", txID), zap.Error(err))
		}
		return fmt.Errorf("txid: %s, %v: %w", txID, prepareErr, pkg.ErrPrepareFailed)
	}

	return tx.TransitionTo(pkg.TXPrepared)
}

// 回滚已执行操作并尽力通知所有参与者 abort, 失败聚合上报不短路
// 最后把事务迁移到目标终态(Aborted 或 Timeout), 调用方需持有排他锁
func (tm *TXManager) rollbackTX(ctx context.Context, tx *pkg.TransactionContext, target pkg.TransactionState) error {
	txID := tx.TXID()
	var failed []string

	if err := tx.RollbackExecuted(ctx); err != nil {
		failed = append(failed, err.Error())
	}

	for _, id := range tx.Participants() {
		participant, err := tm.registryCenter.GetParticipant(id)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		if err := participant.Abort(ctx, txID); err != nil {
			tm.logger.Warn("participant abort failed",
				zap.String("tx_id", txID),
				zap.String("participant", id),
				zap.Error(err))
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
	}

	if err := tx.TransitionTo(target); err != nil {
		return err
	}
	tm.metrics.decActive()
	if target == pkg.TXAborted {
		tm.metrics.incAborted()
	}
	if err := tm.txStore.ArchiveTX(ctx, txID); err != nil {
		tm.logger.Warn("archive terminated transaction", zap.String("tx_id", txID), zap.Error(err))
	}

	if len(failed) > 0 {
		return fmt.Errorf("txid: %s, failures: %v: %w", txID, failed, pkg.ErrRollbackFailed)
	}
	return nil
}
