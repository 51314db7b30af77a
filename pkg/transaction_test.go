package pkg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTX() *TransactionContext {
	return NewTransactionContext("tx-1", ReadCommitted, time.Minute)
}

func newTestOp(id, pluginID string, priority int) *TransactionOperation {
	return &TransactionOperation{
		OperationId: id,
		PluginId:    pluginID,
		Type:        OpWrite,
		Priority:    priority,
	}
}

func TestTransactionContext_StateMachine(t *testing.T) {
	t.Run("状态只能沿合法边前进", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.TransitionTo(TXPreparing))
		require.NoError(t, tx.TransitionTo(TXPrepared))
		require.NoError(t, tx.TransitionTo(TXCommitted))
		assert.Equal(t, TXCommitted, tx.State())
	})

	t.Run("Preparing不允许回到Active", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.TransitionTo(TXPreparing))
		err := tx.TransitionTo(TXActive)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("终态之后不再迁移", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.TransitionTo(TXAborted))
		for _, target := range []TransactionState{TXActive, TXPreparing, TXCommitted, TXTimeout} {
			assert.ErrorIs(t, tx.TransitionTo(target), ErrInvalidState)
		}
	})

	t.Run("非Active状态拒绝追加操作和创建保存点", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.TransitionTo(TXPreparing))
		require.NoError(t, tx.TransitionTo(TXPrepared))

		assert.ErrorIs(t, tx.AppendOperation(newTestOp("op-1", "A", 0)), ErrInvalidState)
		assert.ErrorIs(t, tx.CreateSavepoint("sp1"), ErrInvalidState)
		assert.ErrorIs(t, tx.RollbackToSavepoint(context.Background(), "sp1"), ErrInvalidState)
	})
}

func TestTransactionContext_Operations(t *testing.T) {
	t.Run("参与者按首次出现顺序记录且不重复", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.AppendOperation(newTestOp("op-1", "B", 0)))
		require.NoError(t, tx.AppendOperation(newTestOp("op-2", "A", 0)))
		require.NoError(t, tx.AppendOperation(newTestOp("op-3", "B", 0)))
		assert.Equal(t, []string{"B", "A"}, tx.Participants())
	})

	t.Run("重复的操作id被拒绝", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.AppendOperation(newTestOp("op-1", "A", 0)))
		assert.ErrorIs(t, tx.AppendOperation(newTestOp("op-1", "A", 0)), ErrOperationExists)
	})

	t.Run("执行顺序按优先级降序同级保持加入顺序", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.AppendOperation(newTestOp("op-1", "A", 1)))
		require.NoError(t, tx.AppendOperation(newTestOp("op-2", "A", 5)))
		require.NoError(t, tx.AppendOperation(newTestOp("op-3", "A", 3)))
		require.NoError(t, tx.AppendOperation(newTestOp("op-4", "A", 3)))

		var got []string
		for _, op := range tx.ExecutionOrder() {
			got = append(got, op.OperationId)
		}
		assert.Equal(t, []string{"op-2", "op-3", "op-4", "op-1"}, got)
		//加入顺序本身不受执行顺序影响
		assert.Equal(t, 4, tx.OperationCount())
	})

	t.Run("ExecutePending按执行顺序补齐并记录结果", func(t *testing.T) {
		tx := newTestTX()
		var order []string
		appendOp := func(id string, priority int) {
			op := newTestOp(id, "A", priority)
			op.Execute = func(ctx context.Context, txID string) (map[string]interface{}, error) {
				order = append(order, id)
				return map[string]interface{}{"id": id}, nil
			}
			require.NoError(t, tx.AppendOperation(op))
		}
		appendOp("op-1", 1)
		appendOp("op-2", 5)
		appendOp("op-3", 3)

		require.NoError(t, tx.ExecutePending(context.Background()))
		assert.Equal(t, []string{"op-2", "op-3", "op-1"}, order)

		result, ok := tx.Result("op-2")
		require.True(t, ok)
		assert.Equal(t, "op-2", result["id"])

		//重复执行直接复用结果
		require.NoError(t, tx.ExecutePending(context.Background()))
		assert.Len(t, order, 3)
	})

	t.Run("操作执行中可读写事务暂存数据", func(t *testing.T) {
		tx := newTestTX()

		writer := newTestOp("op-1", "A", 2)
		writer.Execute = func(ctx context.Context, txID string) (map[string]interface{}, error) {
			tx.SetData("handoff", "from-op-1")
			return nil, nil
		}
		require.NoError(t, tx.AppendOperation(writer))

		var got interface{}
		reader := newTestOp("op-2", "A", 1)
		reader.Execute = func(ctx context.Context, txID string) (map[string]interface{}, error) {
			got, _ = tx.Data("handoff")
			return nil, nil
		}
		reader.Rollback = func(ctx context.Context, txID string) error {
			//回滚回调同样可以访问暂存数据
			_, _ = tx.Data("handoff")
			return nil
		}
		require.NoError(t, tx.AppendOperation(reader))

		require.NoError(t, tx.ExecutePending(context.Background()))
		assert.Equal(t, "from-op-1", got)

		require.NoError(t, tx.RollbackExecuted(context.Background()))
	})

	t.Run("已执行操作按逆执行序回滚", func(t *testing.T) {
		tx := newTestTX()
		var rolledBack []string
		appendOp := func(id string, priority int) {
			op := newTestOp(id, "A", priority)
			op.Execute = func(ctx context.Context, txID string) (map[string]interface{}, error) {
				return nil, nil
			}
			op.Rollback = func(ctx context.Context, txID string) error {
				rolledBack = append(rolledBack, id)
				return nil
			}
			require.NoError(t, tx.AppendOperation(op))
		}
		appendOp("op-1", 1)
		appendOp("op-2", 5)
		require.NoError(t, tx.ExecutePending(context.Background()))

		require.NoError(t, tx.RollbackExecuted(context.Background()))
		//执行顺序是 op-2, op-1, 回滚顺序相反
		assert.Equal(t, []string{"op-1", "op-2"}, rolledBack)
	})

	t.Run("回滚失败聚合上报不短路", func(t *testing.T) {
		tx := newTestTX()
		var rolledBack []string
		for _, id := range []string{"op-1", "op-2"} {
			id := id
			op := newTestOp(id, "A", 0)
			op.Execute = func(ctx context.Context, txID string) (map[string]interface{}, error) {
				return nil, nil
			}
			op.Rollback = func(ctx context.Context, txID string) error {
				rolledBack = append(rolledBack, id)
				return errors.New("boom")
			}
			require.NoError(t, tx.AppendOperation(op))
		}
		require.NoError(t, tx.ExecutePending(context.Background()))

		err := tx.RollbackExecuted(context.Background())
		assert.ErrorIs(t, err, ErrRollbackFailed)
		assert.Len(t, rolledBack, 2)
	})
}

func TestTransactionContext_Savepoints(t *testing.T) {
	t.Run("保存点名称在持有期间唯一", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.CreateSavepoint("sp1"))
		assert.ErrorIs(t, tx.CreateSavepoint("sp1"), ErrSavepointExists)
	})

	t.Run("释放后可重建且重复释放报NotFound", func(t *testing.T) {
		tx := newTestTX()
		require.NoError(t, tx.CreateSavepoint("sp1"))
		require.NoError(t, tx.ReleaseSavepoint("sp1"))
		assert.ErrorIs(t, tx.ReleaseSavepoint("sp1"), ErrSavepointNotFound)
		require.NoError(t, tx.CreateSavepoint("sp1"))
	})

	t.Run("回滚到保存点逆序回滚并截断操作", func(t *testing.T) {
		tx := newTestTX()
		var rolledBack []string
		appendOp := func(id string) {
			op := newTestOp(id, "A", 0)
			op.Rollback = func(ctx context.Context, txID string) error {
				rolledBack = append(rolledBack, id)
				return nil
			}
			require.NoError(t, tx.AppendOperation(op))
		}

		appendOp("op-1")
		require.NoError(t, tx.CreateSavepoint("sp1"))
		appendOp("op-2")
		appendOp("op-3")
		require.NoError(t, tx.CreateSavepoint("sp2"))
		appendOp("op-4")

		require.NoError(t, tx.RollbackToSavepoint(context.Background(), "sp1"))

		//LIFO 回滚 sp1 之后的全部操作
		assert.Equal(t, []string{"op-4", "op-3", "op-2"}, rolledBack)
		assert.Equal(t, 1, tx.OperationCount())
		//更晚创建的保存点被作废, sp1 本身保留
		assert.Equal(t, []string{"sp1"}, tx.SavepointNames())
		_, err := tx.SavepointPosition("sp2")
		assert.ErrorIs(t, err, ErrSavepointNotFound)

		position, err := tx.SavepointPosition("sp1")
		require.NoError(t, err)
		assert.Equal(t, 1, position)
	})

	t.Run("回滚未知保存点报NotFound", func(t *testing.T) {
		tx := newTestTX()
		assert.ErrorIs(t, tx.RollbackToSavepoint(context.Background(), "nope"), ErrSavepointNotFound)
	})
}

func TestTransactionContext_Snapshot(t *testing.T) {
	tx := NewTransactionContext("tx-9", Serializable, 5*time.Second)
	require.NoError(t, tx.AppendOperation(newTestOp("op-1", "A", 0)))
	require.NoError(t, tx.AppendOperation(newTestOp("op-2", "B", 0)))
	require.NoError(t, tx.CreateSavepoint("sp1"))

	snapshot := tx.Snapshot()
	assert.Equal(t, "tx-9", snapshot.TransactionId)
	assert.Equal(t, TXActive, snapshot.State)
	assert.Equal(t, "Serializable", snapshot.IsolationLevel)
	assert.Equal(t, 2, snapshot.OperationCount)
	assert.Equal(t, []string{"A", "B"}, snapshot.ParticipantIds)
	assert.Equal(t, []string{"sp1"}, snapshot.SavepointNames)
	assert.GreaterOrEqual(t, snapshot.ElapsedMS, int64(0))
}

func TestTransactionContext_Data(t *testing.T) {
	tx := newTestTX()
	tx.SetData("key", 42)
	value, ok := tx.Data("key")
	require.True(t, ok)
	assert.Equal(t, 42, value)

	_, ok = tx.Data("missing")
	assert.False(t, ok)
}

func TestTransactionContext_Expired(t *testing.T) {
	tx := NewTransactionContext("tx-t", ReadCommitted, 10*time.Millisecond)
	assert.False(t, tx.Expired(tx.CreatedAt()))
	assert.True(t, tx.Expired(tx.CreatedAt().Add(50*time.Millisecond)))
}
