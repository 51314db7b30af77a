package internel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plugintx/pkg"
)

func newStoreTX(t *testing.T, txID string) *pkg.TransactionContext {
	t.Helper()
	return pkg.NewTransactionContext(txID, pkg.ReadCommitted, time.Minute)
}

func TestMemTXStore(t *testing.T) {
	ctx := context.Background()

	t.Run("创建后可按id取回", func(t *testing.T) {
		store, err := NewMemTXStore(time.Minute)
		require.NoError(t, err)

		tx := newStoreTX(t, "tx-1")
		require.NoError(t, store.CreateTX(ctx, tx))

		got, err := store.GetTX(ctx, "tx-1")
		require.NoError(t, err)
		assert.Same(t, tx, got)

		_, err = store.GetTX(ctx, "tx-missing")
		assert.ErrorIs(t, err, pkg.ErrTXNotFound)
	})

	t.Run("重复创建同一事务失败", func(t *testing.T) {
		store, err := NewMemTXStore(time.Minute)
		require.NoError(t, err)
		require.NoError(t, store.CreateTX(ctx, newStoreTX(t, "tx-1")))
		assert.ErrorIs(t, store.CreateTX(ctx, newStoreTX(t, "tx-1")), pkg.ErrTXExists)
	})

	t.Run("按状态筛选在册事务", func(t *testing.T) {
		store, err := NewMemTXStore(time.Minute)
		require.NoError(t, err)

		active := newStoreTX(t, "tx-active")
		aborted := newStoreTX(t, "tx-aborted")
		require.NoError(t, store.CreateTX(ctx, active))
		require.NoError(t, store.CreateTX(ctx, aborted))
		require.NoError(t, aborted.TransitionTo(pkg.TXAborted))

		txs, err := store.ListTXs(ctx, pkg.TXActive)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, "tx-active", txs[0].TXID())

		all, err := store.ListTXs(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("归档要求终态且归档后仍可查询", func(t *testing.T) {
		store, err := NewMemTXStore(time.Minute)
		require.NoError(t, err)

		tx := newStoreTX(t, "tx-1")
		require.NoError(t, store.CreateTX(ctx, tx))

		//进行中的事务不能归档
		assert.ErrorIs(t, store.ArchiveTX(ctx, "tx-1"), pkg.ErrInvalidState)

		require.NoError(t, tx.TransitionTo(pkg.TXAborted))
		require.NoError(t, store.ArchiveTX(ctx, "tx-1"))

		//归档后脱离在册列表但保留窗口内可查
		txs, err := store.ListTXs(ctx)
		require.NoError(t, err)
		assert.Empty(t, txs)

		got, err := store.GetTX(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, pkg.TXAborted, got.State())

		assert.ErrorIs(t, store.ArchiveTX(ctx, "tx-1"), pkg.ErrTXNotFound)
	})

	t.Run("保留窗口到期后自动清除", func(t *testing.T) {
		store, err := NewMemTXStore(20 * time.Millisecond)
		require.NoError(t, err)

		tx := newStoreTX(t, "tx-1")
		require.NoError(t, store.CreateTX(ctx, tx))
		require.NoError(t, tx.TransitionTo(pkg.TXAborted))
		require.NoError(t, store.ArchiveTX(ctx, "tx-1"))

		time.Sleep(100 * time.Millisecond)
		_, err = store.GetTX(ctx, "tx-1")
		assert.ErrorIs(t, err, pkg.ErrTXNotFound)
	})
}
