package plugintx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plugintx/internel"
	"plugintx/model"
	"plugintx/pkg"
)

// 插件事务管理器: 事务生命周期的唯一入口
// 由宿主应用显式构造并注入协作方, 不提供全局单例
type TXManager struct {
	ctx  context.Context
	stop context.CancelFunc
	//额外参数
	opts *Options
	//事务储存中心
	txStore model.TXStore
	//参与者注册中心
	registryCenter *internel.RegistryCenter

	logger  *zap.Logger
	metrics *txMetrics
	hub     observerHub
}

func NewTXManager(txStore model.TXStore, opts ...Option) *TXManager {
	ctx, cancel := context.WithCancel(context.Background())
	tm := &TXManager{
		ctx:            ctx,
		stop:           cancel,
		opts:           &Options{},
		txStore:        txStore,
		registryCenter: internel.NewRegistryCenter(),
	}
	for _, opt := range opts {
		opt(tm.opts)
	}

	checkOpt(tm.opts)
	tm.logger = tm.opts.Logger
	tm.metrics = newTXMetrics(tm.opts.MetricsRegistry)

	go tm.polling()

	return tm
}

// 停止超时监控协程, 之后 Begin 会直接失败
func (tm *TXManager) Stop() {
	tm.stop()
}

// 注册生命周期事件观察者
func (tm *TXManager) RegisterObserver(fn func(Event)) {
	tm.hub.register(fn)
}

func (tm *TXManager) emit(eventType EventType, txID string, err error) {
	tm.hub.emit(Event{
		Type:      eventType,
		TXId:      txID,
		Timestamp: time.Now(),
		Err:       err,
	})
}

// 开启一个事务, 返回事务id
// 隔离级别与超时未指定时取管理器默认值
func (tm *TXManager) Begin(ctx context.Context, opts ...TXOption) (string, error) {
	if tm.ctx.Err() != nil {
		return "", fmt.Errorf("begin transaction: %w", pkg.ErrManagerStopped)
	}

	txOpts := &TXOptions{
		Timeout:   tm.opts.Timeout,
		Isolation: tm.opts.Isolation,
	}
	for _, opt := range opts {
		opt(txOpts)
	}
	if txOpts.Timeout <= 0 {
		txOpts.Timeout = tm.opts.Timeout
	}

	txID := uuid.NewString()
	tx := pkg.NewTransactionContext(txID, txOpts.Isolation, txOpts.Timeout)
	if err := tm.txStore.CreateTX(ctx, tx); err != nil {
		return "", err
	}

	tm.metrics.incActive()
	tm.logger.Debug("transaction started",
		zap.String("tx_id", txID),
		zap.String("isolation", txOpts.Isolation.String()),
		zap.Duration("timeout", txOpts.Timeout))
	tm.emit(EventTXStarted, txID, nil)
	return txID, nil
}

// 向事务追加操作, 只允许 Active 状态
func (tm *TXManager) AddOperation(ctx context.Context, txID string, op *pkg.TransactionOperation) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}
	if op.OperationId == "" {
		op.OperationId = uuid.NewString()
	}
	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}
	return tx.AppendOperation(op)
}

// 立即执行事务内的单个操作并返回插件侧结果
func (tm *TXManager) ExecuteOperation(ctx context.Context, txID, operationID string) (map[string]interface{}, error) {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return nil, err
	}
	tx.LockControl()
	defer tx.UnlockControl()
	return tx.ExecuteOperation(ctx, operationID)
}

func (tm *TXManager) CreateSavepoint(ctx context.Context, txID, name string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}
	return tx.CreateSavepoint(name)
}

// 回滚到保存点: 逆序回滚保存点之后的操作并截断队列, 事务保持 Active
func (tm *TXManager) RollbackToSavepoint(ctx context.Context, txID, name string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}
	tx.LockControl()
	defer tx.UnlockControl()
	return tx.RollbackToSavepoint(ctx, name)
}

func (tm *TXManager) ReleaseSavepoint(ctx context.Context, txID, name string) error {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return err
	}
	return tx.ReleaseSavepoint(name)
}

func (tm *TXManager) SavepointPosition(ctx context.Context, txID, name string) (int, error) {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return 0, err
	}
	return tx.SavepointPosition(name)
}

// 只读的事务状态快照, 终态事务在保留窗口内仍可查询
func (tm *TXManager) GetTransactionStatus(ctx context.Context, txID string) (pkg.StatusSnapshot, error) {
	tx, err := tm.txStore.GetTX(ctx, txID)
	if err != nil {
		return pkg.StatusSnapshot{}, err
	}
	return tx.Snapshot(), nil
}

// 列出所有进行中(Active/Preparing/Prepared)的事务id
func (tm *TXManager) ListActiveTransactions(ctx context.Context) ([]string, error) {
	txs, err := tm.txStore.ListTXs(ctx, pkg.TXActive, pkg.TXPreparing, pkg.TXPrepared)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(txs))
	for _, tx := range txs {
		ids = append(ids, tx.TXID())
	}
	return ids, nil
}

func (tm *TXManager) RegisterParticipant(participant model.Participant) error {
	return tm.registryCenter.Register(participant)
}

func (tm *TXManager) UnregisterParticipant(participantID string) error {
	return tm.registryCenter.Unregister(participantID)
}

// ---------------------------------------------------------------------------
// 超时监控: 周期扫描进行中的事务, 把超时者强制中止为 Timeout 终态
// ---------------------------------------------------------------------------

func (tm *TXManager) polling() {
	var err error
	var tick time.Duration
	for {
		if err == nil {
			tick = tm.opts.MonitorTick
		} else {
			tick = tm.backOffTick(tm.opts.MonitorTick)
		}

		select {
		case <-tm.ctx.Done():
			return
		case <-time.After(tick):
			err = tm.sweepExpiredTXs()
			if err != nil {
				tm.logger.Warn("sweep expired transactions", zap.Error(err))
			}
		}
	}
}

func (tm *TXManager) sweepExpiredTXs() error {
	txs, err := tm.txStore.ListTXs(tm.ctx, pkg.TXActive, pkg.TXPreparing)
	if err != nil {
		return err
	}

	now := time.Now()
	var firstErr error
	for _, tx := range txs {
		if !tx.Expired(now) {
			continue
		}
		if err := tm.timeoutTX(tx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (tm *TXManager) timeoutTX(tx *pkg.TransactionContext) error {
	tx.LockControl()
	defer tx.UnlockControl()

	//拿到排他锁后复核状态, 提交或回滚可能已经抢先完成
	if tx.State() != pkg.TXActive {
		return nil
	}

	txID := tx.TXID()
	tm.logger.Warn("transaction timeout",
		zap.String("tx_id", txID),
		zap.Duration("timeout", tx.TimeoutDuration()))

	err := tm.rollbackTX(tm.ctx, tx, pkg.TXTimeout)
	tm.metrics.incTimeout()
	tm.emit(EventTXTimeout, txID, pkg.ErrTimeout)
	return err
}

func (tm *TXManager) backOffTick(tick time.Duration) time.Duration {
	maxTick := tm.opts.MonitorTick << 3
	tick <<= 1
	if tick > maxTick {
		tick = maxTick
	}
	return tick
}
