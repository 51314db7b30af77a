package pkg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// 事务内的命名保存点, 记录创建时刻操作队列的长度
type savepoint struct {
	Name     string
	Position int
}

// 单个事务的全部上下文: 状态机/操作队列/参与者集合/保存点/暂存数据
// 所有字段都由内部互斥锁保护, 可以被多个协程并发访问
type TransactionContext struct {
	mu sync.Mutex

	//排他锁: 串行化同一事务上的操作执行和 prepare/commit/rollback 等协调动作,
	//避免提交过程和回滚(或超时清扫)在同一事务上交错
	ctl sync.Mutex

	txID      string
	state     TransactionState
	isolation IsolationLevel
	createdAt time.Time
	timeout   time.Duration

	//按加入顺序保存的操作队列, 只允许追加, 保存点回滚时从尾部截断
	operations []*TransactionOperation
	//参与者按首次出现顺序记录, 保证提交顺序确定
	participants []string
	//事务内操作间共享的暂存数据
	data map[string]interface{}
	//按创建顺序保存的保存点
	savepoints []savepoint
	//已执行操作的结果, key 为操作 id
	results map[string]map[string]interface{}
	//已执行操作的执行次序, 用于逆序回滚
	executed []string
}

func NewTransactionContext(txID string, isolation IsolationLevel, timeout time.Duration) *TransactionContext {
	return &TransactionContext{
		txID:      txID,
		state:     TXActive,
		isolation: isolation,
		createdAt: time.Now(),
		timeout:   timeout,
		data:      make(map[string]interface{}),
		results:   make(map[string]map[string]interface{}),
	}
}

// 串行化同一事务上的协调动作, 两阶段提交/回滚/超时清扫之间互斥
func (t *TransactionContext) LockControl() {
	t.ctl.Lock()
}

func (t *TransactionContext) UnlockControl() {
	t.ctl.Unlock()
}

func (t *TransactionContext) TXID() string {
	return t.txID
}

func (t *TransactionContext) State() TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TransactionContext) Isolation() IsolationLevel {
	return t.isolation
}

func (t *TransactionContext) CreatedAt() time.Time {
	return t.createdAt
}

func (t *TransactionContext) TimeoutDuration() time.Duration {
	return t.timeout
}

// 超时判断, 由监控协程周期调用
func (t *TransactionContext) Expired(now time.Time) bool {
	return now.Sub(t.createdAt) > t.timeout
}

// 状态只能沿状态机的合法边前进, 非法迁移返回 ErrInvalidState
func (t *TransactionContext) TransitionTo(target TransactionState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !canTransition(t.state, target) {
		return fmt.Errorf("cannot transition from %s to %s, txid: %s: %w",
			t.state, target, t.txID, ErrInvalidState)
	}
	t.state = target
	return nil
}

// 追加操作, 只允许 Active 状态; 同时把新出现的插件记入参与者集合
func (t *TransactionContext) AppendOperation(op *TransactionOperation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TXActive {
		return fmt.Errorf("add operation on %s transaction %s: %w", t.state, t.txID, ErrInvalidState)
	}
	for _, exist := range t.operations {
		if exist.OperationId == op.OperationId {
			return fmt.Errorf("operation %s, txid: %s: %w", op.OperationId, t.txID, ErrOperationExists)
		}
	}
	t.operations = append(t.operations, op)
	for _, id := range t.participants {
		if id == op.PluginId {
			return nil
		}
	}
	t.participants = append(t.participants, op.PluginId)
	return nil
}

func (t *TransactionContext) Operation(operationID string) (*TransactionOperation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, op := range t.operations {
		if op.OperationId == operationID {
			return op, nil
		}
	}
	return nil, fmt.Errorf("operation %s, txid: %s: %w", operationID, t.txID, ErrOperationNotFound)
}

// 操作的执行顺序: 优先级大者在前, 同优先级保持加入顺序(稳定排序)
func (t *TransactionContext) ExecutionOrder() []*TransactionOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.executionOrderLocked()
}

func (t *TransactionContext) executionOrderLocked() []*TransactionOperation {
	ordered := make([]*TransactionOperation, len(t.operations))
	copy(ordered, t.operations)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})
	return ordered
}

// 按加入顺序返回操作队列的拷贝
func (t *TransactionContext) Operations() []*TransactionOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]*TransactionOperation, len(t.operations))
	copy(ops, t.operations)
	return ops
}

func (t *TransactionContext) OperationCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// 参与者按首次出现顺序的拷贝
func (t *TransactionContext) Participants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, len(t.participants))
	copy(ids, t.participants)
	return ids
}

// 执行单个操作并记录结果, 只允许 Active 状态
// 回调在不持有字段锁的情况下执行, 操作内部可以读写本事务的暂存数据;
// 同一事务上的并发执行由调用方通过排他锁串行化
func (t *TransactionContext) ExecuteOperation(ctx context.Context, operationID string) (map[string]interface{}, error) {
	t.mu.Lock()
	if t.state != TXActive {
		t.mu.Unlock()
		return nil, fmt.Errorf("execute operation on %s transaction %s: %w", t.state, t.txID, ErrInvalidState)
	}
	op := t.operationByIDLocked(operationID)
	if op == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("operation %s, txid: %s: %w", operationID, t.txID, ErrOperationNotFound)
	}
	if result, done := t.results[operationID]; done {
		t.mu.Unlock()
		return result, nil
	}
	t.mu.Unlock()
	return t.execute(ctx, op)
}

func (t *TransactionContext) execute(ctx context.Context, op *TransactionOperation) (map[string]interface{}, error) {
	var result map[string]interface{}
	if op.Execute != nil {
		var err error
		result, err = op.Execute(ctx, t.txID)
		if err != nil {
			return nil, fmt.Errorf("execute operation %s on plugin %s: %w", op.OperationId, op.PluginId, err)
		}
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, done := t.results[op.OperationId]; done {
		return existing, nil
	}
	t.results[op.OperationId] = result
	t.executed = append(t.executed, op.OperationId)
	return result, nil
}

// 按执行顺序补齐尚未执行的操作, 提交前由协调器调用
// 提交流程先把状态迁到 Preparing 再补齐执行, 因此 Preparing 也放行
// 任何一个操作失败立即返回, 由调用方决定整体回滚
func (t *TransactionContext) ExecutePending(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TXActive && t.state != TXPreparing {
		t.mu.Unlock()
		return fmt.Errorf("execute pending on %s transaction %s: %w", t.state, t.txID, ErrInvalidState)
	}
	pending := make([]*TransactionOperation, 0, len(t.operations))
	for _, op := range t.executionOrderLocked() {
		if _, done := t.results[op.OperationId]; done {
			continue
		}
		pending = append(pending, op)
	}
	t.mu.Unlock()

	for _, op := range pending {
		if _, err := t.execute(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (t *TransactionContext) Result(operationID string) (map[string]interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	result, ok := t.results[operationID]
	return result, ok
}

// 逆执行序回滚所有已执行的操作, 尽力而为: 单个失败不会中断后续回滚
// 回调同样不持有字段锁, 返回聚合后的错误
func (t *TransactionContext) RollbackExecuted(ctx context.Context) error {
	t.mu.Lock()
	rollback := make([]*TransactionOperation, 0, len(t.executed))
	for i := len(t.executed) - 1; i >= 0; i-- {
		if op := t.operationByIDLocked(t.executed[i]); op != nil {
			rollback = append(rollback, op)
		}
	}
	t.executed = nil
	t.mu.Unlock()

	var failed []string
	for _, op := range rollback {
		if op.Rollback == nil {
			continue
		}
		if err := op.Rollback(ctx, t.txID); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", op.OperationId, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("rollback operations %v, txid: %s: %w", failed, t.txID, ErrRollbackFailed)
	}
	return nil
}

func (t *TransactionContext) operationByIDLocked(operationID string) *TransactionOperation {
	for _, op := range t.operations {
		if op.OperationId == operationID {
			return op
		}
	}
	return nil
}

// 事务内暂存数据的读写, 仅本事务的操作可见
func (t *TransactionContext) SetData(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = value
}

func (t *TransactionContext) Data(key string) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	value, ok := t.data[key]
	return value, ok
}

// 创建保存点, 记录当前操作队列长度; 同名保存点在持有期间不允许重复
func (t *TransactionContext) CreateSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TXActive {
		return fmt.Errorf("create savepoint on %s transaction %s: %w", t.state, t.txID, ErrInvalidState)
	}
	for _, sp := range t.savepoints {
		if sp.Name == name {
			return fmt.Errorf("savepoint %s, txid: %s: %w", name, t.txID, ErrSavepointExists)
		}
	}
	t.savepoints = append(t.savepoints, savepoint{Name: name, Position: len(t.operations)})
	return nil
}

// 回滚到指定保存点: 逆序回滚保存点之后加入的所有操作后截断队列,
// 同时隐式作废所有更晚创建的保存点
func (t *TransactionContext) RollbackToSavepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	if t.state != TXActive {
		t.mu.Unlock()
		return fmt.Errorf("rollback to savepoint on %s transaction %s: %w", t.state, t.txID, ErrInvalidState)
	}
	index := -1
	for i, sp := range t.savepoints {
		if sp.Name == name {
			index = i
			break
		}
	}
	if index < 0 {
		t.mu.Unlock()
		return fmt.Errorf("savepoint %s, txid: %s: %w", name, t.txID, ErrSavepointNotFound)
	}
	position := t.savepoints[index].Position

	//先在锁内截断队列并作废更晚的保存点, 回滚回调在锁外执行
	removed := make([]*TransactionOperation, 0, len(t.operations)-position)
	for i := len(t.operations) - 1; i >= position; i-- {
		op := t.operations[i]
		removed = append(removed, op)
		delete(t.results, op.OperationId)
		t.removeExecutedLocked(op.OperationId)
	}
	t.operations = t.operations[:position]
	//位置在本保存点之后的保存点一并作废, 本保存点保留可再次回滚
	kept := t.savepoints[:0]
	for _, sp := range t.savepoints {
		if sp.Position <= position {
			kept = append(kept, sp)
		}
	}
	t.savepoints = kept
	t.mu.Unlock()

	//逆序(LIFO)回滚被移除的操作, 无论其是否执行过, 尽力而为
	var failed []string
	for _, op := range removed {
		if op.Rollback == nil {
			continue
		}
		if err := op.Rollback(ctx, t.txID); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", op.OperationId, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("rollback to savepoint %s, operations %v, txid: %s: %w",
			name, failed, t.txID, ErrRollbackFailed)
	}
	return nil
}

func (t *TransactionContext) removeExecutedLocked(operationID string) {
	for i, id := range t.executed {
		if id == operationID {
			t.executed = append(t.executed[:i], t.executed[i+1:]...)
			return
		}
	}
}

// 释放保存点, 不影响已加入的操作
func (t *TransactionContext) ReleaseSavepoint(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, sp := range t.savepoints {
		if sp.Name == name {
			t.savepoints = append(t.savepoints[:i], t.savepoints[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("savepoint %s, txid: %s: %w", name, t.txID, ErrSavepointNotFound)
}

func (t *TransactionContext) SavepointPosition(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sp := range t.savepoints {
		if sp.Name == name {
			return sp.Position, nil
		}
	}
	return 0, fmt.Errorf("savepoint %s, txid: %s: %w", name, t.txID, ErrSavepointNotFound)
}

func (t *TransactionContext) SavepointNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.savepoints))
	for _, sp := range t.savepoints {
		names = append(names, sp.Name)
	}
	return names
}

// 状态快照, 可序列化, 只读不修改上下文
type StatusSnapshot struct {
	TransactionId  string           `json:"tx_id"`
	State          TransactionState `json:"state"`
	IsolationLevel string           `json:"isolation_level"`
	StartTime      time.Time        `json:"start_time"`
	ElapsedMS      int64            `json:"elapsed_ms"`
	OperationCount int              `json:"operation_count"`
	ParticipantIds []string         `json:"participant_ids"`
	SavepointNames []string         `json:"savepoint_names"`
}

func (t *TransactionContext) Snapshot() StatusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	participants := make([]string, len(t.participants))
	copy(participants, t.participants)
	names := make([]string, 0, len(t.savepoints))
	for _, sp := range t.savepoints {
		names = append(names, sp.Name)
	}
	return StatusSnapshot{
		TransactionId:  t.txID,
		State:          t.state,
		IsolationLevel: t.isolation.String(),
		StartTime:      t.createdAt,
		ElapsedMS:      time.Since(t.createdAt).Milliseconds(),
		OperationCount: len(t.operations),
		ParticipantIds: participants,
		SavepointNames: names,
	}
}
