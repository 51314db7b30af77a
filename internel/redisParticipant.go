package internel

import (
	"context"
	"errors"
	"fmt"

	"github.com/demdxx/gocast"

	"plugintx/pkg"
	"plugintx/redis_lock"
	"plugintx/third_party"
)

// 参与者侧事务状态, 记录在 redis 里保证幂等
type ParticipantTXStatus string

func (s ParticipantTXStatus) String() string {
	return string(s)
}

const (
	PrepareStatus ParticipantTXStatus = "Prepare"
	CommitStatus  ParticipantTXStatus = "Commit"
	AbortStatus   ParticipantTXStatus = "Abort"
)

type DataStatus string

func (ds DataStatus) String() string {
	return string(ds)
}

const (
	DataFrozen  DataStatus = "冻结态"
	DataSuccess DataStatus = "成功态"
)

type RedisParticipantOption func(rp *RedisParticipant)

func WithRedisParticipantIsolation(level pkg.IsolationLevel) RedisParticipantOption {
	return func(rp *RedisParticipant) {
		rp.isolation = level
	}
}

// redis 版示例参与者: 插件状态保存在 redis 中, 持久性由参与者自己负责
// 操作执行时以冻结态暂存数据, prepare 校验暂存结果, commit 置成功态, abort 删除
type RedisParticipant struct {
	//参与者(插件)的唯一标识id
	id        string
	isolation pkg.IsolationLevel

	//redis 客户端, 同时用于数据与分布式锁, 保证参与者数据访问一致性
	client *third_party.RedisClient
}

func NewRedisParticipant(id string, client *third_party.RedisClient, opts ...RedisParticipantOption) *RedisParticipant {
	rp := &RedisParticipant{
		id:        id,
		isolation: pkg.ReadCommitted,
		client:    client,
	}
	for _, opt := range opts {
		opt(rp)
	}
	return rp
}

func (rp *RedisParticipant) ID() string {
	return rp.id
}

func (rp *RedisParticipant) SupportsTransactions() bool {
	return true
}

func (rp *RedisParticipant) SupportedIsolationLevel() pkg.IsolationLevel {
	return rp.isolation
}

// 构造一个把插件状态写入 redis 的事务操作
// params 需要包含 state_id 和 value 两个入参
func (rp *RedisParticipant) BuildWriteOperation(params map[string]interface{}) *pkg.TransactionOperation {
	return &pkg.TransactionOperation{
		PluginId:   rp.id,
		Type:       pkg.OpWrite,
		MethodName: "redis.write",
		Parameters: params,
		Execute: func(ctx context.Context, txID string) (map[string]interface{}, error) {
			stateID := gocast.ToString(params["state_id"])
			value := gocast.ToString(params["value"])
			if stateID == "" || value == "" {
				return nil, fmt.Errorf("redis participant %s: state_id and value are required", rp.id)
			}

			//记录事务到状态数据的映射, prepare/commit/abort 阶段按它定位数据
			if _, err := rp.client.Set(ctx, pkg.BuildTXDetailKey(rp.id, txID), stateID); err != nil {
				return nil, err
			}

			//以冻结态暂存数据, 重复执行直接跳过
			reply, err := rp.client.SetNX(ctx, pkg.BuildStateKey(rp.id, txID, stateID), value)
			if err != nil {
				return nil, err
			}
			if reply != 1 {
				return map[string]interface{}{"state_id": stateID, "staged": false}, nil
			}
			return map[string]interface{}{"state_id": stateID, "staged": true}, nil
		},
		Rollback: func(ctx context.Context, txID string) error {
			stateID := gocast.ToString(params["state_id"])
			if stateID == "" {
				return nil
			}
			return rp.client.Del(ctx, pkg.BuildStateKey(rp.id, txID, stateID))
		},
	}
}

func (rp *RedisParticipant) Prepare(ctx context.Context, txID string) error {
	lock := redis_lock.NewRedisLock(pkg.BuildLockKey(rp.id, txID), rp.client)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock(ctx)
	}()

	//幂等性检查参与者侧事务状态
	status, err := rp.client.Get(ctx, pkg.BuildTXStatusKey(rp.id, txID))
	if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return err
	}
	switch status {
	case PrepareStatus.String(), CommitStatus.String():
		return nil
	case AbortStatus.String():
		return fmt.Errorf("prepare aborted transaction, pid: %s, txid: %s", rp.id, txID)
	default:
	}

	//校验暂存数据确实存在, 不存在说明操作未执行或已被回滚
	stateID, err := rp.client.Get(ctx, pkg.BuildTXDetailKey(rp.id, txID))
	if err != nil {
		return fmt.Errorf("no staged detail, pid: %s, txid: %s: %w", rp.id, txID, err)
	}
	if _, err := rp.client.Get(ctx, pkg.BuildStateKey(rp.id, txID, stateID)); err != nil {
		return fmt.Errorf("no staged state, pid: %s, txid: %s: %w", rp.id, txID, err)
	}

	if _, err := rp.client.Set(ctx, pkg.BuildTXStatusKey(rp.id, txID), PrepareStatus.String()); err != nil {
		return err
	}
	return nil
}

func (rp *RedisParticipant) Commit(ctx context.Context, txID string) error {
	lock := redis_lock.NewRedisLock(pkg.BuildLockKey(rp.id, txID), rp.client)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock(ctx)
	}()

	status, err := rp.client.Get(ctx, pkg.BuildTXStatusKey(rp.id, txID))
	if err != nil {
		return err
	}
	switch status {
	case CommitStatus.String():
		return nil
	case AbortStatus.String():
		return fmt.Errorf("commit aborted transaction, pid: %s, txid: %s", rp.id, txID)
	case PrepareStatus.String():
	default:
		return fmt.Errorf("commit unprepared transaction, pid: %s, txid: %s", rp.id, txID)
	}

	stateID, err := rp.client.Get(ctx, pkg.BuildTXDetailKey(rp.id, txID))
	if err != nil {
		return err
	}

	//数据转成功态: 以 stateID 为正式 key 落下最终值
	value, err := rp.client.Get(ctx, pkg.BuildStateKey(rp.id, txID, stateID))
	if err != nil {
		return err
	}
	if _, err := rp.client.Set(ctx, stateID, value); err != nil {
		return err
	}

	if _, err := rp.client.Set(ctx, pkg.BuildTXStatusKey(rp.id, txID), CommitStatus.String()); err != nil {
		return err
	}
	return nil
}

func (rp *RedisParticipant) Abort(ctx context.Context, txID string) error {
	lock := redis_lock.NewRedisLock(pkg.BuildLockKey(rp.id, txID), rp.client)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock(ctx)
	}()

	status, err := rp.client.Get(ctx, pkg.BuildTXStatusKey(rp.id, txID))
	if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return err
	}
	if status == CommitStatus.String() {
		return fmt.Errorf("abort committed transaction, pid: %s, txid: %s", rp.id, txID)
	}

	//没有暂存数据说明操作未执行过, 直接记 Abort 即可
	stateID, err := rp.client.Get(ctx, pkg.BuildTXDetailKey(rp.id, txID))
	if err == nil && stateID != "" {
		if err := rp.client.Del(ctx, pkg.BuildStateKey(rp.id, txID, stateID)); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, redis_lock.ErrNil) {
		return err
	}

	if _, err := rp.client.Set(ctx, pkg.BuildTXStatusKey(rp.id, txID), AbortStatus.String()); err != nil {
		return err
	}
	return nil
}
