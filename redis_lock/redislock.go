package redis_lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gomodule/redigo/redis"
	"go.uber.org/zap"

	"plugintx/third_party"
)

const RedisLockKeyPrefix = "PLUGINTX_LOCK_PREFIX"

var (
	ErrLockInUse = errors.New("lock already acquired by other")
	ErrNil       = redis.ErrNil
)

// 基于 redis 的分布式锁, 供参与者保护自身事务数据
// 未显式设置过期时间时启用看门狗自动续期
type RedisLock struct {
	key    string
	token  string
	client third_party.LockClient
	logger *zap.Logger

	LockOptions

	//看门狗运作标识
	runningDog int32
	//停止看门狗
	stopDog context.CancelFunc
}

func NewRedisLock(key string, client third_party.LockClient, opts ...LockOption) *RedisLock {
	r := &RedisLock{
		key:    key,
		client: client,
		token:  getPidAndGidStr(),
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&r.LockOptions)
	}

	repairLockOpt(&r.LockOptions)

	if r.LockOptions.logger != nil {
		r.logger = r.LockOptions.logger
	}

	return r
}

func (r *RedisLock) Lock(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			return
		}
		//加锁成功后按需启动看门狗
		r.startWatchDog(ctx)
	}()

	err = r.tryLock(ctx)
	if err == nil {
		return nil
	}

	//非阻塞模式或不可重试错误直接返回
	if !r.isBlock || !IsRetryableErr(err) {
		return err
	}

	//抢锁失败进入轮询阻塞
	return r.blockingLock(ctx)
}

func (r *RedisLock) tryLock(ctx context.Context) error {
	resp, err := r.client.SetNXWithEX(ctx, r.getLockKey(), r.token, r.expireSeconds)
	if err != nil {
		return err
	}
	if resp != 1 {
		return fmt.Errorf("reply: %d, err: %w", resp, ErrLockInUse)
	}
	return nil
}

func (r *RedisLock) startWatchDog(ctx context.Context) {
	if !r.watchDogMode {
		return
	}

	for !atomic.CompareAndSwapInt32(&r.runningDog, 0, 1) {
		//循环等待上一只看门狗退出
		time.Sleep(time.Second)
	}

	ctx, r.stopDog = context.WithCancel(ctx)

	go func() {
		defer func() {
			atomic.StoreInt32(&r.runningDog, 0)
		}()
		r.watchDogRunning(ctx)
	}()
}

func (r *RedisLock) watchDogRunning(ctx context.Context) {
	ticker := time.NewTicker(WatchDogWorkStepSeconds * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		select {
		case <-ctx.Done():
			return
		default:
			//给锁续期, 为了避免网络时延, 续期时间额外增加5s
			if err := r.DelayExpire(ctx, WatchDogWorkStepSeconds+5); err != nil {
				r.logger.Warn("redis_lock: watch dog delay expire failed",
					zap.String("key", r.getLockKey()), zap.Error(err))
			}
		}
	}
}

// 刷新锁的过期时间, 基于lua脚本保证校验和续期的原子性
func (r *RedisLock) DelayExpire(ctx context.Context, expireSeconds int64) error {
	keysAndArgs := []interface{}{r.getLockKey(), r.token, expireSeconds}

	reply, err := r.client.Eval(ctx, third_party.LuaCheckAndExpireLock, 1, keysAndArgs)
	if ret, _ := reply.(int64); ret != 1 {
		return fmt.Errorf("fail to delay expired key: %s expire: %d err: %w", r.getLockKey(), expireSeconds, err)
	}
	return nil
}

func (r *RedisLock) blockingLock(ctx context.Context) error {
	timeoutCh := time.After(time.Duration(r.blockWaitingSeconds) * time.Second)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock failed, ctx done: %w", ctx.Err())
		case <-timeoutCh:
			return fmt.Errorf("block waiting timeout, key: %s: %w", r.getLockKey(), ErrLockInUse)
		default:
			err := r.tryLock(ctx)
			if err == nil {
				return nil
			}
			if !IsRetryableErr(err) {
				return err
			}
		}
	}

	return nil
}

func (r *RedisLock) Unlock(ctx context.Context) error {
	defer func() {
		if r.stopDog != nil {
			r.stopDog()
		}
	}()

	keysAndArgs := []interface{}{r.getLockKey(), r.token}

	resp, err := r.client.Eval(ctx, third_party.LuaCheckAndDeleteLock, 1, keysAndArgs)
	if ret, _ := resp.(int64); ret != 1 {
		return fmt.Errorf("fail to unlock key: %s err: %w", r.getLockKey(), err)
	}
	return nil
}

func (r *RedisLock) getLockKey() string {
	return RedisLockKeyPrefix + r.key
}

// 判断当前错误是否可以通过重试解决
func IsRetryableErr(err error) bool {
	return errors.Is(err, ErrLockInUse)
}

func getCurrentProcessID() string {
	return strconv.Itoa(os.Getpid())
}

func getCurrentGoroutineID() string {
	buf := make([]byte, 128)
	buf = buf[:runtime.Stack(buf, false)]
	stackInfo := string(buf)
	return strings.TrimSpace(strings.Split(strings.Split(stackInfo, "[running]")[0], "goroutine")[1])
}

func getPidAndGidStr() string {
	return fmt.Sprintf("%s-%s", getCurrentProcessID(), getCurrentGoroutineID())
}
