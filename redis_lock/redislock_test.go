package redis_lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"plugintx/third_party"
)

// 需要可用的 redis 实例, 通过 PLUGINTX_REDIS_ADDR 指定地址, 未指定时跳过
func newLockClient(t *testing.T) *third_party.RedisClient {
	addr := os.Getenv("PLUGINTX_REDIS_ADDR")
	if addr == "" {
		t.Skip("PLUGINTX_REDIS_ADDR not set")
	}
	return third_party.NewClient("tcp", addr, os.Getenv("PLUGINTX_REDIS_PASSWORD"))
}

func Test_block_lock(t *testing.T) {
	client := newLockClient(t)

	lock1 := NewRedisLock("test1", client, WithExpireSeconds(2))
	lock2 := NewRedisLock("test1", client, WithBlock(), WithBlockWaitingSeconds(3))

	ctx := context.Background()

	if err := lock1.Lock(ctx); err != nil {
		t.Error(err)
		return
	}

	//锁1两秒后过期, 阻塞模式的锁2应该在等待窗口内拿到锁
	if err := lock2.Lock(ctx); err != nil {
		t.Error(err)
		return
	}

	if err := lock2.Unlock(ctx); err != nil {
		t.Error(err)
	}
}

func Test_non_block_lock(t *testing.T) {
	client := newLockClient(t)

	lock1 := NewRedisLock("test2", client, WithExpireSeconds(2))
	lock2 := NewRedisLock("test2", client, WithExpireSeconds(2))

	ctx := context.Background()

	if err := lock1.Lock(ctx); err != nil {
		t.Error(err)
		return
	}

	//非阻塞模式下抢占失败直接报可重试错误
	err := lock2.Lock(ctx)
	if err == nil {
		t.Error("expect lock in use")
		return
	}
	if !IsRetryableErr(err) {
		t.Error(err)
		return
	}

	if err := lock1.Unlock(ctx); err != nil {
		t.Error(err)
	}
}

func Test_watch_dog_renewal(t *testing.T) {
	client := newLockClient(t)

	//未设置过期时间走看门狗模式, 持锁时间超过默认过期后锁仍然有效
	lock1 := NewRedisLock("test3", client)
	lock2 := NewRedisLock("test3", client, WithExpireSeconds(1))

	ctx := context.Background()

	if err := lock1.Lock(ctx); err != nil {
		t.Error(err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(2 * time.Second)
		if err := lock2.Lock(ctx); err == nil {
			t.Error("expect lock still held by watch dog owner")
		}
	}()
	wg.Wait()

	if err := lock1.Unlock(ctx); err != nil {
		t.Error(err)
	}
}
