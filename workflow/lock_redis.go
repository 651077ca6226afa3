package workflow

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	delCommand = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`
	// 阻塞等待的时候重试 SetNX 的间隔, 单位毫秒
	waitRetryIntervalMs = 20
)

// NewRedisWorkflowLock 多实例部署的时候使用
func NewRedisWorkflowLock(redisClient redis.Cmdable) WorkflowLock {
	return &redisWorkflowLock{redisClient: redisClient}
}

type redisWorkflowLock struct {
	redisClient redis.Cmdable
}

func (d *redisWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(ctx2 context.Context) error) error {
	if isLockHeld(ctx, key) {
		// 之前成功上锁了,继续执行即可
		return f(ctx)
	}
	value := d.getRandomValue()
	isLock, err := d.redisClient.SetNX(ctx, key, value, maxLockTimeDuration).Result()
	if err != nil {
		return errors.WithMessagef(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized], err:%v", err)
	}
	if !isLock {
		return errors.WithMessage(LockFailedError, "[redisWorkflowLock.NonBlockingSynchronized] has been locked")
	}
	defer d.releaseKey(key, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

func (d *redisWorkflowLock) Synchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, waitTimeout time.Duration, f func(ctx2 context.Context) error) error {
	if isLockHeld(ctx, key) {
		return f(ctx)
	}
	value := d.getRandomValue()
	deadline := time.Now().Add(waitTimeout)
	retry := time.NewTimer(waitRetryIntervalMs * time.Millisecond)
	defer retry.Stop()
	for {
		isLock, err := d.redisClient.SetNX(ctx, key, value, maxLockTimeDuration).Result()
		if err != nil {
			return errors.WithMessagef(LockFailedError, "[redisWorkflowLock.Synchronized], err:%v", err)
		}
		if isLock {
			break
		}
		if time.Now().After(deadline) {
			return errors.WithMessagef(LockFailedTimeOutError, "[redisWorkflowLock.Synchronized] key: %s", key)
		}
		select {
		case <-ctx.Done():
			return errors.WithMessagef(ctx.Err(), "[redisWorkflowLock.Synchronized] wait lock canceled, key: %s", key)
		case <-retry.C:
			retry.Reset(waitRetryIntervalMs * time.Millisecond)
		}
	}
	defer d.releaseKey(key, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

func (d *redisWorkflowLock) getRandomValue() string {
	return uuid.NewString()
}

func (d *redisWorkflowLock) releaseKey(key string, value string) {
	// 释放锁, 因为context 可能会被cancel，确保释放锁需要新开一个context,不能用原来的
	replyInterface, err := d.redisClient.Eval(context.Background(), delCommand, []string{key}, value).Result()
	if err != nil {
		log.Printf("[redisWorkflowLock.releaseKey] release key failed, err:%v", err)
		return
	}
	reply, ok := replyInterface.(int64)
	if !ok {
		log.Printf("[redisWorkflowLock.releaseKey] reply is not int64, reply:%v", replyInterface)
		return
	}
	if reply != 1 {
		// 没有成功释放, 锁可能已经过期被别人拿走
		log.Printf("[redisWorkflowLock.releaseKey] reply is not 1, reply:%v", reply)
		return
	}
}
