package workflow

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewLocalWorkflowLock 进程内的锁, 单实例部署或者测试使用
func NewLocalWorkflowLock() WorkflowLock {
	return &localWorkflowLock{
		locks: make(map[string]*localLockHolder),
	}
}

type localWorkflowLock struct {
	mu    sync.Mutex
	locks map[string]*localLockHolder
}

type localLockHolder struct {
	value    string        // 锁的值，用于验证是否是同一个持有者
	expireAt time.Time     // 过期时间, 过期之后可以被其他人抢占
	released chan struct{} // 释放或者被抢占的时候关闭, 唤醒等待者
}

func (l *localWorkflowLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	if isLockHeld(ctx, key) {
		// 已经持有锁，可重入，直接执行
		return f(ctx)
	}
	value, _, _, ok := l.tryAcquire(key, maxLockTimeDuration)
	if !ok {
		return errors.WithMessage(LockFailedError, "[localWorkflowLock.NonBlockingSynchronized] has been locked")
	}
	defer l.releaseKey(key, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

func (l *localWorkflowLock) Synchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, waitTimeout time.Duration, f func(context.Context) error) error {
	if isLockHeld(ctx, key) {
		return f(ctx)
	}
	deadline := time.Now().Add(waitTimeout)
	for {
		value, released, expireAt, ok := l.tryAcquire(key, maxLockTimeDuration)
		if ok {
			defer l.releaseKey(key, value)
			return f(context.WithValue(ctx, lockKey(key), value))
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.WithMessagef(LockFailedTimeOutError, "[localWorkflowLock.Synchronized] key: %s", key)
		}
		// 最多等到锁过期, 过期之后可以抢占
		if untilExpire := time.Until(expireAt); untilExpire < remaining {
			remaining = untilExpire
		}
		timer := time.NewTimer(remaining)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return errors.WithMessagef(ctx.Err(), "[localWorkflowLock.Synchronized] wait lock canceled, key: %s", key)
		}
		timer.Stop()
	}
}

// tryAcquire 没拿到锁的时候返回当前持有者的释放信号和过期时间
func (l *localWorkflowLock) tryAcquire(key string, maxLockTimeDuration time.Duration) (string, <-chan struct{}, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if holder, ok := l.locks[key]; ok {
		if now.Before(holder.expireAt) {
			return "", holder.released, holder.expireAt, false
		}
		// 锁已经过期, 抢占
		log.Printf("[localWorkflowLock.tryAcquire] lock expired, key: %s, value: %s", key, holder.value)
		close(holder.released)
		delete(l.locks, key)
	}
	holder := &localLockHolder{
		value:    l.getRandomValue(),
		expireAt: now.Add(maxLockTimeDuration),
		released: make(chan struct{}),
	}
	l.locks[key] = holder
	return holder.value, nil, time.Time{}, true
}

// getRandomValue 锁的持有者标识
func (l *localWorkflowLock) getRandomValue() string {
	return uuid.NewString()
}

// releaseKey 释放锁
func (l *localWorkflowLock) releaseKey(key string, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holder, ok := l.locks[key]
	if !ok {
		log.Printf("[localWorkflowLock.releaseKey] lock not found, maybe expired, key: %s", key)
		return
	}
	// 验证是否是同一个持有者
	if holder.value != value {
		log.Printf("[localWorkflowLock.releaseKey] value mismatch, expected: %s, got: %s", holder.value, value)
		return
	}
	delete(l.locks, key)
	close(holder.released)
}
