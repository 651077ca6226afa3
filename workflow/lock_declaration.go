package workflow

import (
	"context"
	"time"
)

type WorkflowLock interface {
	// NonBlockingSynchronized
	//  @Description:  1.非阻塞同步块,如果没有拿到锁，立刻返回 LockFailedError
	//                 2.可以重入锁
	//  @param ctx 原来的ctx
	//  @param key 锁的key
	//  @param maxLockTimeDuration 锁最大的时间
	//  @param f 具体执行函数的闭包
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
	// Synchronized
	//  @Description:  1.阻塞同步块, 最多等待 waitTimeout, 超时返回 LockFailedTimeOutError
	//                 2.可以重入锁
	//  @param waitTimeout 等待锁的最长时间, <=0 等价于非阻塞
	Synchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, waitTimeout time.Duration, f func(context.Context) error) error
}

type lockKey string

func isLockHeld(ctx context.Context, key string) bool {
	_, ok := ctx.Value(lockKey(key)).(string)
	return ok
}
