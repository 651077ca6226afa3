package workflow

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Clock 时间来源, 测试的时候可以替换
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options 引擎的可调参数
type Options struct {
	Clock                          Clock
	EventSink                      EventSink
	Metrics                        *Metrics
	TracerProvider                 trace.TracerProvider
	DefaultAssignee                string
	MaxRouteHops                   int
	LockTTL                        time.Duration
	LockWaitTimeout                time.Duration
	DefinitionCacheTTL             time.Duration
	AllowTaskCompletionInSuspended bool
	AllowVariableChangesAfterEnd   bool
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Clock:              systemClock{},
		EventSink:          NopEventSink{},
		TracerProvider:     noop.NewTracerProvider(),
		DefaultAssignee:    defaultAssignee,
		MaxRouteHops:       100,
		LockTTL:            time.Minute,
		LockWaitTimeout:    3 * time.Second,
		DefinitionCacheTTL: 10 * time.Minute,
	}
}

func WithClock(clock Clock) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

func WithEventSink(sink EventSink) Option {
	return func(o *Options) {
		if sink != nil {
			o.EventSink = sink
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(o *Options) {
		o.Metrics = metrics
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		if tp != nil {
			o.TracerProvider = tp
		}
	}
}

// WithDefaultAssignee 节点没有配置处理人时的兜底处理人
func WithDefaultAssignee(assignee string) Option {
	return func(o *Options) {
		if assignee != "" {
			o.DefaultAssignee = assignee
		}
	}
}

// WithMaxRouteHops 一次推进最多经过的节点数, 超过认为定义里面有死循环
func WithMaxRouteHops(hops int) Option {
	return func(o *Options) {
		if hops > 0 {
			o.MaxRouteHops = hops
		}
	}
}

func WithLockTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.LockTTL = ttl
		}
	}
}

// WithLockWaitTimeout 0 表示拿不到锁立刻失败
func WithLockWaitTimeout(wait time.Duration) Option {
	return func(o *Options) {
		if wait >= 0 {
			o.LockWaitTimeout = wait
		}
	}
}

// WithDefinitionCacheTTL 已发布定义的缓存时间, <=0 关闭缓存
func WithDefinitionCacheTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.DefinitionCacheTTL = ttl
	}
}

// WithTaskCompletionWhileSuspended 允许挂起的实例继续完成任务
func WithTaskCompletionWhileSuspended(allow bool) Option {
	return func(o *Options) {
		o.AllowTaskCompletionInSuspended = allow
	}
}

// WithVariableChangesAfterTermination 允许修改已经结束的实例的变量
func WithVariableChangesAfterTermination(allow bool) Option {
	return func(o *Options) {
		o.AllowVariableChangesAfterEnd = allow
	}
}
