package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/blingmoon/approval-workflow/workflow"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config workflowctl 的配置文件
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Log      LogConfig      `yaml:"log"`
	Events   EventsConfig   `yaml:"events"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// RedisConfig Addr 为空的时候使用进程内的锁
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type EngineConfig struct {
	DefaultAssignee                      string        `yaml:"default_assignee" validate:"required"`
	MaxRouteHops                         int           `yaml:"max_route_hops" validate:"gt=0"`
	LockTTL                              time.Duration `yaml:"lock_ttl" validate:"gt=0"`
	LockWaitTimeout                      time.Duration `yaml:"lock_wait_timeout" validate:"gte=0"`
	DefinitionCacheTTL                   time.Duration `yaml:"definition_cache_ttl"`
	AllowTaskCompletionWhileSuspended    bool          `yaml:"allow_task_completion_while_suspended"`
	AllowVariableChangesAfterTermination bool          `yaml:"allow_variable_changes_after_termination"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type EventsConfig struct {
	Topic string `yaml:"topic" validate:"required"`
}

func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite", DSN: "workflow.sqlite3"},
		Engine: EngineConfig{
			DefaultAssignee:    "system",
			MaxRouteHops:       100,
			LockTTL:            time.Minute,
			LockWaitTimeout:    3 * time.Second,
			DefinitionCacheTTL: 10 * time.Minute,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Events: EventsConfig{Topic: workflow.DefaultEventTopic},
	}
}

// Load 读取配置文件, path 为空的时候返回默认配置
// 文件里没有配置的字段保持默认值
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config file failed, path: %s", path)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "unmarshal config file failed, path: %s", path)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// EngineOptions 转换成引擎的参数, clock/sink/metrics 之类的运行时依赖由调用方追加
func (c *Config) EngineOptions() []workflow.Option {
	return []workflow.Option{
		workflow.WithDefaultAssignee(c.Engine.DefaultAssignee),
		workflow.WithMaxRouteHops(c.Engine.MaxRouteHops),
		workflow.WithLockTTL(c.Engine.LockTTL),
		workflow.WithLockWaitTimeout(c.Engine.LockWaitTimeout),
		workflow.WithDefinitionCacheTTL(c.Engine.DefinitionCacheTTL),
		workflow.WithTaskCompletionWhileSuspended(c.Engine.AllowTaskCompletionWhileSuspended),
		workflow.WithVariableChangesAfterTermination(c.Engine.AllowVariableChangesAfterTermination),
	}
}
