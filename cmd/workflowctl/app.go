package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/blingmoon/approval-workflow/internal/config"
	"github.com/blingmoon/approval-workflow/internal/logging"
	"github.com/blingmoon/approval-workflow/workflow"
)

// app 一次命令执行需要的全部依赖
type app struct {
	cfg      *config.Config
	engine   workflow.WorkflowEngine
	registry *prometheus.Registry
	logger   *slog.Logger
	closers  []func()
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("database") {
		cfg.Database.DSN = cmd.String("database")
	}
	if cmd.IsSet("redis-addr") {
		cfg.Redis.Addr = cmd.String("redis-addr")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Log.Format = cmd.String("log-format")
	}
	if cmd.IsSet("default-assignee") {
		cfg.Engine.DefaultAssignee = cmd.String("default-assignee")
	}
	if cmd.IsSet("max-route-hops") {
		cfg.Engine.MaxRouteHops = cmd.Int("max-route-hops")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	a := &app{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logging.WithModule("workflowctl"),
	}

	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database failed, dsn: %s", cfg.Database.DSN)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql db failed")
	}
	if cfg.Database.DSN == ":memory:" {
		// 每个连接都是独立的内存库
		sqlDB.SetMaxOpenConns(1)
	}
	a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	if err := workflow.AutoMigrate(db); err != nil {
		return nil, err
	}

	var lock workflow.WorkflowLock
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrapf(err, "ping redis failed, addr: %s", cfg.Redis.Addr)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		lock = workflow.NewRedisWorkflowLock(client)
	} else {
		lock = workflow.NewLocalWorkflowLock()
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NewSlogLogger(a.logger))
	messages, err := pubSub.Subscribe(ctx, cfg.Events.Topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe events failed, topic: %s", cfg.Events.Topic)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range messages {
			event, err := workflow.DecodeEvent(msg)
			if err != nil {
				a.logger.Warn("decode event failed", "error", err)
			} else {
				a.logger.Debug("workflow event", "type", event.Type, "key", event.Key(),
					"node", event.NodeID, "performed_by", event.PerformedBy)
			}
			msg.Ack()
		}
	}()
	a.closers = append(a.closers, func() {
		_ = pubSub.Close()
		<-done
	})

	tracerProvider := sdktrace.NewTracerProvider()
	a.closers = append(a.closers, func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			a.logger.Error("shutdown tracer provider failed", "error", err)
		}
	})

	opts := append(cfg.EngineOptions(),
		workflow.WithEventSink(workflow.NewWatermillEventSink(pubSub, cfg.Events.Topic)),
		workflow.WithMetrics(workflow.NewMetrics(a.registry)),
		workflow.WithTracerProvider(tracerProvider),
	)
	a.engine = workflow.NewWorkflowEngine(workflow.NewWorkflowRepo(db), lock, opts...)
	return a, nil
}

// Close 按创建的逆序释放资源, 指定了 metrics-file 的时候落盘指标
func (a *app) Close(cmd *cli.Command) {
	if path := cmd.String("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, a.registry); err != nil {
			a.logger.Error("write metrics file failed", "path", path, "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// withApp 子命令的公共入口
func withApp(f func(ctx context.Context, cmd *cli.Command, a *app) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		a, err := setupApp(ctx, cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd)
		return f(ctx, cmd, a)
	}
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return errors.Wrap(err, "encode output failed")
	}
	return nil
}
