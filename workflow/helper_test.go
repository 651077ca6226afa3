package workflow

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// captureLog 把默认 slog 输出到 buffer, 测试结束后恢复
func captureLog(t *testing.T) *bytes.Buffer {
	buf := &bytes.Buffer{}
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
	return buf
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func setupTestEngine(t *testing.T, opts ...Option) *WorkflowEngineImpl {
	db := setupTestDB(t)
	return newWorkflowEngine(NewWorkflowRepo(db), NewLocalWorkflowLock(), opts...)
}

// publishSimple 开始 -> 审批 -> 结束, 审批节点有一条驳回回到自己的连线
func publishSimple(t *testing.T, engine *WorkflowEngineImpl, name string) *WorkflowDefinition {
	ctx := context.Background()
	def, err := engine.CreateDefinition(ctx, &CreateDefinitionReq{
		Name:     name,
		Category: "test",
		Nodes: []*WorkflowNode{
			{ID: "start", Type: NodeTypeStart, Name: "开始"},
			{ID: "review", Type: NodeTypeTask, Name: "审批", Assignment: NodeAssignment{Assignees: []string{"manager"}}},
			{ID: "end", Type: NodeTypeEnd, Name: "结束"},
		},
		Connections: []*WorkflowConnection{
			{ID: "c1", SourceNodeID: "start", TargetNodeID: "review"},
			{ID: "c2", SourceNodeID: "review", TargetNodeID: "end", IsDefault: true},
			{ID: "c3", SourceNodeID: "review", TargetNodeID: "review", Name: "reject"},
		},
		CreatedBy: "admin",
	})
	require.NoError(t, err)
	def, err = engine.PublishDefinition(ctx, &PublishDefinitionReq{DefinitionID: def.ID, PublishedBy: "admin"})
	require.NoError(t, err)
	return def
}
