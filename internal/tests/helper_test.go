package tests

import (
	"context"
	"testing"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db     *gorm.DB
	repo   workflow.WorkflowRepo
	engine workflow.WorkflowEngine
}

func setupTestEnv(t *testing.T, opts ...workflow.Option) *testEnv {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, workflow.AutoMigrate(db))

	repo := workflow.NewWorkflowRepo(db)
	return &testEnv{
		db:     db,
		repo:   repo,
		engine: workflow.NewWorkflowEngine(repo, workflow.NewLocalWorkflowLock(), opts...),
	}
}

// reviewNodes 开始 -> 审批 -> 结束
func reviewNodes() []*workflow.WorkflowNode {
	return []*workflow.WorkflowNode{
		{ID: "start", Type: workflow.NodeTypeStart, Name: "开始"},
		{ID: "review", Type: workflow.NodeTypeTask, Name: "审批", Assignment: workflow.NodeAssignment{Assignees: []string{"manager"}}},
		{ID: "end", Type: workflow.NodeTypeEnd, Name: "结束"},
	}
}

func reviewConnections() []*workflow.WorkflowConnection {
	return []*workflow.WorkflowConnection{
		{ID: "c1", SourceNodeID: "start", TargetNodeID: "review", IsDefault: true},
		{ID: "c2", SourceNodeID: "review", TargetNodeID: "end", IsDefault: true},
	}
}

func (e *testEnv) createDefinition(t *testing.T, name string, nodes []*workflow.WorkflowNode, connections []*workflow.WorkflowConnection) *workflow.WorkflowDefinition {
	def, err := e.engine.CreateDefinition(context.Background(), &workflow.CreateDefinitionReq{
		Name:        name,
		Category:    "approval",
		Nodes:       nodes,
		Connections: connections,
		CreatedBy:   "admin",
	})
	require.NoError(t, err)
	return def
}

func (e *testEnv) publish(t *testing.T, def *workflow.WorkflowDefinition) *workflow.WorkflowDefinition {
	def, err := e.engine.PublishDefinition(context.Background(), &workflow.PublishDefinitionReq{
		DefinitionID: def.ID,
		PublishedBy:  "admin",
	})
	require.NoError(t, err)
	require.True(t, def.IsPublished)
	return def
}

func (e *testEnv) start(t *testing.T, def *workflow.WorkflowDefinition, variables map[string]any) *workflow.WorkflowInstance {
	instance, err := e.engine.StartWorkflow(context.Background(), &workflow.StartWorkflowReq{
		DefinitionID: def.ID,
		Title:        "请假申请",
		InitiatedBy:  "alice",
		Variables:    variables,
	})
	require.NoError(t, err)
	return instance
}

// openTasks 实例上还没有结束的任务
func (e *testEnv) openTasks(t *testing.T, instanceID int64) []*workflow.WorkflowTask {
	tasks, err := e.engine.QueryTasks(context.Background(), &workflow.QueryWorkflowTaskParams{
		InstanceID: &instanceID,
		StatusIn:   []string{workflow.WorkflowTaskStatusPending, workflow.WorkflowTaskStatusInProgress},
		Page:       &workflow.Pager{IsNoLimit: workflow.Bool(true)},
	})
	require.NoError(t, err)
	return tasks
}

func historyActions[T any](items []T, action func(T) string) []string {
	ret := make([]string, 0, len(items))
	for _, item := range items {
		ret = append(ret, action(item))
	}
	return ret
}
