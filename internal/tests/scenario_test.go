package tests

import (
	"context"
	"strings"
	"testing"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveToCompletion(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "leave", reviewNodes(), reviewConnections()))

	instance := env.start(t, def, map[string]any{"days": 3})
	assert.Equal(t, workflow.WorkflowInstanceStatusRunning, instance.Status)
	assert.Equal(t, "review", instance.CurrentNodeID)
	assert.Equal(t, def.Version, instance.DefinitionVersion)
	require.Len(t, instance.Tasks, 1)
	task := instance.Tasks[0]
	assert.Equal(t, workflow.WorkflowTaskStatusPending, task.Status)
	assert.Equal(t, "review", task.NodeID)
	assert.Equal(t, "manager", task.AssignedTo)

	instance, err := env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
		TaskID:      task.ID,
		CompletedBy: "manager",
		Action:      workflow.TaskActionApprove,
		FormData:    map[string]any{"note": "ok"},
		Comments:    "同意",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, instance.Status)
	assert.Equal(t, "end", instance.CurrentNodeID)
	assert.Equal(t, "manager", instance.CompletedBy)
	require.NotNil(t, instance.CompletedAt)
	assert.Empty(t, env.openTasks(t, instance.ID))

	task, err = env.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowTaskStatusCompleted, task.Status)
	assert.Equal(t, workflow.TaskActionApprove, task.Action)
	assert.Equal(t, "同意", task.Comments)
	assert.Equal(t, map[string]any{"note": "ok"}, task.FormData)
	assert.Equal(t, []string{workflow.TaskHistoryCreated, workflow.TaskHistoryCompleted},
		historyActions(task.History, func(h *workflow.TaskHistory) string { return h.Action }))

	assert.Equal(t, []string{
		workflow.InstanceHistoryStarted,
		workflow.InstanceHistoryNodeEntered,
		workflow.InstanceHistoryNodeEntered,
		workflow.InstanceHistoryNodeEntered,
		workflow.InstanceHistoryCompleted,
	}, historyActions(instance.History, func(h *workflow.InstanceHistory) string { return h.Action }))
}

func TestRejectFollowsRejectConnection(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	nodes := append(reviewNodes(), &workflow.WorkflowNode{
		ID: "rework", Type: workflow.NodeTypeTask, Name: "修改", Assignment: workflow.NodeAssignment{Assignees: []string{"alice"}},
	})
	connections := append(reviewConnections(),
		&workflow.WorkflowConnection{ID: "c3", SourceNodeID: "review", TargetNodeID: "rework", Name: "Reject"},
		&workflow.WorkflowConnection{ID: "c4", SourceNodeID: "rework", TargetNodeID: "review"},
	)
	def := env.publish(t, env.createDefinition(t, "reject", nodes, connections))
	instance := env.start(t, def, nil)

	instance, err := env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
		TaskID:      instance.Tasks[0].ID,
		CompletedBy: "manager",
		Action:      workflow.TaskActionReject,
		Comments:    "材料不全",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusRunning, instance.Status)
	assert.Equal(t, "rework", instance.CurrentNodeID)
	require.Len(t, instance.Tasks, 2)
	assert.Equal(t, workflow.WorkflowTaskStatusRejected, instance.Tasks[0].Status)
	assert.Equal(t, workflow.TaskActionReject, instance.Tasks[0].Action)
	assert.Equal(t, "rework", instance.Tasks[1].NodeID)
	assert.Equal(t, "alice", instance.Tasks[1].AssignedTo)

	// 修改之后回到审批, 这次通过
	instance, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
		TaskID: instance.Tasks[1].ID, CompletedBy: "alice", Action: workflow.TaskActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, "review", instance.CurrentNodeID)
	open := env.openTasks(t, instance.ID)
	require.Len(t, open, 1)
	instance, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
		TaskID: open[0].ID, CompletedBy: "manager", Action: workflow.TaskActionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, instance.Status)

	t.Run("没有驳回连线按默认连线走", func(t *testing.T) {
		def := env.publish(t, env.createDefinition(t, "reject_default", reviewNodes(), reviewConnections()))
		instance := env.start(t, def, nil)
		instance, err := env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
			TaskID: instance.Tasks[0].ID, CompletedBy: "manager", Action: workflow.TaskActionReject,
		})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, instance.Status)
		assert.Equal(t, workflow.WorkflowTaskStatusRejected, instance.Tasks[0].Status)
	})
}

func TestTaskWithoutOutgoingConnectionFailsValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	connections := []*workflow.WorkflowConnection{
		{ID: "c1", SourceNodeID: "start", TargetNodeID: "review"},
	}
	def := env.createDefinition(t, "dead_end", reviewNodes(), connections)

	validationErrors, err := env.engine.ValidateDefinition(ctx, def.ID)
	require.NoError(t, err)
	require.Len(t, validationErrors, 1)
	assert.Equal(t, "review", validationErrors[0].NodeID)

	_, err = env.engine.PublishDefinition(ctx, &workflow.PublishDefinitionReq{DefinitionID: def.ID, PublishedBy: "admin"})
	require.Error(t, err)
	assert.True(t, workflow.IsValidationFailed(err))
	var invalid *workflow.DefinitionInvalidError
	require.True(t, errors.As(err, &invalid))
	require.Len(t, invalid.Errors, 1)
	assert.True(t, strings.Contains(invalid.Error(), "review"))

	def, err = env.engine.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.False(t, def.IsPublished)
	assert.Nil(t, def.PublishedAt)

	_, err = env.engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{DefinitionID: def.ID, Title: "x", InitiatedBy: "alice"})
	assert.True(t, errors.Is(err, workflow.ErrWorkflowNotPublished))
	assert.True(t, workflow.IsInvalidState(err))

	t.Run("修复之后可以发布", func(t *testing.T) {
		def, err := env.engine.UpdateDefinition(ctx, &workflow.UpdateDefinitionReq{
			DefinitionID: def.ID,
			Connections:  reviewConnections(),
			UpdatedBy:    "admin",
		})
		require.NoError(t, err)
		assert.Len(t, def.Connections, 2)
		def = env.publish(t, def)
		assert.Equal(t, "admin", def.PublishedBy)

		_, err = env.engine.UpdateDefinition(ctx, &workflow.UpdateDefinitionReq{
			DefinitionID: def.ID,
			Description:  workflow.String("changed"),
			UpdatedBy:    "admin",
		})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowDefinitionPublished))

		// 重复发布直接返回
		again := env.publish(t, def)
		assert.Equal(t, def.PublishedAt, again.PublishedAt)
		history, err := env.engine.QueryDefinitionHistory(ctx, &workflow.QueryHistoryParams{
			OwnerID:  def.ID,
			ActionIn: []string{workflow.DefinitionHistoryPublished},
		})
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestDeleteDefinitionInUse(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "delete", reviewNodes(), reviewConnections()))
	instance := env.start(t, def, nil)

	err := env.engine.DeleteDefinition(ctx, &workflow.DeleteDefinitionReq{DefinitionID: def.ID, DeletedBy: "admin"})
	require.Error(t, err)
	assert.True(t, workflow.IsInvalidState(err))
	assert.True(t, errors.Is(err, workflow.ErrWorkflowDefinitionInUse))

	// 挂起的实例同样阻止删除
	_, err = env.engine.SuspendWorkflowInstance(ctx, &workflow.SuspendWorkflowInstanceReq{InstanceID: instance.ID, SuspendedBy: "admin"})
	require.NoError(t, err)
	err = env.engine.DeleteDefinition(ctx, &workflow.DeleteDefinitionReq{DefinitionID: def.ID, DeletedBy: "admin"})
	assert.True(t, workflow.IsInvalidState(err))
	_, err = env.engine.ResumeWorkflowInstance(ctx, &workflow.ResumeWorkflowInstanceReq{InstanceID: instance.ID, ResumedBy: "admin"})
	require.NoError(t, err)

	_, err = env.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{
		InstanceID: instance.ID, CancelledBy: "alice", Reason: "不请了",
	})
	require.NoError(t, err)
	require.NoError(t, env.engine.DeleteDefinition(ctx, &workflow.DeleteDefinitionReq{DefinitionID: def.ID, DeletedBy: "admin"}))

	_, err = env.engine.GetDefinition(ctx, def.ID)
	assert.True(t, workflow.IsNotFound(err))
	history, err := env.engine.QueryDefinitionHistory(ctx, &workflow.QueryHistoryParams{OwnerID: def.ID})
	require.NoError(t, err)
	assert.Equal(t, workflow.DefinitionHistoryDeleted, history[len(history)-1].Action)
}

func TestCancelKeepsInProgressTasks(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "cancel", reviewNodes(), reviewConnections()))
	instance := env.start(t, def, nil)
	pending := instance.Tasks[0]

	inProgress, err := env.repo.CreateWorkflowTask(ctx, &workflow.WorkflowTaskPo{
		InstanceID: instance.ID,
		NodeID:     "review",
		Name:       "会签",
		Status:     workflow.WorkflowTaskStatusInProgress,
		AssignedTo: "hr",
	})
	require.NoError(t, err)

	instance, err = env.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{
		InstanceID: instance.ID, CancelledBy: "alice", Reason: "撤销申请",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusCancelled, instance.Status)
	assert.Equal(t, "alice", instance.CompletedBy)
	assert.Equal(t, "撤销申请", instance.CompletionReason)
	require.NotNil(t, instance.CompletedAt)

	task, err := env.engine.GetTask(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowTaskStatusCancelled, task.Status)
	assert.Equal(t, workflow.TaskHistoryCancelled, task.History[len(task.History)-1].Action)

	task, err = env.engine.GetTask(ctx, inProgress.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowTaskStatusInProgress, task.Status)
	assert.Empty(t, task.History)
}
