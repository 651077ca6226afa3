package tests

import (
	"context"
	"testing"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalInstanceIsStable(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "terminal", reviewNodes(), reviewConnections()))

	completed := env.start(t, def, nil)
	task := completed.Tasks[0]
	completed, err := env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: task.ID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
	require.NoError(t, err)
	cancelled := env.start(t, def, nil)
	cancelled, err = env.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{InstanceID: cancelled.ID, CancelledBy: "alice"})
	require.NoError(t, err)

	for _, instance := range []*workflow.WorkflowInstance{completed, cancelled} {
		_, err = env.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{InstanceID: instance.ID, CancelledBy: "alice"})
		assert.True(t, workflow.IsInvalidState(err))
		_, err = env.engine.SuspendWorkflowInstance(ctx, &workflow.SuspendWorkflowInstanceReq{InstanceID: instance.ID, SuspendedBy: "admin"})
		assert.True(t, workflow.IsInvalidState(err))
		_, err = env.engine.ResumeWorkflowInstance(ctx, &workflow.ResumeWorkflowInstanceReq{InstanceID: instance.ID, ResumedBy: "admin"})
		assert.True(t, workflow.IsInvalidState(err))
		err = env.engine.SetVariable(ctx, &workflow.SetVariableReq{InstanceID: instance.ID, Key: "k", Value: 1, ChangedBy: "alice"})
		assert.True(t, workflow.IsInvalidState(err))

		after, err := env.engine.GetWorkflowInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.Status, after.Status)
		assert.Equal(t, instance.Revision, after.Revision)
		assert.Len(t, after.History, len(instance.History))
	}

	// 已经完成的任务不能再次完成
	_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: task.ID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
	assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskStatus))
	// 取消的实例上的任务也不能完成
	_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: cancelled.Tasks[0].ID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
	assert.True(t, workflow.IsInvalidState(err))
}

func TestSingleActiveNode(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	connections := append(reviewConnections(),
		&workflow.WorkflowConnection{ID: "c3", SourceNodeID: "review", TargetNodeID: "review", Name: "拒绝"})
	def := env.publish(t, env.createDefinition(t, "single", reviewNodes(), connections))
	instance := env.start(t, def, nil)

	for i := 0; i < 3; i++ {
		open := env.openTasks(t, instance.ID)
		require.Len(t, open, 1)
		assert.Equal(t, instance.CurrentNodeID, open[0].NodeID)
		var err error
		instance, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
			TaskID: open[0].ID, CompletedBy: "manager", Action: workflow.TaskActionReject,
		})
		require.NoError(t, err)
		assert.Equal(t, "review", instance.CurrentNodeID)
	}
	assert.Len(t, instance.Tasks, 4)
	assert.Len(t, env.openTasks(t, instance.ID), 1)
}

func TestSuspendAndResume(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "suspend", reviewNodes(), reviewConnections()))
	instance := env.start(t, def, nil)
	task := instance.Tasks[0]

	instance, err := env.engine.SuspendWorkflowInstance(ctx, &workflow.SuspendWorkflowInstanceReq{
		InstanceID: instance.ID, SuspendedBy: "admin", Reason: "等待材料",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusSuspended, instance.Status)

	_, err = env.engine.SuspendWorkflowInstance(ctx, &workflow.SuspendWorkflowInstanceReq{InstanceID: instance.ID, SuspendedBy: "admin"})
	assert.True(t, workflow.IsInvalidState(err))
	_, err = env.engine.CancelWorkflowInstance(ctx, &workflow.CancelWorkflowInstanceReq{InstanceID: instance.ID, CancelledBy: "admin"})
	assert.True(t, workflow.IsInvalidState(err))
	_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: task.ID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
	assert.True(t, errors.Is(err, workflow.ErrWorkflowInstanceStatus))

	// 挂起不影响任务本身
	task, err = env.engine.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowTaskStatusPending, task.Status)

	instance, err = env.engine.ResumeWorkflowInstance(ctx, &workflow.ResumeWorkflowInstanceReq{
		InstanceID: instance.ID, ResumedBy: "admin", Reason: "材料已补",
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusRunning, instance.Status)
	_, err = env.engine.ResumeWorkflowInstance(ctx, &workflow.ResumeWorkflowInstanceReq{InstanceID: instance.ID, ResumedBy: "admin"})
	assert.True(t, workflow.IsInvalidState(err))

	instance, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: task.ID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, instance.Status)

	history, err := env.engine.QueryInstanceHistory(ctx, &workflow.QueryHistoryParams{
		OwnerID:  instance.ID,
		ActionIn: []string{workflow.InstanceHistorySuspended, workflow.InstanceHistoryResumed},
	})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "等待材料", history[0].Description)
	assert.Equal(t, map[string]any{"status": workflow.WorkflowInstanceStatusRunning}, history[0].BeforeValue)
	assert.Equal(t, map[string]any{"status": workflow.WorkflowInstanceStatusSuspended}, history[0].AfterValue)
	assert.Equal(t, "材料已补", history[1].Description)
}

func TestVariableAudit(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "variables", reviewNodes(), reviewConnections()))
	instance := env.start(t, def, map[string]any{"days": 3})

	require.NoError(t, env.engine.SetVariables(ctx, &workflow.SetVariablesReq{
		InstanceID: instance.ID, Values: map[string]any{"a": 1, "b": "x"}, ChangedBy: "alice",
	}))
	require.NoError(t, env.engine.SetVariable(ctx, &workflow.SetVariableReq{
		InstanceID: instance.ID, Key: "days", Value: 5, ChangedBy: "manager",
	}))
	require.NoError(t, env.engine.RemoveVariable(ctx, &workflow.RemoveVariableReq{
		InstanceID: instance.ID, Key: "b", ChangedBy: "alice",
	}))
	// 不存在的key什么都不做
	require.NoError(t, env.engine.RemoveVariable(ctx, &workflow.RemoveVariableReq{
		InstanceID: instance.ID, Key: "missing", ChangedBy: "alice",
	}))

	variables, err := env.engine.GetVariables(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"days": float64(5), "a": float64(1)}, variables)
	value, ok, err := env.engine.GetVariable(ctx, instance.ID, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)

	history, err := env.engine.QueryInstanceHistory(ctx, &workflow.QueryHistoryParams{
		OwnerID:  instance.ID,
		ActionIn: []string{workflow.InstanceHistoryVariableChanged},
	})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "alice", history[0].PerformedBy)
	assert.Empty(t, history[0].BeforeValue)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, history[0].AfterValue)
	assert.Equal(t, "manager", history[1].PerformedBy)
	assert.Equal(t, map[string]any{"days": float64(3)}, history[1].BeforeValue)
	assert.Equal(t, map[string]any{"days": float64(5)}, history[1].AfterValue)
	assert.Equal(t, map[string]any{"b": "x"}, history[2].BeforeValue)
	assert.Empty(t, history[2].AfterValue)
	for _, h := range history {
		assert.Equal(t, "review", h.NodeID)
	}

	_, _, err = env.engine.GetVariable(ctx, instance.ID+100, "a")
	assert.True(t, workflow.IsNotFound(err))
}

func TestDefinitionVersions(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	v1 := env.publish(t, env.createDefinition(t, "versioned", reviewNodes(), reviewConnections()))
	assert.Equal(t, int64(1), v1.Version)
	assert.True(t, v1.IsActive)

	v2, err := env.engine.CreateDefinitionVersion(ctx, &workflow.CreateDefinitionVersionReq{DefinitionID: v1.ID, CreatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)
	assert.False(t, v2.IsActive)
	assert.False(t, v2.IsPublished)
	assert.Equal(t, v1.Nodes, v2.Nodes)
	assert.Equal(t, v1.Connections, v2.Connections)

	// 新版本可以修改, 原版本不受影响
	nodes := reviewNodes()
	nodes[1].Assignment.Assignees = []string{"director"}
	v2, err = env.engine.UpdateDefinition(ctx, &workflow.UpdateDefinitionReq{DefinitionID: v2.ID, Nodes: nodes, UpdatedBy: "admin"})
	require.NoError(t, err)
	v2 = env.publish(t, v2)
	v1, err = env.engine.GetDefinition(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"manager"}, v1.FindNode("review").Assignment.Assignees)

	active, err := env.engine.GetActiveDefinition(ctx, "versioned", "approval")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	v2, err = env.engine.SetActiveVersion(ctx, &workflow.SetActiveVersionReq{
		Name: "versioned", Category: "approval", Version: 2, PerformedBy: "admin",
	})
	require.NoError(t, err)
	assert.True(t, v2.IsActive)
	v1, err = env.engine.GetDefinition(ctx, v1.ID)
	require.NoError(t, err)
	assert.False(t, v1.IsActive)

	count, err := env.engine.CountDefinitions(ctx, &workflow.QueryWorkflowDefinitionParams{
		Name: workflow.String("versioned"), IsActive: workflow.Bool(true),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	instance, err := env.engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{
		Name: "versioned", Category: "approval", Title: "按名称启动", InitiatedBy: "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, v2.ID, instance.DefinitionID)
	assert.Equal(t, int64(2), instance.DefinitionVersion)
	assert.Equal(t, "director", instance.Tasks[0].AssignedTo)

	v1History, err := env.engine.QueryDefinitionHistory(ctx, &workflow.QueryHistoryParams{OwnerID: v1.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{
		workflow.DefinitionHistoryCreated,
		workflow.DefinitionHistoryPublished,
		workflow.DefinitionHistoryDeactivated,
	}, historyActions(v1History, func(h *workflow.DefinitionHistory) string { return h.Action }))
	v2History, err := env.engine.QueryDefinitionHistory(ctx, &workflow.QueryHistoryParams{OwnerID: v2.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{
		workflow.DefinitionHistoryVersionCreated,
		workflow.DefinitionHistoryUpdated,
		workflow.DefinitionHistoryPublished,
		workflow.DefinitionHistoryActivated,
	}, historyActions(v2History, func(h *workflow.DefinitionHistory) string { return h.Action }))

	t.Run("同名再次创建得到下一个版本", func(t *testing.T) {
		v3 := env.createDefinition(t, "versioned", reviewNodes(), reviewConnections())
		assert.Equal(t, int64(3), v3.Version)
		assert.False(t, v3.IsActive)
	})

	t.Run("不存在的版本", func(t *testing.T) {
		_, err := env.engine.SetActiveVersion(ctx, &workflow.SetActiveVersionReq{
			Name: "versioned", Category: "approval", Version: 9, PerformedBy: "admin",
		})
		assert.True(t, workflow.IsNotFound(err))
		active, err := env.engine.GetActiveDefinition(ctx, "versioned", "approval")
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)
	})
}

func TestTaskOperations(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)
	def := env.publish(t, env.createDefinition(t, "tasks", reviewNodes(), reviewConnections()))
	instance := env.start(t, def, nil)
	taskID := instance.Tasks[0].ID

	t.Run("改派", func(t *testing.T) {
		task, err := env.engine.AssignTask(ctx, &workflow.AssignTaskReq{TaskID: taskID, AssignTo: "bob", AssignedBy: "admin"})
		require.NoError(t, err)
		assert.Equal(t, "bob", task.AssignedTo)
		assert.Equal(t, "admin", task.AssignedBy)

		_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: taskID, CompletedBy: "manager", Action: workflow.TaskActionApprove})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskNotAssignee))
	})

	t.Run("认领", func(t *testing.T) {
		task, err := env.engine.ClaimTask(ctx, &workflow.ClaimTaskReq{TaskID: taskID, ClaimedBy: "carol"})
		require.NoError(t, err)
		assert.Equal(t, "carol", task.AssignedTo)
	})

	t.Run("开始处理", func(t *testing.T) {
		_, err := env.engine.StartTask(ctx, &workflow.StartTaskReq{TaskID: taskID, StartedBy: "bob"})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskNotAssignee))

		task, err := env.engine.StartTask(ctx, &workflow.StartTaskReq{TaskID: taskID, StartedBy: "carol"})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowTaskStatusInProgress, task.Status)

		_, err = env.engine.StartTask(ctx, &workflow.StartTaskReq{TaskID: taskID, StartedBy: "carol"})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskStatus))
		_, err = env.engine.ClaimTask(ctx, &workflow.ClaimTaskReq{TaskID: taskID, ClaimedBy: "dave"})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskStatus))
	})

	t.Run("释放", func(t *testing.T) {
		_, err := env.engine.ReleaseTask(ctx, &workflow.ReleaseTaskReq{TaskID: taskID, ReleasedBy: "bob"})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskNotAssignee))

		task, err := env.engine.ReleaseTask(ctx, &workflow.ReleaseTaskReq{TaskID: taskID, ReleasedBy: "carol"})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowTaskStatusPending, task.Status)
		assert.Empty(t, task.AssignedTo)

		tasks, err := env.engine.QueryTasks(ctx, &workflow.QueryWorkflowTaskParams{AssignedTo: workflow.String("carol")})
		require.NoError(t, err)
		assert.Empty(t, tasks)
	})

	t.Run("撤回不推进流程", func(t *testing.T) {
		task, err := env.engine.WithdrawTask(ctx, &workflow.WithdrawTaskReq{TaskID: taskID, WithdrawnBy: "alice", Reason: "填错了"})
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowTaskStatusWithdrawn, task.Status)
		assert.Equal(t, "填错了", task.Comments)

		instance, err := env.engine.GetWorkflowInstance(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, workflow.WorkflowInstanceStatusRunning, instance.Status)
		assert.Equal(t, "review", instance.CurrentNodeID)

		_, err = env.engine.WithdrawTask(ctx, &workflow.WithdrawTaskReq{TaskID: taskID, WithdrawnBy: "alice"})
		assert.True(t, errors.Is(err, workflow.ErrWorkflowTaskStatus))
		_, err = env.engine.ClaimTask(ctx, &workflow.ClaimTaskReq{TaskID: taskID, ClaimedBy: "carol"})
		assert.True(t, workflow.IsInvalidState(err))
	})

	t.Run("任务历史", func(t *testing.T) {
		history, err := env.engine.QueryTaskHistory(ctx, &workflow.QueryHistoryParams{OwnerID: taskID})
		require.NoError(t, err)
		assert.Equal(t, []string{
			workflow.TaskHistoryCreated,
			workflow.TaskHistoryAssigned,
			workflow.TaskHistoryClaimed,
			workflow.TaskHistoryStarted,
			workflow.TaskHistoryReleased,
			workflow.TaskHistoryWithdrawn,
		}, historyActions(history, func(h *workflow.TaskHistory) string { return h.Action }))
		for _, h := range history {
			assert.Equal(t, instance.ID, h.InstanceID)
		}
	})

	t.Run("升级暂不支持", func(t *testing.T) {
		err := env.engine.EscalateTask(ctx, &workflow.EscalateTaskReq{TaskID: taskID, EscalatedBy: "admin", EscalateTo: "boss"})
		assert.True(t, workflow.IsNotImplemented(err))
		assert.Equal(t, "not_implemented", workflow.ErrorKind(err))
	})

	t.Run("不存在的任务", func(t *testing.T) {
		_, err := env.engine.GetTask(ctx, taskID+100)
		assert.True(t, workflow.IsNotFound(err))
		_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: taskID + 100, CompletedBy: "x", Action: workflow.TaskActionApprove})
		assert.True(t, workflow.IsNotFound(err))
	})
}

func TestParamValidation(t *testing.T) {
	ctx := context.Background()
	env := setupTestEnv(t)

	_, err := env.engine.CreateDefinition(ctx, &workflow.CreateDefinitionReq{Name: "x"})
	assert.True(t, workflow.IsParamInvalid(err))
	_, err = env.engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{Title: "x", InitiatedBy: "alice"})
	assert.True(t, workflow.IsParamInvalid(err))
	_, err = env.engine.CompleteTask(ctx, &workflow.CompleteTaskReq{TaskID: 1, CompletedBy: "a", Action: "skip"})
	assert.True(t, workflow.IsParamInvalid(err))
	err = env.engine.SetVariables(ctx, &workflow.SetVariablesReq{InstanceID: 1, ChangedBy: "a"})
	assert.True(t, workflow.IsParamInvalid(err))
	_, err = env.engine.SetActiveVersion(ctx, &workflow.SetActiveVersionReq{Name: "x", Version: -1, PerformedBy: "a"})
	assert.True(t, workflow.IsParamInvalid(err))
	_, err = env.engine.QueryWorkflowInstances(ctx, nil)
	assert.True(t, workflow.IsParamInvalid(err))
	_, err = env.engine.QueryInstanceHistory(ctx, &workflow.QueryHistoryParams{})
	assert.True(t, workflow.IsParamInvalid(err))
	assert.Equal(t, "param_invalid", workflow.ErrorKind(err))

	_, err = env.engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{Name: "ghost", Title: "x", InitiatedBy: "alice"})
	assert.True(t, workflow.IsNotFound(err))
	_, err = env.engine.GetWorkflowInstance(ctx, 42)
	assert.True(t, workflow.IsNotFound(err))
}
