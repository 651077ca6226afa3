package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type AssignTaskReq struct {
	TaskID     int64  `json:"task_id" validate:"required"`
	AssignTo   string `json:"assign_to" validate:"required"`
	AssignedBy string `json:"assigned_by" validate:"required"`
}

type ClaimTaskReq struct {
	TaskID    int64  `json:"task_id" validate:"required"`
	ClaimedBy string `json:"claimed_by" validate:"required"`
}

type StartTaskReq struct {
	TaskID    int64  `json:"task_id" validate:"required"`
	StartedBy string `json:"started_by" validate:"required"`
}

type CompleteTaskReq struct {
	TaskID      int64          `json:"task_id" validate:"required"`
	CompletedBy string         `json:"completed_by" validate:"required"`
	Action      TaskAction     `json:"action" validate:"required,oneof=approve reject"`
	FormData    map[string]any `json:"form_data"`
	Comments    string         `json:"comments"`
}

type WithdrawTaskReq struct {
	TaskID      int64  `json:"task_id" validate:"required"`
	WithdrawnBy string `json:"withdrawn_by" validate:"required"`
	Reason      string `json:"reason"`
}

type ReleaseTaskReq struct {
	TaskID     int64  `json:"task_id" validate:"required"`
	ReleasedBy string `json:"released_by" validate:"required"`
}

type EscalateTaskReq struct {
	TaskID      int64  `json:"task_id" validate:"required"`
	EscalatedBy string `json:"escalated_by" validate:"required"`
	EscalateTo  string `json:"escalate_to"`
}

// taskMutation 在实例锁和事务里面修改一个任务
// 任务的 InstanceID 需要先读出来才能拿到实例锁, 拿锁之后重新读一次
func (s *WorkflowEngineImpl) taskMutation(ctx context.Context, taskID int64, f func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.withInstanceLock(ctx, task.InstanceID, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			task, err := s.loadTask(ctx, taskID)
			if err != nil {
				return err
			}
			return f(ctx, uow, task)
		})
	})
}

func (s *WorkflowEngineImpl) AssignTask(ctx context.Context, req *AssignTaskReq) (ret *WorkflowTask, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "AssignTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "AssignTask", attribute.Int64("task.id", req.TaskID))
	defer func() { s.finishSpan(span, "AssignTask", err) }()

	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		assignedAt := uow.now.Unix()
		if err := s.updateTask(ctx, task, task.Status, &UpdateWorkflowTaskField{
			AssignedTo: &req.AssignTo,
			AssignedBy: &req.AssignedBy,
			AssignedAt: &assignedAt,
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, TaskHistoryAssigned, historyEntry{
			PerformedBy: req.AssignedBy,
			Description: fmt.Sprintf("task assigned to %s", req.AssignTo),
			BeforeValue: map[string]any{"assigned_to": task.AssignedTo},
			AfterValue:  map[string]any{"assigned_to": req.AssignTo},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "AssignTask failed, taskID: %d", req.TaskID)
	}
	return s.GetTask(ctx, req.TaskID)
}

func (s *WorkflowEngineImpl) ClaimTask(ctx context.Context, req *ClaimTaskReq) (ret *WorkflowTask, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "ClaimTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "ClaimTask", attribute.Int64("task.id", req.TaskID))
	defer func() { s.finishSpan(span, "ClaimTask", err) }()

	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		if task.Status != WorkflowTaskStatusPending {
			return errors.WithMessagef(ErrWorkflowTaskStatus, "claim requires pending, taskID: %d, status: %s", task.ID, task.Status)
		}
		assignedAt := uow.now.Unix()
		if err := s.updateTask(ctx, task, WorkflowTaskStatusPending, &UpdateWorkflowTaskField{
			AssignedTo: &req.ClaimedBy,
			AssignedBy: &req.ClaimedBy,
			AssignedAt: &assignedAt,
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, TaskHistoryClaimed, historyEntry{
			PerformedBy: req.ClaimedBy,
			Description: fmt.Sprintf("task claimed by %s", req.ClaimedBy),
			BeforeValue: map[string]any{"assigned_to": task.AssignedTo},
			AfterValue:  map[string]any{"assigned_to": req.ClaimedBy},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ClaimTask failed, taskID: %d", req.TaskID)
	}
	return s.GetTask(ctx, req.TaskID)
}

func (s *WorkflowEngineImpl) StartTask(ctx context.Context, req *StartTaskReq) (ret *WorkflowTask, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "StartTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "StartTask", attribute.Int64("task.id", req.TaskID))
	defer func() { s.finishSpan(span, "StartTask", err) }()

	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		if task.AssignedTo != req.StartedBy {
			return errors.WithMessagef(ErrWorkflowTaskNotAssignee, "taskID: %d, assignedTo: %s, operator: %s", task.ID, task.AssignedTo, req.StartedBy)
		}
		if task.Status != WorkflowTaskStatusPending {
			return errors.WithMessagef(ErrWorkflowTaskStatus, "start requires pending, taskID: %d, status: %s", task.ID, task.Status)
		}
		if err := s.updateTask(ctx, task, WorkflowTaskStatusPending, &UpdateWorkflowTaskField{
			Status: String(WorkflowTaskStatusInProgress),
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, TaskHistoryStarted, historyEntry{
			PerformedBy: req.StartedBy,
			Description: "task started",
			BeforeValue: map[string]any{"status": task.Status},
			AfterValue:  map[string]any{"status": WorkflowTaskStatusInProgress},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "StartTask failed, taskID: %d", req.TaskID)
	}
	return s.GetTask(ctx, req.TaskID)
}

// CompleteTask 任务结束和流程推进一起提交, 任意一步失败整体回滚
func (s *WorkflowEngineImpl) CompleteTask(ctx context.Context, req *CompleteTaskReq) (ret *WorkflowInstance, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CompleteTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "CompleteTask",
		attribute.Int64("task.id", req.TaskID), attribute.String("task.action", req.Action))
	defer func() { s.finishSpan(span, "CompleteTask", err) }()

	var instanceID int64
	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		instanceID = task.InstanceID
		if task.AssignedTo != req.CompletedBy {
			return errors.WithMessagef(ErrWorkflowTaskNotAssignee, "taskID: %d, assignedTo: %s, operator: %s", task.ID, task.AssignedTo, req.CompletedBy)
		}
		if IsOverWorkflowTaskStatus(task.Status) {
			return errors.WithMessagef(ErrWorkflowTaskStatus, "taskID: %d, status: %s", task.ID, task.Status)
		}
		instance, err := s.loadInstance(ctx, task.InstanceID)
		if err != nil {
			return err
		}
		switch {
		case instance.Status == WorkflowInstanceStatusRunning:
		case instance.Status == WorkflowInstanceStatusSuspended && s.opts.AllowTaskCompletionInSuspended:
		default:
			return errors.WithMessagef(ErrWorkflowInstanceStatus, "instanceID: %d, status: %s", instance.ID, instance.Status)
		}
		if task.NodeID != instance.CurrentNodeID {
			return errors.WithMessagef(ErrWorkflowTaskNotCurrent, "taskID: %d, node: %s, current node: %s", task.ID, task.NodeID, instance.CurrentNodeID)
		}
		def, err := s.loadDefinition(ctx, instance.DefinitionID)
		if err != nil {
			return err
		}

		status := WorkflowTaskStatusCompleted
		historyAction := TaskHistoryCompleted
		if req.Action == TaskActionReject {
			status = WorkflowTaskStatusRejected
			historyAction = TaskHistoryRejected
		}
		completedAt := uow.now.Unix()
		if err := s.updateTask(ctx, task, task.Status, &UpdateWorkflowTaskField{
			Status:      &status,
			Action:      &req.Action,
			FormData:    req.FormData,
			Comments:    &req.Comments,
			CompletedBy: &req.CompletedBy,
			CompletedAt: &completedAt,
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, historyAction, historyEntry{
			PerformedBy: req.CompletedBy,
			Description: req.Comments,
			BeforeValue: map[string]any{"status": task.Status},
			AfterValue:  map[string]any{"status": status, "action": req.Action},
		})

		rc := &routeContext{definition: def, instance: instance, uow: uow, performedBy: req.CompletedBy}
		if err := s.processNextNode(ctx, rc, task.NodeID, req.Action); err != nil {
			return err
		}
		if err := s.saveInstance(ctx, instance); err != nil {
			return err
		}
		uow.onCommit(func() {
			s.opts.Metrics.taskResolved(status)
			s.opts.Metrics.observeRouteHops(rc.hops)
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CompleteTask failed, taskID: %d", req.TaskID)
	}
	return s.GetWorkflowInstance(ctx, instanceID)
}

// WithdrawTask 只修改任务状态, 不推进流程
func (s *WorkflowEngineImpl) WithdrawTask(ctx context.Context, req *WithdrawTaskReq) (ret *WorkflowTask, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "WithdrawTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "WithdrawTask", attribute.Int64("task.id", req.TaskID))
	defer func() { s.finishSpan(span, "WithdrawTask", err) }()

	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		if IsOverWorkflowTaskStatus(task.Status) {
			return errors.WithMessagef(ErrWorkflowTaskStatus, "taskID: %d, status: %s", task.ID, task.Status)
		}
		completedAt := uow.now.Unix()
		if err := s.updateTask(ctx, task, task.Status, &UpdateWorkflowTaskField{
			Status:      String(WorkflowTaskStatusWithdrawn),
			Comments:    &req.Reason,
			CompletedBy: &req.WithdrawnBy,
			CompletedAt: &completedAt,
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, TaskHistoryWithdrawn, historyEntry{
			PerformedBy: req.WithdrawnBy,
			Description: req.Reason,
			BeforeValue: map[string]any{"status": task.Status},
			AfterValue:  map[string]any{"status": WorkflowTaskStatusWithdrawn},
		})
		uow.onCommit(func() { s.opts.Metrics.taskResolved(WorkflowTaskStatusWithdrawn) })
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "WithdrawTask failed, taskID: %d", req.TaskID)
	}
	return s.GetTask(ctx, req.TaskID)
}

func (s *WorkflowEngineImpl) ReleaseTask(ctx context.Context, req *ReleaseTaskReq) (ret *WorkflowTask, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "ReleaseTask failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "ReleaseTask", attribute.Int64("task.id", req.TaskID))
	defer func() { s.finishSpan(span, "ReleaseTask", err) }()

	err = s.taskMutation(ctx, req.TaskID, func(ctx context.Context, uow *unitOfWork, task *WorkflowTask) error {
		if task.AssignedTo != req.ReleasedBy {
			return errors.WithMessagef(ErrWorkflowTaskNotAssignee, "taskID: %d, assignedTo: %s, operator: %s", task.ID, task.AssignedTo, req.ReleasedBy)
		}
		if IsOverWorkflowTaskStatus(task.Status) {
			return errors.WithMessagef(ErrWorkflowTaskStatus, "taskID: %d, status: %s", task.ID, task.Status)
		}
		if err := s.updateTask(ctx, task, task.Status, &UpdateWorkflowTaskField{
			Status:     String(WorkflowTaskStatusPending),
			AssignedTo: String(""),
		}); err != nil {
			return err
		}
		uow.addTaskHistory(task, TaskHistoryReleased, historyEntry{
			PerformedBy: req.ReleasedBy,
			Description: "task released",
			BeforeValue: map[string]any{"status": task.Status, "assigned_to": task.AssignedTo},
			AfterValue:  map[string]any{"status": WorkflowTaskStatusPending, "assigned_to": ""},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "ReleaseTask failed, taskID: %d", req.TaskID)
	}
	return s.GetTask(ctx, req.TaskID)
}

func (s *WorkflowEngineImpl) EscalateTask(ctx context.Context, req *EscalateTaskReq) error {
	return errors.WithMessagef(ErrNotImplemented, "EscalateTask, req: %v", req)
}

// GetTask 带上任务历史
func (s *WorkflowEngineImpl) GetTask(ctx context.Context, taskID int64) (*WorkflowTask, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	historyPos, err := s.repo.QueryTaskHistory(ctx, &QueryHistoryParams{
		OwnerID: taskID,
		Page:    noLimitPage(),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryTaskHistory failed, taskID: %d", taskID)
	}
	task.History = make([]*TaskHistory, 0, len(historyPos))
	for _, po := range historyPos {
		task.History = append(task.History, taskHistoryPoToEntity(po))
	}
	return task, nil
}

func (s *WorkflowEngineImpl) QueryTasks(ctx context.Context, params *QueryWorkflowTaskParams) ([]*WorkflowTask, error) {
	if params == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "QueryTasks failed, nil params")
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryWorkflowTask(ctx, params)
	if err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowTask failed")
	}
	ret := make([]*WorkflowTask, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, taskPoToEntity(po))
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) CountTasks(ctx context.Context, params *QueryWorkflowTaskParams) (int64, error) {
	if params == nil {
		return 0, errors.Wrap(ErrWorkflowParamInvalid, "CountTasks failed, nil params")
	}
	return s.repo.CountWorkflowTask(ctx, params)
}
