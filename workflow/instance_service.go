package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type StartWorkflowReq struct {
	DefinitionID int64          `json:"definition_id" validate:"required_without=Name"`
	Name         string         `json:"name" validate:"required_without=DefinitionID"`
	Category     string         `json:"category"`
	Title        string         `json:"title" validate:"required"`
	InitiatedBy  string         `json:"initiated_by" validate:"required"`
	Variables    map[string]any `json:"variables"`
}

type CancelWorkflowInstanceReq struct {
	InstanceID  int64  `json:"instance_id" validate:"required"`
	CancelledBy string `json:"cancelled_by" validate:"required"`
	Reason      string `json:"reason"`
}

type SuspendWorkflowInstanceReq struct {
	InstanceID  int64  `json:"instance_id" validate:"required"`
	SuspendedBy string `json:"suspended_by" validate:"required"`
	Reason      string `json:"reason"`
}

type ResumeWorkflowInstanceReq struct {
	InstanceID int64  `json:"instance_id" validate:"required"`
	ResumedBy  string `json:"resumed_by" validate:"required"`
	Reason     string `json:"reason"`
}

func (s *WorkflowEngineImpl) StartWorkflow(ctx context.Context, req *StartWorkflowReq) (ret *WorkflowInstance, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "StartWorkflow failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "StartWorkflow",
		attribute.Int64("definition.id", req.DefinitionID), attribute.String("definition.name", req.Name))
	defer func() { s.finishSpan(span, "StartWorkflow", err) }()

	def, err := s.resolveStartDefinition(ctx, req)
	if err != nil {
		return nil, err
	}
	if !def.IsPublished {
		return nil, errors.WithMessagef(ErrWorkflowNotPublished, "definitionID: %d", def.ID)
	}
	startNode := def.StartNode()
	if startNode == nil {
		return nil, errors.WithMessagef(ErrWorkflowStartNodeMissing, "definitionID: %d", def.ID)
	}

	var instanceID int64
	// 和删除定义互斥, 事务里面重新读一次定义, 防止实例挂在已经删除的定义上
	err = s.withDefinitionLock(ctx, def.Name, def.Category, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			return s.createInstance(ctx, uow, def, startNode, req, &instanceID)
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "StartWorkflow failed, definitionID: %d", def.ID)
	}
	return s.GetWorkflowInstance(ctx, instanceID)
}

func (s *WorkflowEngineImpl) createInstance(ctx context.Context, uow *unitOfWork, def *WorkflowDefinition, startNode *WorkflowNode,
	req *StartWorkflowReq, instanceID *int64) error {
	current, err := s.loadDefinitionPo(ctx, def.ID)
	if err != nil {
		return err
	}
	if !current.IsPublished {
		return errors.WithMessagef(ErrWorkflowNotPublished, "definitionID: %d", def.ID)
	}
	variables := NewVariablesFromMap(req.Variables)
	variablesBytes, err := variables.ToBytes()
	if err != nil {
		return err
	}
	po, err := s.repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		Title:             req.Title,
		Status:            WorkflowInstanceStatusRunning,
		CurrentNodeID:     startNode.ID,
		Variables:         variablesBytes,
		InitiatedBy:       req.InitiatedBy,
		InitiatedAt:       uow.now.Unix(),
		CreatedAt:         uow.now.Unix(),
		UpdatedAt:         uow.now.Unix(),
	})
	if err != nil {
		return errors.WithMessagef(err, "CreateWorkflowInstance failed, definitionID: %d", def.ID)
	}
	instance := instancePoToEntity(po)
	*instanceID = instance.ID
	uow.addInstanceHistory(instance, startNode.ID, InstanceHistoryStarted, historyEntry{
		PerformedBy: req.InitiatedBy,
		Description: fmt.Sprintf("workflow %s started from %s v%d", req.Title, def.Name, def.Version),
		AfterValue:  map[string]any{"status": instance.Status, "variables": variables.ToMap()},
	})
	rc := &routeContext{definition: def, instance: instance, uow: uow, performedBy: req.InitiatedBy}
	if err := s.enterNode(ctx, rc, startNode.ID); err != nil {
		return err
	}
	if err := s.saveInstance(ctx, instance); err != nil {
		return err
	}
	uow.onCommit(func() {
		s.opts.Metrics.instanceStarted(def.Name)
		s.opts.Metrics.observeRouteHops(rc.hops)
	})
	return nil
}

func (s *WorkflowEngineImpl) resolveStartDefinition(ctx context.Context, req *StartWorkflowReq) (*WorkflowDefinition, error) {
	if req.DefinitionID != 0 {
		return s.loadDefinition(ctx, req.DefinitionID)
	}
	active, err := s.GetActiveDefinition(ctx, req.Name, req.Category)
	if err != nil {
		return nil, err
	}
	// 走一遍缓存, 保证同一个定义的图只解析一次
	return s.loadDefinition(ctx, active.ID)
}

func (s *WorkflowEngineImpl) CancelWorkflowInstance(ctx context.Context, req *CancelWorkflowInstanceReq) (ret *WorkflowInstance, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CancelWorkflowInstance failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "CancelWorkflowInstance", attribute.Int64("instance.id", req.InstanceID))
	defer func() { s.finishSpan(span, "CancelWorkflowInstance", err) }()

	err = s.withInstanceLock(ctx, req.InstanceID, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			instance, err := s.loadInstance(ctx, req.InstanceID)
			if err != nil {
				return err
			}
			if instance.Status != WorkflowInstanceStatusRunning {
				return errors.WithMessagef(ErrWorkflowInstanceStatus, "cancel requires running, instanceID: %d, status: %s", instance.ID, instance.Status)
			}
			now := uow.now
			instance.Status = WorkflowInstanceStatusCancelled
			instance.CompletedAt = &now
			instance.CompletedBy = req.CancelledBy
			instance.CompletionReason = req.Reason

			// 只取消待处理的任务, 处理中的任务保持原状
			pendingTasks, err := s.repo.QueryWorkflowTask(ctx, &QueryWorkflowTaskParams{
				InstanceID: &instance.ID,
				StatusIn:   []string{WorkflowTaskStatusPending},
				Page:       noLimitPage(),
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowTask failed, instanceID: %d", instance.ID)
			}
			for _, po := range pendingTasks {
				task := taskPoToEntity(po)
				completedAt := now.Unix()
				if err := s.updateTask(ctx, task, WorkflowTaskStatusPending, &UpdateWorkflowTaskField{
					Status:      String(WorkflowTaskStatusCancelled),
					CompletedBy: &req.CancelledBy,
					CompletedAt: &completedAt,
					Comments:    &req.Reason,
				}); err != nil {
					return err
				}
				uow.addTaskHistory(task, TaskHistoryCancelled, historyEntry{
					PerformedBy: req.CancelledBy,
					Description: "task cancelled with its workflow instance",
					BeforeValue: map[string]any{"status": WorkflowTaskStatusPending},
					AfterValue:  map[string]any{"status": WorkflowTaskStatusCancelled},
				})
				uow.onCommit(func() { s.opts.Metrics.taskResolved(WorkflowTaskStatusCancelled) })
			}
			if err := s.saveInstance(ctx, instance); err != nil {
				return err
			}
			uow.addInstanceHistory(instance, instance.CurrentNodeID, InstanceHistoryCancelled, historyEntry{
				PerformedBy: req.CancelledBy,
				Description: req.Reason,
				BeforeValue: map[string]any{"status": WorkflowInstanceStatusRunning},
				AfterValue:  map[string]any{"status": WorkflowInstanceStatusCancelled, "cancelled_tasks": len(pendingTasks)},
			})
			uow.onCommit(func() { s.opts.Metrics.instanceFinished(WorkflowInstanceStatusCancelled) })
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CancelWorkflowInstance failed, instanceID: %d", req.InstanceID)
	}
	return s.GetWorkflowInstance(ctx, req.InstanceID)
}

func (s *WorkflowEngineImpl) SuspendWorkflowInstance(ctx context.Context, req *SuspendWorkflowInstanceReq) (ret *WorkflowInstance, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "SuspendWorkflowInstance failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "SuspendWorkflowInstance", attribute.Int64("instance.id", req.InstanceID))
	defer func() { s.finishSpan(span, "SuspendWorkflowInstance", err) }()

	err = s.transitInstance(ctx, req.InstanceID, WorkflowInstanceStatusRunning, WorkflowInstanceStatusSuspended,
		InstanceHistorySuspended, req.SuspendedBy, req.Reason)
	if err != nil {
		return nil, errors.WithMessagef(err, "SuspendWorkflowInstance failed, instanceID: %d", req.InstanceID)
	}
	return s.GetWorkflowInstance(ctx, req.InstanceID)
}

func (s *WorkflowEngineImpl) ResumeWorkflowInstance(ctx context.Context, req *ResumeWorkflowInstanceReq) (ret *WorkflowInstance, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "ResumeWorkflowInstance failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "ResumeWorkflowInstance", attribute.Int64("instance.id", req.InstanceID))
	defer func() { s.finishSpan(span, "ResumeWorkflowInstance", err) }()

	err = s.transitInstance(ctx, req.InstanceID, WorkflowInstanceStatusSuspended, WorkflowInstanceStatusRunning,
		InstanceHistoryResumed, req.ResumedBy, req.Reason)
	if err != nil {
		return nil, errors.WithMessagef(err, "ResumeWorkflowInstance failed, instanceID: %d", req.InstanceID)
	}
	return s.GetWorkflowInstance(ctx, req.InstanceID)
}

// transitInstance 挂起和恢复只切换状态, 不动任务
func (s *WorkflowEngineImpl) transitInstance(ctx context.Context, instanceID int64, from WorkflowInstanceStatus, to WorkflowInstanceStatus,
	action HistoryAction, performedBy string, reason string) error {
	return s.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			instance, err := s.loadInstance(ctx, instanceID)
			if err != nil {
				return err
			}
			if instance.Status != from {
				return errors.WithMessagef(ErrWorkflowInstanceStatus, "instanceID: %d, status: %s, expected: %s", instance.ID, instance.Status, from)
			}
			instance.Status = to
			if err := s.saveInstance(ctx, instance); err != nil {
				return err
			}
			uow.addInstanceHistory(instance, instance.CurrentNodeID, action, historyEntry{
				PerformedBy: performedBy,
				Description: reason,
				BeforeValue: map[string]any{"status": from},
				AfterValue:  map[string]any{"status": to},
			})
			return nil
		})
	})
}

// GetWorkflowInstance 带上全部任务和实例历史
func (s *WorkflowEngineImpl) GetWorkflowInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error) {
	instance, err := s.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	taskPos, err := s.repo.QueryWorkflowTask(ctx, &QueryWorkflowTaskParams{
		InstanceID: &instanceID,
		Page:       noLimitPage(),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowTask failed, instanceID: %d", instanceID)
	}
	instance.Tasks = make([]*WorkflowTask, 0, len(taskPos))
	for _, po := range taskPos {
		instance.Tasks = append(instance.Tasks, taskPoToEntity(po))
	}
	historyPos, err := s.repo.QueryInstanceHistory(ctx, &QueryHistoryParams{
		OwnerID: instanceID,
		Page:    noLimitPage(),
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryInstanceHistory failed, instanceID: %d", instanceID)
	}
	instance.History = make([]*InstanceHistory, 0, len(historyPos))
	for _, po := range historyPos {
		instance.History = append(instance.History, instanceHistoryPoToEntity(po))
	}
	return instance, nil
}

func (s *WorkflowEngineImpl) QueryWorkflowInstances(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstance, error) {
	if params == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "QueryWorkflowInstances failed, nil params")
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryWorkflowInstance(ctx, params)
	if err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowInstance failed")
	}
	ret := make([]*WorkflowInstance, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, instancePoToEntity(po))
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) CountWorkflowInstances(ctx context.Context, params *QueryWorkflowInstanceParams) (int64, error) {
	if params == nil {
		return 0, errors.Wrap(ErrWorkflowParamInvalid, "CountWorkflowInstances failed, nil params")
	}
	return s.repo.CountWorkflowInstance(ctx, params)
}
