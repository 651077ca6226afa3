package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// unitOfWork 一次操作内产生的历史和事件
// 历史和状态变更在同一个事务里写入, 事件和指标在事务提交之后才处理
type unitOfWork struct {
	now               time.Time
	definitionHistory []*WorkflowDefinitionHistoryPo
	instanceHistory   []*WorkflowInstanceHistoryPo
	taskHistory       []*WorkflowTaskHistoryPo
	events            []*Event
	afterCommit       []func()
}

func newUnitOfWork(now time.Time) *unitOfWork {
	return &unitOfWork{now: now}
}

type historyEntry struct {
	PerformedBy string
	Description string
	BeforeValue map[string]any
	AfterValue  map[string]any
}

func (u *unitOfWork) addDefinitionHistory(definitionID int64, action HistoryAction, entry historyEntry) {
	u.definitionHistory = append(u.definitionHistory, &WorkflowDefinitionHistoryPo{
		DefinitionID: definitionID,
		Action:       action,
		PerformedBy:  entry.PerformedBy,
		Timestamp:    u.now.Unix(),
		Description:  entry.Description,
		BeforeValue:  mapToJSON(entry.BeforeValue),
		AfterValue:   mapToJSON(entry.AfterValue),
	})
	event := newEvent(action, u.now)
	event.DefinitionID = definitionID
	event.PerformedBy = entry.PerformedBy
	event.Description = entry.Description
	event.Payload = entry.AfterValue
	u.events = append(u.events, event)
}

func (u *unitOfWork) addInstanceHistory(instance *WorkflowInstance, nodeID string, action HistoryAction, entry historyEntry) {
	u.instanceHistory = append(u.instanceHistory, &WorkflowInstanceHistoryPo{
		InstanceID:  instance.ID,
		NodeID:      nodeID,
		Action:      action,
		PerformedBy: entry.PerformedBy,
		Timestamp:   u.now.Unix(),
		Description: entry.Description,
		BeforeValue: mapToJSON(entry.BeforeValue),
		AfterValue:  mapToJSON(entry.AfterValue),
	})
	event := newEvent(action, u.now)
	event.DefinitionID = instance.DefinitionID
	event.InstanceID = instance.ID
	event.NodeID = nodeID
	event.PerformedBy = entry.PerformedBy
	event.Description = entry.Description
	event.Payload = entry.AfterValue
	u.events = append(u.events, event)
}

func (u *unitOfWork) addTaskHistory(task *WorkflowTask, action HistoryAction, entry historyEntry) {
	u.taskHistory = append(u.taskHistory, &WorkflowTaskHistoryPo{
		TaskID:      task.ID,
		InstanceID:  task.InstanceID,
		Action:      action,
		PerformedBy: entry.PerformedBy,
		Timestamp:   u.now.Unix(),
		Description: entry.Description,
		BeforeValue: mapToJSON(entry.BeforeValue),
		AfterValue:  mapToJSON(entry.AfterValue),
	})
	event := newEvent(action, u.now)
	event.InstanceID = task.InstanceID
	event.TaskID = task.ID
	event.NodeID = task.NodeID
	event.PerformedBy = entry.PerformedBy
	event.Description = entry.Description
	event.Payload = entry.AfterValue
	u.events = append(u.events, event)
}

func (u *unitOfWork) onCommit(f func()) {
	u.afterCommit = append(u.afterCommit, f)
}

func (u *unitOfWork) flush(ctx context.Context, repo WorkflowRepo) error {
	if err := repo.AppendDefinitionHistory(ctx, u.definitionHistory); err != nil {
		return errors.WithMessage(err, "AppendDefinitionHistory failed")
	}
	if err := repo.AppendInstanceHistory(ctx, u.instanceHistory); err != nil {
		return errors.WithMessage(err, "AppendInstanceHistory failed")
	}
	if err := repo.AppendTaskHistory(ctx, u.taskHistory); err != nil {
		return errors.WithMessage(err, "AppendTaskHistory failed")
	}
	return nil
}

// runInTransaction 执行fn并写入历史, 提交成功之后发送事件
func (s *WorkflowEngineImpl) runInTransaction(ctx context.Context, fn func(ctx context.Context, uow *unitOfWork) error) error {
	uow := newUnitOfWork(s.now())
	err := s.repo.Transaction(ctx, func(ctx context.Context) error {
		if err := fn(ctx, uow); err != nil {
			return err
		}
		return uow.flush(ctx, s.repo)
	})
	if err != nil {
		return err
	}
	s.dispatch(ctx, uow)
	return nil
}

func (s *WorkflowEngineImpl) dispatch(ctx context.Context, uow *unitOfWork) {
	for _, f := range uow.afterCommit {
		f()
	}
	for _, event := range uow.events {
		if err := s.opts.EventSink.Emit(ctx, event); err != nil {
			// 通知失败不影响主流程
			slog.ErrorContext(ctx, fmt.Sprintf("emit event failed, type: %s, instanceID: %d, taskID: %d, err: %v",
				event.Type, event.InstanceID, event.TaskID, err))
		}
	}
}

func (s *WorkflowEngineImpl) QueryDefinitionHistory(ctx context.Context, params *QueryHistoryParams) ([]*DefinitionHistory, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryDefinitionHistory failed, params: %v, err: %v", params, err)
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryDefinitionHistory(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryDefinitionHistory failed, definitionID: %d", params.OwnerID)
	}
	ret := make([]*DefinitionHistory, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, definitionHistoryPoToEntity(po))
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) QueryInstanceHistory(ctx context.Context, params *QueryHistoryParams) ([]*InstanceHistory, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryInstanceHistory failed, params: %v, err: %v", params, err)
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryInstanceHistory(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryInstanceHistory failed, instanceID: %d", params.OwnerID)
	}
	ret := make([]*InstanceHistory, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, instanceHistoryPoToEntity(po))
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) QueryTaskHistory(ctx context.Context, params *QueryHistoryParams) ([]*TaskHistory, error) {
	if err := validatorUtil.Struct(params); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "QueryTaskHistory failed, params: %v, err: %v", params, err)
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryTaskHistory(ctx, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryTaskHistory failed, taskID: %d", params.OwnerID)
	}
	ret := make([]*TaskHistory, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, taskHistoryPoToEntity(po))
	}
	return ret, nil
}

func noLimitPage() *Pager {
	return &Pager{IsNoLimit: Bool(true)}
}
