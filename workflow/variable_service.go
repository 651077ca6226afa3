package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type SetVariableReq struct {
	InstanceID int64  `json:"instance_id" validate:"required"`
	Key        string `json:"key" validate:"required"`
	Value      any    `json:"value"`
	ChangedBy  string `json:"changed_by" validate:"required"`
}

type SetVariablesReq struct {
	InstanceID int64          `json:"instance_id" validate:"required"`
	Values     map[string]any `json:"values" validate:"required,min=1,dive,keys,required,endkeys"`
	ChangedBy  string         `json:"changed_by" validate:"required"`
}

type RemoveVariableReq struct {
	InstanceID int64  `json:"instance_id" validate:"required"`
	Key        string `json:"key" validate:"required"`
	ChangedBy  string `json:"changed_by" validate:"required"`
}

// mutateVariables 变量修改的公共流程, mutate 返回空的变更列表表示没有修改
func (s *WorkflowEngineImpl) mutateVariables(ctx context.Context, operation string, instanceID int64, changedBy string,
	mutate func(variables *Variables) []VariableChange) (err error) {
	ctx, span := s.startSpan(ctx, operation, attribute.Int64("instance.id", instanceID))
	defer func() { s.finishSpan(span, operation, err) }()

	return s.withInstanceLock(ctx, instanceID, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			instance, err := s.loadInstance(ctx, instanceID)
			if err != nil {
				return err
			}
			if IsOverWorkflowInstanceStatus(instance.Status) && !s.opts.AllowVariableChangesAfterEnd {
				return errors.WithMessagef(ErrWorkflowInstanceStatus, "variables of a finished instance are read only, instanceID: %d, status: %s",
					instance.ID, instance.Status)
			}
			changes := mutate(instance.Variables)
			if len(changes) == 0 {
				return nil
			}
			if err := s.saveInstance(ctx, instance); err != nil {
				return err
			}
			keys := make([]string, 0, len(changes))
			for _, c := range changes {
				keys = append(keys, c.Key)
			}
			before, after := changeSnapshots(changes)
			uow.addInstanceHistory(instance, instance.CurrentNodeID, InstanceHistoryVariableChanged, historyEntry{
				PerformedBy: changedBy,
				Description: fmt.Sprintf("variables changed: %s", strings.Join(keys, ",")),
				BeforeValue: before,
				AfterValue:  after,
			})
			return nil
		})
	})
}

func (s *WorkflowEngineImpl) SetVariable(ctx context.Context, req *SetVariableReq) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "SetVariable failed, req: %v, err: %v", req, err)
	}
	err := s.mutateVariables(ctx, "SetVariable", req.InstanceID, req.ChangedBy, func(variables *Variables) []VariableChange {
		return []VariableChange{variables.Set(req.Key, req.Value)}
	})
	if err != nil {
		return errors.WithMessagef(err, "SetVariable failed, instanceID: %d, key: %s", req.InstanceID, req.Key)
	}
	return nil
}

func (s *WorkflowEngineImpl) SetVariables(ctx context.Context, req *SetVariablesReq) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "SetVariables failed, req: %v, err: %v", req, err)
	}
	err := s.mutateVariables(ctx, "SetVariables", req.InstanceID, req.ChangedBy, func(variables *Variables) []VariableChange {
		return variables.SetMany(req.Values)
	})
	if err != nil {
		return errors.WithMessagef(err, "SetVariables failed, instanceID: %d", req.InstanceID)
	}
	return nil
}

// RemoveVariable key不存在的时候什么都不做
func (s *WorkflowEngineImpl) RemoveVariable(ctx context.Context, req *RemoveVariableReq) error {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "RemoveVariable failed, req: %v, err: %v", req, err)
	}
	err := s.mutateVariables(ctx, "RemoveVariable", req.InstanceID, req.ChangedBy, func(variables *Variables) []VariableChange {
		change, ok := variables.Remove(req.Key)
		if !ok {
			return nil
		}
		return []VariableChange{change}
	})
	if err != nil {
		return errors.WithMessagef(err, "RemoveVariable failed, instanceID: %d, key: %s", req.InstanceID, req.Key)
	}
	return nil
}

func (s *WorkflowEngineImpl) GetVariable(ctx context.Context, instanceID int64, key string) (any, bool, error) {
	instance, err := s.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, false, err
	}
	value, ok := instance.Variables.Get(key)
	return value, ok, nil
}

func (s *WorkflowEngineImpl) GetVariables(ctx context.Context, instanceID int64) (map[string]any, error) {
	instance, err := s.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return instance.Variables.ToMap(), nil
}
