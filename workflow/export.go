package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
)

type WorkflowEngine interface {
	/**
	 * @description: 创建流程定义, 同名同分类的第一个版本自动激活, 之后的版本需要 SetActiveVersion
	 * @param ctx context.Context
	 * @param req *CreateDefinitionReq
	 * @return *WorkflowDefinition, error
	 */
	CreateDefinition(ctx context.Context, req *CreateDefinitionReq) (*WorkflowDefinition, error)
	/**
	 * @description: 修改草稿定义的节点和连线, 已发布的定义不可修改
	 */
	UpdateDefinition(ctx context.Context, req *UpdateDefinitionReq) (*WorkflowDefinition, error)
	GetDefinition(ctx context.Context, definitionID int64) (*WorkflowDefinition, error)
	GetActiveDefinition(ctx context.Context, name string, category string) (*WorkflowDefinition, error)
	QueryDefinitions(ctx context.Context, params *QueryWorkflowDefinitionParams) ([]*WorkflowDefinition, error)
	CountDefinitions(ctx context.Context, params *QueryWorkflowDefinitionParams) (int64, error)
	/**
	 * @description: 结构校验, 返回全部错误, 空列表表示可以发布
	 */
	ValidateDefinition(ctx context.Context, definitionID int64) ([]ValidationError, error)
	/**
	 * @description: 发布定义, 校验不通过返回 *DefinitionInvalidError
	 *				 已经发布的定义重复发布直接返回
	 */
	PublishDefinition(ctx context.Context, req *PublishDefinitionReq) (*WorkflowDefinition, error)
	/**
	 * @description: 基于已有定义深拷贝一个新版本, 新版本未发布未激活, 原定义不变
	 */
	CreateDefinitionVersion(ctx context.Context, req *CreateDefinitionVersionReq) (*WorkflowDefinition, error)
	/**
	 * @description: 激活指定版本, 同名同分类的其他版本全部取消激活, 同一个事务内完成
	 */
	SetActiveVersion(ctx context.Context, req *SetActiveVersionReq) (*WorkflowDefinition, error)
	/**
	 * @description: 删除定义, 有运行中或者挂起的实例时拒绝
	 */
	DeleteDefinition(ctx context.Context, req *DeleteDefinitionReq) error

	/**
	 * @description: 启动流程, 同步推进到第一个任务节点(或者直接结束)
	 *				 只有已发布的定义可以启动
	 * @param ctx context.Context
	 * @param req *StartWorkflowReq
	 *				  req.DefinitionID 为定义ID, 为0的时候按 Name+Category 取激活版本
	 * @return *WorkflowInstance, error 返回的实例带有任务和历史
	 */
	StartWorkflow(ctx context.Context, req *StartWorkflowReq) (*WorkflowInstance, error)
	/**
	 * @description: 取消流程, 只能从运行中取消, 待处理的任务会被取消, 处理中的任务保持不变
	 */
	CancelWorkflowInstance(ctx context.Context, req *CancelWorkflowInstanceReq) (*WorkflowInstance, error)
	SuspendWorkflowInstance(ctx context.Context, req *SuspendWorkflowInstanceReq) (*WorkflowInstance, error)
	ResumeWorkflowInstance(ctx context.Context, req *ResumeWorkflowInstanceReq) (*WorkflowInstance, error)
	GetWorkflowInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error)
	QueryWorkflowInstances(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstance, error)
	CountWorkflowInstances(ctx context.Context, params *QueryWorkflowInstanceParams) (int64, error)

	/**
	 * @description: 改派任务, 任务存在就会覆盖处理人
	 */
	AssignTask(ctx context.Context, req *AssignTaskReq) (*WorkflowTask, error)
	/**
	 * @description: 认领任务, 只有待处理的任务可以认领
	 */
	ClaimTask(ctx context.Context, req *ClaimTaskReq) (*WorkflowTask, error)
	/**
	 * @description: 开始处理, 只有处理人本人并且任务待处理
	 */
	StartTask(ctx context.Context, req *StartTaskReq) (*WorkflowTask, error)
	/**
	 * @description: 完成任务并推进流程, 任务状态和流程推进在同一个事务里
	 *				 approve -> completed, reject -> rejected
	 * @param ctx context.Context
	 * @param req *CompleteTaskReq
	 * @return *WorkflowInstance, error 推进之后的实例
	 */
	CompleteTask(ctx context.Context, req *CompleteTaskReq) (*WorkflowInstance, error)
	/**
	 * @description: 撤回任务, 流程不会推进
	 */
	WithdrawTask(ctx context.Context, req *WithdrawTaskReq) (*WorkflowTask, error)
	/**
	 * @description: 释放任务, 清空处理人回到待处理
	 */
	ReleaseTask(ctx context.Context, req *ReleaseTaskReq) (*WorkflowTask, error)
	/**
	 * @description: 超时升级, 暂不支持, 返回 ErrNotImplemented
	 */
	EscalateTask(ctx context.Context, req *EscalateTaskReq) error
	GetTask(ctx context.Context, taskID int64) (*WorkflowTask, error)
	QueryTasks(ctx context.Context, params *QueryWorkflowTaskParams) ([]*WorkflowTask, error)
	CountTasks(ctx context.Context, params *QueryWorkflowTaskParams) (int64, error)

	SetVariable(ctx context.Context, req *SetVariableReq) error
	SetVariables(ctx context.Context, req *SetVariablesReq) error
	RemoveVariable(ctx context.Context, req *RemoveVariableReq) error
	GetVariable(ctx context.Context, instanceID int64, key string) (any, bool, error)
	GetVariables(ctx context.Context, instanceID int64) (map[string]any, error)

	QueryDefinitionHistory(ctx context.Context, params *QueryHistoryParams) ([]*DefinitionHistory, error)
	QueryInstanceHistory(ctx context.Context, params *QueryHistoryParams) ([]*InstanceHistory, error)
	QueryTaskHistory(ctx context.Context, params *QueryHistoryParams) ([]*TaskHistory, error)
}

// WorkflowEngineImpl 工作流引擎
type WorkflowEngineImpl struct {
	repo        WorkflowRepo
	executeLock WorkflowLock
	opts        *Options
	tracer      trace.Tracer
	definitions *definitionCache
}

func NewWorkflowEngine(repo WorkflowRepo, executeLock WorkflowLock, opts ...Option) WorkflowEngine {
	return newWorkflowEngine(repo, executeLock, opts...)
}

func newWorkflowEngine(repo WorkflowRepo, executeLock WorkflowLock, opts ...Option) *WorkflowEngineImpl {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if executeLock == nil {
		executeLock = NewLocalWorkflowLock()
	}
	return &WorkflowEngineImpl{
		repo:        repo,
		executeLock: executeLock,
		opts:        o,
		tracer:      o.TracerProvider.Tracer(tracerName),
		definitions: newDefinitionCache(o.DefinitionCacheTTL),
	}
}

func (s *WorkflowEngineImpl) now() time.Time {
	return s.opts.Clock.Now()
}

func workflowOpLockKey(workflowInstanceID int64) string {
	return fmt.Sprintf("workflow_instance_%d", workflowInstanceID)
}

func workflowDefinitionLockKey(name string, category string) string {
	return fmt.Sprintf("workflow_definition_%s_%s", category, name)
}

// withInstanceLock 同一个实例的修改串行执行
func (s *WorkflowEngineImpl) withInstanceLock(ctx context.Context, instanceID int64, f func(ctx context.Context) error) error {
	return s.executeLock.Synchronized(ctx, workflowOpLockKey(instanceID), s.opts.LockTTL, s.opts.LockWaitTimeout, f)
}

func (s *WorkflowEngineImpl) withDefinitionLock(ctx context.Context, name string, category string, f func(ctx context.Context) error) error {
	return s.executeLock.Synchronized(ctx, workflowDefinitionLockKey(name, category), s.opts.LockTTL, s.opts.LockWaitTimeout, f)
}

func (s *WorkflowEngineImpl) loadDefinitionPo(ctx context.Context, definitionID int64) (*WorkflowDefinitionPo, error) {
	pos, err := s.repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
		DefinitionID: &definitionID,
		Page:         &Pager{Take: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowDefinition failed, definitionID: %d", definitionID)
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowDefinitionNotFound, "definitionID: %d", definitionID)
	}
	return pos[0], nil
}

// loadDefinition 已发布的定义优先读缓存
func (s *WorkflowEngineImpl) loadDefinition(ctx context.Context, definitionID int64) (*WorkflowDefinition, error) {
	if def, ok := s.definitions.get(definitionID); ok {
		return def, nil
	}
	po, err := s.loadDefinitionPo(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	def, err := definitionPoToEntity(po)
	if err != nil {
		return nil, err
	}
	s.definitions.set(def)
	return def, nil
}

func (s *WorkflowEngineImpl) loadInstance(ctx context.Context, instanceID int64) (*WorkflowInstance, error) {
	pos, err := s.repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
		WorkflowInstanceID: &instanceID,
		Page:               &Pager{Take: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowInstance failed, instanceID: %d", instanceID)
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowInstanceNotFound, "instanceID: %d", instanceID)
	}
	return instancePoToEntity(pos[0]), nil
}

func (s *WorkflowEngineImpl) loadTask(ctx context.Context, taskID int64) (*WorkflowTask, error) {
	pos, err := s.repo.QueryWorkflowTask(ctx, &QueryWorkflowTaskParams{
		WorkflowTaskID: &taskID,
		Page:           &Pager{Take: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowTask failed, taskID: %d", taskID)
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowTaskNotFound, "taskID: %d", taskID)
	}
	return taskPoToEntity(pos[0]), nil
}

// saveInstance 按 revision 条件更新, 更新成功之后 revision+1
func (s *WorkflowEngineImpl) saveInstance(ctx context.Context, instance *WorkflowInstance) error {
	revision := instance.Revision
	nextRevision := revision + 1
	completedAt := timePtrToUnix(instance.CompletedAt)
	now := s.now()
	affected, err := s.repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
		Where: &UpdateWorkflowInstanceWhere{
			IDIn:     []int64{instance.ID},
			Revision: &revision,
		},
		Fields: &UpdateWorkflowInstanceField{
			Status:           &instance.Status,
			CurrentNodeID:    &instance.CurrentNodeID,
			Variables:        instance.Variables,
			CompletedAt:      &completedAt,
			CompletedBy:      &instance.CompletedBy,
			CompletionReason: &instance.CompletionReason,
			Revision:         &nextRevision,
			UpdatedAt:        Int64(now.Unix()),
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "UpdateWorkflowInstance failed, instanceID: %d", instance.ID)
	}
	if affected != 1 {
		return errors.WithMessagef(ErrInstanceRevisionConflict, "instanceID: %d, revision: %d", instance.ID, revision)
	}
	instance.Revision = nextRevision
	instance.UpdatedAt = now
	return nil
}

// updateTask 带上当前状态作为条件, 防止并发修改
func (s *WorkflowEngineImpl) updateTask(ctx context.Context, task *WorkflowTask, fromStatus WorkflowTaskStatus, fields *UpdateWorkflowTaskField) error {
	if fields.UpdatedAt == nil {
		fields.UpdatedAt = Int64(s.now().Unix())
	}
	affected, err := s.repo.UpdateWorkflowTask(ctx, &UpdateWorkflowTaskParams{
		Where: &UpdateWorkflowTaskWhere{
			IDIn:     []int64{task.ID},
			StatusIn: []string{fromStatus},
		},
		Fields: fields,
	})
	if err != nil {
		return errors.WithMessagef(err, "UpdateWorkflowTask failed, taskID: %d", task.ID)
	}
	if affected != 1 {
		return errors.WithMessagef(ErrConcurrentModification, "task %d is no longer %s", task.ID, fromStatus)
	}
	return nil
}
