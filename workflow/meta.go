package workflow

import "github.com/pkg/errors"

// 错误分类, 对外只暴露这几种类别, 具体错误通过 IsXxx 判断归属
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrValidationFailed       = errors.New("validation failed")
	ErrNotImplemented         = errors.New("not implemented")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrWorkflowParamInvalid   = errors.New("workflow param invalid")
)

var (
	// NotFound
	ErrWorkflowDefinitionNotFound = errors.New("workflow definition not found")
	ErrWorkflowInstanceNotFound   = errors.New("workflow instance not found")
	ErrWorkflowTaskNotFound       = errors.New("workflow task not found")
	ErrWorkflowNodeNotFound       = errors.New("workflow node not found")

	// InvalidState
	ErrWorkflowNotPublished        = errors.New("only published workflows can be started")
	ErrWorkflowStartNodeMissing    = errors.New("workflow definition has no start node")
	ErrWorkflowDefinitionPublished = errors.New("published workflow definition cannot be modified")
	ErrWorkflowDefinitionInUse     = errors.New("workflow definition has unfinished instances")
	ErrWorkflowInstanceStatus      = errors.New("operation not allowed in current instance status")
	ErrWorkflowTaskStatus          = errors.New("operation not allowed in current task status")
	ErrWorkflowTaskNotAssignee     = errors.New("task is not assigned to the operator")
	ErrWorkflowTaskNotCurrent      = errors.New("task is not bound to the instance current node")
	ErrNoOutgoingConnection        = errors.New("node has no outgoing connection")
	ErrRouteHopLimitExceeded       = errors.New("route hop limit exceeded, the definition may contain a cycle")
	ErrUnsupportedNodeType         = errors.New("unsupported node type")

	// ConcurrentModification
	ErrInstanceRevisionConflict = errors.New("workflow instance was modified by another operation")
)

var (
	LockFailedError        = errors.New("lock failed")
	LockFailedTimeOutError = errors.New("wait time out")
)

// 默认的处理人, 节点没有配置处理人的时候使用
const defaultAssignee = "system"

type WorkflowInstanceStatus = string

const (
	WorkflowInstanceStatusRunning   WorkflowInstanceStatus = "running"
	WorkflowInstanceStatusSuspended WorkflowInstanceStatus = "suspended"
	// 取消, 终止状态, 不会再流转
	WorkflowInstanceStatusCancelled WorkflowInstanceStatus = "cancelled"
	// 完成, 终止状态, 到达结束节点
	WorkflowInstanceStatusCompleted WorkflowInstanceStatus = "completed"
)

func IsOverWorkflowInstanceStatus(status WorkflowInstanceStatus) bool {
	return status == WorkflowInstanceStatusCancelled || status == WorkflowInstanceStatusCompleted
}

func GetWorkflowInstanceStatusText(status WorkflowInstanceStatus) string {
	switch status {
	case WorkflowInstanceStatusRunning:
		return "运行中"
	case WorkflowInstanceStatusSuspended:
		return "挂起"
	case WorkflowInstanceStatusCancelled:
		return "取消"
	case WorkflowInstanceStatusCompleted:
		return "完成"
	}
	return "未知"
}

type WorkflowTaskStatus = string

const (
	WorkflowTaskStatusPending    WorkflowTaskStatus = "pending"
	WorkflowTaskStatusInProgress WorkflowTaskStatus = "in_progress"
	WorkflowTaskStatusCompleted  WorkflowTaskStatus = "completed"
	WorkflowTaskStatusRejected   WorkflowTaskStatus = "rejected"
	WorkflowTaskStatusWithdrawn  WorkflowTaskStatus = "withdrawn"
	WorkflowTaskStatusCancelled  WorkflowTaskStatus = "cancelled"
)

// IsOverWorkflowTaskStatus pending 和 in_progress 之外的状态都是任务的终止状态
func IsOverWorkflowTaskStatus(status WorkflowTaskStatus) bool {
	return status != WorkflowTaskStatusPending && status != WorkflowTaskStatusInProgress
}

func GetWorkflowTaskStatusText(status WorkflowTaskStatus) string {
	switch status {
	case WorkflowTaskStatusPending:
		return "待处理"
	case WorkflowTaskStatusInProgress:
		return "处理中"
	case WorkflowTaskStatusCompleted:
		return "已通过"
	case WorkflowTaskStatusRejected:
		return "已拒绝"
	case WorkflowTaskStatusWithdrawn:
		return "已撤回"
	case WorkflowTaskStatusCancelled:
		return "已取消"
	}
	return "未知"
}

type NodeType = string

const (
	NodeTypeStart NodeType = "start"
	NodeTypeTask  NodeType = "task"
	NodeTypeEnd   NodeType = "end"
)

// TaskAction 任务完成时的动作, 决定路由方向
type TaskAction = string

const (
	TaskActionApprove TaskAction = "approve"
	TaskActionReject  TaskAction = "reject"
)

type HistoryAction = string

// 定义的历史动作
const (
	DefinitionHistoryCreated        HistoryAction = "definition_created"
	DefinitionHistoryUpdated        HistoryAction = "definition_updated"
	DefinitionHistoryPublished      HistoryAction = "definition_published"
	DefinitionHistoryVersionCreated HistoryAction = "definition_version_created"
	DefinitionHistoryActivated      HistoryAction = "definition_activated"
	DefinitionHistoryDeactivated    HistoryAction = "definition_deactivated"
	DefinitionHistoryDeleted        HistoryAction = "definition_deleted"
)

// 实例的历史动作
const (
	InstanceHistoryStarted         HistoryAction = "instance_started"
	InstanceHistoryNodeEntered     HistoryAction = "instance_node_entered"
	InstanceHistorySuspended       HistoryAction = "instance_suspended"
	InstanceHistoryResumed         HistoryAction = "instance_resumed"
	InstanceHistoryCancelled       HistoryAction = "instance_cancelled"
	InstanceHistoryCompleted       HistoryAction = "instance_completed"
	InstanceHistoryVariableChanged HistoryAction = "instance_variable_changed"
)

// 任务的历史动作
const (
	TaskHistoryCreated   HistoryAction = "task_created"
	TaskHistoryAssigned  HistoryAction = "task_assigned"
	TaskHistoryClaimed   HistoryAction = "task_claimed"
	TaskHistoryStarted   HistoryAction = "task_started"
	TaskHistoryCompleted HistoryAction = "task_completed"
	TaskHistoryRejected  HistoryAction = "task_rejected"
	TaskHistoryWithdrawn HistoryAction = "task_withdrawn"
	TaskHistoryReleased  HistoryAction = "task_released"
	TaskHistoryCancelled HistoryAction = "task_cancelled"
)

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWorkflowDefinitionNotFound) ||
		errors.Is(err, ErrWorkflowInstanceNotFound) ||
		errors.Is(err, ErrWorkflowTaskNotFound) ||
		errors.Is(err, ErrWorkflowNodeNotFound)
}

func IsInvalidState(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrWorkflowNotPublished) ||
		errors.Is(err, ErrWorkflowStartNodeMissing) ||
		errors.Is(err, ErrWorkflowDefinitionPublished) ||
		errors.Is(err, ErrWorkflowDefinitionInUse) ||
		errors.Is(err, ErrWorkflowInstanceStatus) ||
		errors.Is(err, ErrWorkflowTaskStatus) ||
		errors.Is(err, ErrWorkflowTaskNotAssignee) ||
		errors.Is(err, ErrWorkflowTaskNotCurrent) ||
		errors.Is(err, ErrNoOutgoingConnection) ||
		errors.Is(err, ErrRouteHopLimitExceeded) ||
		errors.Is(err, ErrUnsupportedNodeType)
}

// IsValidationFailed 结构校验失败, 具体的错误列表通过 errors.As 取 *DefinitionInvalidError
func IsValidationFailed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrValidationFailed)
}

func IsNotImplemented(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotImplemented)
}

// IsConcurrentModification 拿锁失败或者乐观锁冲突, 一般重试即可
func IsConcurrentModification(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInstanceRevisionConflict) ||
		errors.Is(err, LockFailedError) ||
		errors.Is(err, LockFailedTimeOutError)
}

func IsParamInvalid(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrWorkflowParamInvalid)
}
