package workflow

import (
	"context"

	"gorm.io/datatypes"
)

type WorkflowRepo interface {
	CreateWorkflowDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error)
	QueryWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) ([]*WorkflowDefinitionPo, error)
	CountWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) (int64, error)
	UpdateWorkflowDefinition(ctx context.Context, param *UpdateWorkflowDefinitionParams) (int64, error)
	DeleteWorkflowDefinition(ctx context.Context, definitionID int64) error

	CreateWorkflowInstance(ctx context.Context, workflowInstance *WorkflowInstancePo) (*WorkflowInstancePo, error)
	QueryWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error)
	CountWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) (int64, error)
	// UpdateWorkflowInstance 返回影响的行数, 带 Revision 条件的时候调用方据此判断是否冲突
	UpdateWorkflowInstance(ctx context.Context, param *UpdateWorkflowInstanceParams) (int64, error)

	CreateWorkflowTask(ctx context.Context, task *WorkflowTaskPo) (*WorkflowTaskPo, error)
	QueryWorkflowTask(ctx context.Context, param *QueryWorkflowTaskParams) ([]*WorkflowTaskPo, error)
	CountWorkflowTask(ctx context.Context, param *QueryWorkflowTaskParams) (int64, error)
	UpdateWorkflowTask(ctx context.Context, param *UpdateWorkflowTaskParams) (int64, error)

	// 历史只追加, 没有更新和删除
	AppendDefinitionHistory(ctx context.Context, histories []*WorkflowDefinitionHistoryPo) error
	QueryDefinitionHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowDefinitionHistoryPo, error)
	AppendInstanceHistory(ctx context.Context, histories []*WorkflowInstanceHistoryPo) error
	QueryInstanceHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowInstanceHistoryPo, error)
	AppendTaskHistory(ctx context.Context, histories []*WorkflowTaskHistoryPo) error
	QueryTaskHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowTaskHistoryPo, error)

	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type WorkflowDefinitionPo struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name        string         `gorm:"column:name;index:idx_definition_name_category" json:"name"`
	Category    string         `gorm:"column:category;index:idx_definition_name_category" json:"category"`
	Description string         `gorm:"column:description" json:"description"`
	Version     int64          `gorm:"column:version" json:"version"`
	IsActive    bool           `gorm:"column:is_active" json:"is_active"`
	IsPublished bool           `gorm:"column:is_published" json:"is_published"`
	PublishedBy string         `gorm:"column:published_by" json:"published_by"`
	PublishedAt int64          `gorm:"column:published_at" json:"published_at"` // 0 表示未发布
	Graph       datatypes.JSON `gorm:"column:graph" json:"graph"`               // 节点和连线
	CreatedBy   string         `gorm:"column:created_by" json:"created_by"`
	CreatedAt   int64          `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   int64          `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowDefinitionPo) TableName() string {
	return "workflow_definition"
}

type WorkflowInstancePo struct {
	ID                int64                  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DefinitionID      int64                  `gorm:"column:definition_id;index" json:"definition_id"`
	DefinitionVersion int64                  `gorm:"column:definition_version" json:"definition_version"`
	Title             string                 `gorm:"column:title" json:"title"`
	Status            WorkflowInstanceStatus `gorm:"column:status;index" json:"status"`
	CurrentNodeID     string                 `gorm:"column:current_node_id" json:"current_node_id"`
	Variables         datatypes.JSON         `gorm:"column:variables" json:"variables"`
	InitiatedBy       string                 `gorm:"column:initiated_by" json:"initiated_by"`
	InitiatedAt       int64                  `gorm:"column:initiated_at" json:"initiated_at"`
	CompletedAt       int64                  `gorm:"column:completed_at" json:"completed_at"`
	CompletedBy       string                 `gorm:"column:completed_by" json:"completed_by"`
	CompletionReason  string                 `gorm:"column:completion_reason" json:"completion_reason"`
	Revision          int64                  `gorm:"column:revision" json:"revision"` // 乐观锁版本号
	CreatedAt         int64                  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         int64                  `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowInstancePo) TableName() string {
	return "workflow_instance"
}

type WorkflowTaskPo struct {
	ID          int64              `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	InstanceID  int64              `gorm:"column:instance_id;index" json:"instance_id"`
	NodeID      string             `gorm:"column:node_id" json:"node_id"`
	Name        string             `gorm:"column:name" json:"name"`
	Status      WorkflowTaskStatus `gorm:"column:status;index" json:"status"`
	AssignedTo  string             `gorm:"column:assigned_to;index" json:"assigned_to"`
	AssignedBy  string             `gorm:"column:assigned_by" json:"assigned_by"`
	AssignedAt  int64              `gorm:"column:assigned_at" json:"assigned_at"`
	DueDate     int64              `gorm:"column:due_date" json:"due_date"` // 0 表示没有截止时间
	Action      TaskAction         `gorm:"column:action" json:"action"`
	FormData    datatypes.JSON     `gorm:"column:form_data" json:"form_data"`
	Comments    string             `gorm:"column:comments" json:"comments"`
	CompletedBy string             `gorm:"column:completed_by" json:"completed_by"`
	CompletedAt int64              `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt   int64              `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   int64              `gorm:"column:updated_at" json:"updated_at"`
}

func (WorkflowTaskPo) TableName() string {
	return "workflow_task"
}

type WorkflowDefinitionHistoryPo struct {
	ID           int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DefinitionID int64          `gorm:"column:definition_id;index" json:"definition_id"`
	Action       HistoryAction  `gorm:"column:action" json:"action"`
	PerformedBy  string         `gorm:"column:performed_by" json:"performed_by"`
	Timestamp    int64          `gorm:"column:timestamp" json:"timestamp"`
	Description  string         `gorm:"column:description" json:"description"`
	BeforeValue  datatypes.JSON `gorm:"column:before_value" json:"before_value"`
	AfterValue   datatypes.JSON `gorm:"column:after_value" json:"after_value"`
}

func (WorkflowDefinitionHistoryPo) TableName() string {
	return "workflow_definition_history"
}

type WorkflowInstanceHistoryPo struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	InstanceID  int64          `gorm:"column:instance_id;index" json:"instance_id"`
	NodeID      string         `gorm:"column:node_id" json:"node_id"`
	Action      HistoryAction  `gorm:"column:action" json:"action"`
	PerformedBy string         `gorm:"column:performed_by" json:"performed_by"`
	Timestamp   int64          `gorm:"column:timestamp" json:"timestamp"`
	Description string         `gorm:"column:description" json:"description"`
	BeforeValue datatypes.JSON `gorm:"column:before_value" json:"before_value"`
	AfterValue  datatypes.JSON `gorm:"column:after_value" json:"after_value"`
}

func (WorkflowInstanceHistoryPo) TableName() string {
	return "workflow_instance_history"
}

type WorkflowTaskHistoryPo struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TaskID      int64          `gorm:"column:task_id;index" json:"task_id"`
	InstanceID  int64          `gorm:"column:instance_id" json:"instance_id"`
	Action      HistoryAction  `gorm:"column:action" json:"action"`
	PerformedBy string         `gorm:"column:performed_by" json:"performed_by"`
	Timestamp   int64          `gorm:"column:timestamp" json:"timestamp"`
	Description string         `gorm:"column:description" json:"description"`
	BeforeValue datatypes.JSON `gorm:"column:before_value" json:"before_value"`
	AfterValue  datatypes.JSON `gorm:"column:after_value" json:"after_value"`
}

func (WorkflowTaskHistoryPo) TableName() string {
	return "workflow_task_history"
}

// Pager skip/take 分页, Take 为0的时候默认10条
type Pager struct {
	IsNoLimit *bool `json:"is_no_limit"`
	Skip      int64 `json:"skip" validate:"gte=0"`
	Take      int64 `json:"take" validate:"gte=0"`
}

type QueryWorkflowDefinitionParams struct {
	DefinitionID *int64  `json:"definition_id"`
	IDIn         []int64 `json:"id_in"`
	Name         *string `json:"name"`
	Category     *string `json:"category"`
	Version      *int64  `json:"version"`
	IsActive     *bool   `json:"is_active"`
	IsPublished  *bool   `json:"is_published"`
	OrderbyIDAsc *bool   `json:"orderby_id_asc"`
	Page         *Pager  `json:"page"`
}

type UpdateWorkflowDefinitionParams struct {
	Where  *UpdateWorkflowDefinitionWhere `json:"where" validate:"required"`
	Fields *UpdateWorkflowDefinitionField `json:"field" validate:"required"`
}

type UpdateWorkflowDefinitionWhere struct {
	IDIn        []int64 `json:"id_in"`
	IDNotIn     []int64 `json:"id_not_in"`
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	IsPublished *bool   `json:"is_published"`
}

type UpdateWorkflowDefinitionField struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	IsActive    *bool          `json:"is_active"`
	IsPublished *bool          `json:"is_published"`
	PublishedBy *string        `json:"published_by"`
	PublishedAt *int64         `json:"published_at"`
	Graph       datatypes.JSON `json:"graph"`
	UpdatedAt   *int64         `json:"updated_at"` // 为空的时候取当前时间
}

type QueryWorkflowInstanceParams struct {
	WorkflowInstanceID *int64   `json:"workflow_instance_id"`
	DefinitionID       *int64   `json:"definition_id"`
	DefinitionIDIn     []int64  `json:"definition_id_in"`
	StatusIn           []string `json:"status_in"`
	InitiatedBy        *string  `json:"initiated_by"`
	IDGreaterThan      *int64   `json:"id_greater_than"`
	OrderbyIDAsc       *bool    `json:"orderby_id_asc"`
	Page               *Pager   `json:"page"`
}

type UpdateWorkflowInstanceParams struct {
	Where  *UpdateWorkflowInstanceWhere `json:"where" validate:"required"`
	Fields *UpdateWorkflowInstanceField `json:"field" validate:"required"`
}

type UpdateWorkflowInstanceWhere struct {
	IDIn     []int64  `json:"id_in"`
	StatusIn []string `json:"status_in"`
	Revision *int64   `json:"revision"`
}

type UpdateWorkflowInstanceField struct {
	Status           *string    `json:"status"`
	CurrentNodeID    *string    `json:"current_node_id"`
	Variables        *Variables `json:"variables"`
	CompletedAt      *int64     `json:"completed_at"`
	CompletedBy      *string    `json:"completed_by"`
	CompletionReason *string    `json:"completion_reason"`
	Revision         *int64     `json:"revision"`
	UpdatedAt        *int64     `json:"updated_at"`
}

type QueryWorkflowTaskParams struct {
	WorkflowTaskID *int64   `json:"workflow_task_id"`
	InstanceID     *int64   `json:"instance_id"`
	NodeID         *string  `json:"node_id"`
	AssignedTo     *string  `json:"assigned_to"`
	StatusIn       []string `json:"status_in"`
	IDGreaterThan  *int64   `json:"id_greater_than"`
	OrderbyIDAsc   *bool    `json:"orderby_id_asc"`
	Page           *Pager   `json:"page"`
}

type UpdateWorkflowTaskParams struct {
	Where  *UpdateWorkflowTaskWhere `json:"where" validate:"required"`
	Fields *UpdateWorkflowTaskField `json:"field" validate:"required"`
}

type UpdateWorkflowTaskWhere struct {
	IDIn       []int64  `json:"id_in"`
	InstanceID *int64   `json:"instance_id"`
	StatusIn   []string `json:"status_in"`
}

type UpdateWorkflowTaskField struct {
	Status      *string        `json:"status"`
	AssignedTo  *string        `json:"assigned_to"`
	AssignedBy  *string        `json:"assigned_by"`
	AssignedAt  *int64         `json:"assigned_at"`
	Action      *string        `json:"action"`
	FormData    map[string]any `json:"form_data"`
	Comments    *string        `json:"comments"`
	CompletedBy *string        `json:"completed_by"`
	CompletedAt *int64         `json:"completed_at"`
	UpdatedAt   *int64         `json:"updated_at"`
}

// QueryHistoryParams 三类历史共用, OwnerID 分别对应 definition_id/instance_id/task_id
type QueryHistoryParams struct {
	OwnerID      int64    `json:"owner_id" validate:"required"`
	ActionIn     []string `json:"action_in"`
	OrderbyIDAsc *bool    `json:"orderby_id_asc"`
	Page         *Pager   `json:"page"`
}
