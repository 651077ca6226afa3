package workflow

import "time"

// 辅助函数
func String(s string) *string { return &s }
func Bool(b bool) *bool       { return &b }
func Int64(i int64) *int64    { return &i }

// WorkflowDefinition 流程定义entity, 节点和连线属于定义本身, 没有独立的身份
type WorkflowDefinition struct {
	ID          int64
	Name        string
	Category    string
	Description string
	Version     int64
	IsActive    bool
	IsPublished bool
	PublishedBy string
	PublishedAt *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Nodes       []*WorkflowNode
	Connections []*WorkflowConnection
}

// WorkflowNode 流程节点
type WorkflowNode struct {
	ID             string         `json:"id" yaml:"id"`
	Type           NodeType       `json:"type" yaml:"type"`
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description,omitempty" yaml:"description,omitempty"`
	Assignment     NodeAssignment `json:"assignment" yaml:"assignment"`
	TimeoutMinutes int64          `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`
}

// NodeAssignment 候选处理人, 第一个是默认处理人
type NodeAssignment struct {
	Assignees []string `json:"assignees,omitempty" yaml:"assignees,omitempty"`
}

// WorkflowConnection 有向连线, Name 用作语义标记(例如 reject/拒绝)
type WorkflowConnection struct {
	ID           string `json:"id" yaml:"id"`
	SourceNodeID string `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID string `json:"target_node_id" yaml:"target_node_id"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	IsDefault    bool   `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// FindNode 按ID查找节点
func (d *WorkflowDefinition) FindNode(nodeID string) *WorkflowNode {
	for _, node := range d.Nodes {
		if node.ID == nodeID {
			return node
		}
	}
	return nil
}

// StartNode 返回第一个开始节点, 校验通过的定义只会有一个
func (d *WorkflowDefinition) StartNode() *WorkflowNode {
	for _, node := range d.Nodes {
		if node.Type == NodeTypeStart {
			return node
		}
	}
	return nil
}

// OutgoingConnections 按声明顺序返回节点的出边
func (d *WorkflowDefinition) OutgoingConnections(nodeID string) []*WorkflowConnection {
	ret := make([]*WorkflowConnection, 0)
	for _, conn := range d.Connections {
		if conn.SourceNodeID == nodeID {
			ret = append(ret, conn)
		}
	}
	return ret
}

// NodeKind 节点类型的和类型, 路由按具体类型穷举处理
type NodeKind interface {
	nodeKind()
}

type StartKind struct{}

type TaskKind struct {
	Assignees []string
	Timeout   time.Duration
}

type EndKind struct{}

// UnsupportedKind 未知的节点类型, 路由遇到直接报错
type UnsupportedKind struct {
	Type string
}

func (StartKind) nodeKind()       {}
func (TaskKind) nodeKind()        {}
func (EndKind) nodeKind()         {}
func (UnsupportedKind) nodeKind() {}

func (n *WorkflowNode) Kind() NodeKind {
	switch n.Type {
	case NodeTypeStart:
		return StartKind{}
	case NodeTypeTask:
		return TaskKind{
			Assignees: n.Assignment.Assignees,
			Timeout:   time.Duration(n.TimeoutMinutes) * time.Minute,
		}
	case NodeTypeEnd:
		return EndKind{}
	}
	return UnsupportedKind{Type: n.Type}
}

// WorkflowInstance 流程实例entity
type WorkflowInstance struct {
	ID                int64
	DefinitionID      int64
	DefinitionVersion int64
	Title             string
	Status            WorkflowInstanceStatus
	CurrentNodeID     string
	Variables         *Variables
	InitiatedBy       string
	InitiatedAt       time.Time
	CompletedAt       *time.Time
	CompletedBy       string
	CompletionReason  string
	Revision          int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// 只有查询详情的时候才会填充
	Tasks   []*WorkflowTask
	History []*InstanceHistory
}

// WorkflowTask 人工任务, 绑定在 (InstanceID, NodeID) 上
type WorkflowTask struct {
	ID          int64
	InstanceID  int64
	NodeID      string
	Name        string
	Status      WorkflowTaskStatus
	AssignedTo  string
	AssignedBy  string
	AssignedAt  time.Time
	DueDate     *time.Time
	Action      TaskAction
	FormData    map[string]any
	Comments    string
	CompletedBy string
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	History     []*TaskHistory
}

// DefinitionHistory 定义的历史, 只追加
type DefinitionHistory struct {
	ID           int64
	DefinitionID int64
	Action       HistoryAction
	PerformedBy  string
	Timestamp    time.Time
	Description  string
	BeforeValue  map[string]any
	AfterValue   map[string]any
}

// InstanceHistory 实例的历史, 只追加
type InstanceHistory struct {
	ID          int64
	InstanceID  int64
	NodeID      string
	Action      HistoryAction
	PerformedBy string
	Timestamp   time.Time
	Description string
	BeforeValue map[string]any
	AfterValue  map[string]any
}

// TaskHistory 任务的历史, 只追加
type TaskHistory struct {
	ID          int64
	TaskID      int64
	InstanceID  int64
	Action      HistoryAction
	PerformedBy string
	Timestamp   time.Time
	Description string
	BeforeValue map[string]any
	AfterValue  map[string]any
}
