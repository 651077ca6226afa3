package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
)

// definitionGraph 定义里面节点和连线的存储格式
type definitionGraph struct {
	Nodes       []*WorkflowNode       `json:"nodes"`
	Connections []*WorkflowConnection `json:"connections"`
}

func unixToTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func unixToTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}

func timePtrToUnix(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func mapToJSON(m map[string]any) datatypes.JSON {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		slog.Error(fmt.Sprintf("mapToJSON marshal failed, err: %v", err))
		return nil
	}
	return datatypes.JSON(b)
}

func jsonToMap(b datatypes.JSON) map[string]any {
	if len(b) == 0 {
		return nil
	}
	m := make(map[string]any)
	if err := json.Unmarshal(b, &m); err != nil {
		slog.Error(fmt.Sprintf("jsonToMap unmarshal failed, raw: %s, err: %v", string(b), err))
		return nil
	}
	return m
}

func encodeGraph(nodes []*WorkflowNode, connections []*WorkflowConnection) (datatypes.JSON, error) {
	graph := definitionGraph{Nodes: nodes, Connections: connections}
	if graph.Nodes == nil {
		graph.Nodes = []*WorkflowNode{}
	}
	if graph.Connections == nil {
		graph.Connections = []*WorkflowConnection{}
	}
	b, err := json.Marshal(graph)
	if err != nil {
		return nil, errors.WithMessage(err, "marshal definition graph failed")
	}
	return datatypes.JSON(b), nil
}

func definitionPoToEntity(po *WorkflowDefinitionPo) (*WorkflowDefinition, error) {
	graph := definitionGraph{}
	if len(po.Graph) > 0 {
		if err := json.Unmarshal(po.Graph, &graph); err != nil {
			return nil, errors.WithMessagef(err, "unmarshal definition graph failed, definitionID: %d", po.ID)
		}
	}
	return &WorkflowDefinition{
		ID:          po.ID,
		Name:        po.Name,
		Category:    po.Category,
		Description: po.Description,
		Version:     po.Version,
		IsActive:    po.IsActive,
		IsPublished: po.IsPublished,
		PublishedBy: po.PublishedBy,
		PublishedAt: unixToTimePtr(po.PublishedAt),
		CreatedBy:   po.CreatedBy,
		CreatedAt:   unixToTime(po.CreatedAt),
		UpdatedAt:   unixToTime(po.UpdatedAt),
		Nodes:       graph.Nodes,
		Connections: graph.Connections,
	}, nil
}

// cloneGraph 新版本需要深拷贝, 不能和原定义共享节点
func cloneGraph(def *WorkflowDefinition) ([]*WorkflowNode, []*WorkflowConnection) {
	nodes := make([]*WorkflowNode, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		copied := *n
		copied.Assignment.Assignees = append([]string(nil), n.Assignment.Assignees...)
		nodes = append(nodes, &copied)
	}
	connections := make([]*WorkflowConnection, 0, len(def.Connections))
	for _, c := range def.Connections {
		copied := *c
		connections = append(connections, &copied)
	}
	return nodes, connections
}

func instancePoToEntity(po *WorkflowInstancePo) *WorkflowInstance {
	return &WorkflowInstance{
		ID:                po.ID,
		DefinitionID:      po.DefinitionID,
		DefinitionVersion: po.DefinitionVersion,
		Title:             po.Title,
		Status:            po.Status,
		CurrentNodeID:     po.CurrentNodeID,
		Variables:         NewVariables(po.Variables),
		InitiatedBy:       po.InitiatedBy,
		InitiatedAt:       unixToTime(po.InitiatedAt),
		CompletedAt:       unixToTimePtr(po.CompletedAt),
		CompletedBy:       po.CompletedBy,
		CompletionReason:  po.CompletionReason,
		Revision:          po.Revision,
		CreatedAt:         unixToTime(po.CreatedAt),
		UpdatedAt:         unixToTime(po.UpdatedAt),
	}
}

func taskPoToEntity(po *WorkflowTaskPo) *WorkflowTask {
	return &WorkflowTask{
		ID:          po.ID,
		InstanceID:  po.InstanceID,
		NodeID:      po.NodeID,
		Name:        po.Name,
		Status:      po.Status,
		AssignedTo:  po.AssignedTo,
		AssignedBy:  po.AssignedBy,
		AssignedAt:  unixToTime(po.AssignedAt),
		DueDate:     unixToTimePtr(po.DueDate),
		Action:      po.Action,
		FormData:    jsonToMap(po.FormData),
		Comments:    po.Comments,
		CompletedBy: po.CompletedBy,
		CompletedAt: unixToTimePtr(po.CompletedAt),
		CreatedAt:   unixToTime(po.CreatedAt),
		UpdatedAt:   unixToTime(po.UpdatedAt),
	}
}

func definitionHistoryPoToEntity(po *WorkflowDefinitionHistoryPo) *DefinitionHistory {
	return &DefinitionHistory{
		ID:           po.ID,
		DefinitionID: po.DefinitionID,
		Action:       po.Action,
		PerformedBy:  po.PerformedBy,
		Timestamp:    unixToTime(po.Timestamp),
		Description:  po.Description,
		BeforeValue:  jsonToMap(po.BeforeValue),
		AfterValue:   jsonToMap(po.AfterValue),
	}
}

func instanceHistoryPoToEntity(po *WorkflowInstanceHistoryPo) *InstanceHistory {
	return &InstanceHistory{
		ID:          po.ID,
		InstanceID:  po.InstanceID,
		NodeID:      po.NodeID,
		Action:      po.Action,
		PerformedBy: po.PerformedBy,
		Timestamp:   unixToTime(po.Timestamp),
		Description: po.Description,
		BeforeValue: jsonToMap(po.BeforeValue),
		AfterValue:  jsonToMap(po.AfterValue),
	}
}

func taskHistoryPoToEntity(po *WorkflowTaskHistoryPo) *TaskHistory {
	return &TaskHistory{
		ID:          po.ID,
		TaskID:      po.TaskID,
		InstanceID:  po.InstanceID,
		Action:      po.Action,
		PerformedBy: po.PerformedBy,
		Timestamp:   unixToTime(po.Timestamp),
		Description: po.Description,
		BeforeValue: jsonToMap(po.BeforeValue),
		AfterValue:  jsonToMap(po.AfterValue),
	}
}
