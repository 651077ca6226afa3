package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// IsRejectConnection 连线名称包含 reject 或者 拒绝 (不区分大小写) 的是驳回连线
func IsRejectConnection(conn *WorkflowConnection) bool {
	name := strings.ToLower(conn.Name)
	return strings.Contains(name, "reject") || strings.Contains(name, "拒绝")
}

// SelectNextConnection 从候选出边里面选下一条连线
// 优先级: 驳回动作匹配驳回连线 > 默认连线 > 声明顺序的第一条, 没有候选返回nil
func SelectNextConnection(candidates []*WorkflowConnection, action TaskAction) *WorkflowConnection {
	if len(candidates) == 0 {
		return nil
	}
	if action == TaskActionReject {
		for _, conn := range candidates {
			if IsRejectConnection(conn) {
				return conn
			}
		}
	}
	for _, conn := range candidates {
		if conn.IsDefault {
			return conn
		}
	}
	return candidates[0]
}

// routeContext 一次推进的上下文, 实例在内存里修改, 最后由调用方统一保存
type routeContext struct {
	definition  *WorkflowDefinition
	instance    *WorkflowInstance
	uow         *unitOfWork
	performedBy string
	hops        int
	createdTask *WorkflowTask
}

// processNextNode 任务完成之后按动作选出边并进入下一个节点
func (s *WorkflowEngineImpl) processNextNode(ctx context.Context, rc *routeContext, currentNodeID string, action TaskAction) error {
	conn := SelectNextConnection(rc.definition.OutgoingConnections(currentNodeID), action)
	if conn == nil {
		return errors.WithMessagef(ErrNoOutgoingConnection, "instanceID: %d, nodeID: %s", rc.instance.ID, currentNodeID)
	}
	return s.enterNode(ctx, rc, conn.TargetNodeID)
}

// enterNode 进入节点, 开始节点直接穿过, 任务节点生成任务后停下, 结束节点完成实例
func (s *WorkflowEngineImpl) enterNode(ctx context.Context, rc *routeContext, nodeID string) error {
	for {
		rc.hops++
		if rc.hops > s.opts.MaxRouteHops {
			return errors.WithMessagef(ErrRouteHopLimitExceeded, "instanceID: %d, maxHops: %d, nodeID: %s",
				rc.instance.ID, s.opts.MaxRouteHops, nodeID)
		}
		node := rc.definition.FindNode(nodeID)
		if node == nil {
			return errors.WithMessagef(ErrWorkflowNodeNotFound, "definitionID: %d, nodeID: %s", rc.definition.ID, nodeID)
		}
		before := rc.instance.CurrentNodeID
		rc.instance.CurrentNodeID = node.ID
		rc.uow.addInstanceHistory(rc.instance, node.ID, InstanceHistoryNodeEntered, historyEntry{
			PerformedBy: rc.performedBy,
			Description: fmt.Sprintf("entered node %s", node.Name),
			BeforeValue: map[string]any{"current_node_id": before},
			AfterValue:  map[string]any{"current_node_id": node.ID, "node_type": node.Type},
		})

		switch kind := node.Kind().(type) {
		case StartKind:
			conn := SelectNextConnection(rc.definition.OutgoingConnections(node.ID), "")
			if conn == nil {
				return errors.WithMessagef(ErrNoOutgoingConnection, "instanceID: %d, start node: %s", rc.instance.ID, node.ID)
			}
			nodeID = conn.TargetNodeID
		case TaskKind:
			return s.createNodeTask(ctx, rc, node, kind)
		case EndKind:
			s.completeInstance(rc)
			return nil
		case UnsupportedKind:
			return errors.WithMessagef(ErrUnsupportedNodeType, "nodeID: %s, type: %s", node.ID, kind.Type)
		default:
			return errors.WithMessagef(ErrUnsupportedNodeType, "nodeID: %s, type: %s", node.ID, node.Type)
		}
	}
}

func (s *WorkflowEngineImpl) createNodeTask(ctx context.Context, rc *routeContext, node *WorkflowNode, kind TaskKind) error {
	now := rc.uow.now
	assignee := s.opts.DefaultAssignee
	if len(kind.Assignees) > 0 && kind.Assignees[0] != "" {
		assignee = kind.Assignees[0]
	}
	po := &WorkflowTaskPo{
		InstanceID: rc.instance.ID,
		NodeID:     node.ID,
		Name:       node.Name,
		Status:     WorkflowTaskStatusPending,
		AssignedTo: assignee,
		AssignedBy: rc.performedBy,
		AssignedAt: now.Unix(),
		CreatedAt:  now.Unix(),
		UpdatedAt:  now.Unix(),
	}
	if kind.Timeout > 0 {
		po.DueDate = now.Add(kind.Timeout).Unix()
	}
	po, err := s.repo.CreateWorkflowTask(ctx, po)
	if err != nil {
		return errors.WithMessagef(err, "CreateWorkflowTask failed, instanceID: %d, nodeID: %s", rc.instance.ID, node.ID)
	}
	task := taskPoToEntity(po)
	rc.createdTask = task
	after := map[string]any{"status": task.Status, "assigned_to": task.AssignedTo}
	if task.DueDate != nil {
		after["due_date"] = task.DueDate.Unix()
	}
	rc.uow.addTaskHistory(task, TaskHistoryCreated, historyEntry{
		PerformedBy: rc.performedBy,
		Description: fmt.Sprintf("task %s created for node %s", task.Name, node.ID),
		AfterValue:  after,
	})
	rc.uow.onCommit(func() {
		s.opts.Metrics.taskCreated(node.ID)
	})
	return nil
}

func (s *WorkflowEngineImpl) completeInstance(rc *routeContext) {
	now := rc.uow.now
	before := rc.instance.Status
	rc.instance.Status = WorkflowInstanceStatusCompleted
	rc.instance.CompletedAt = &now
	rc.instance.CompletedBy = rc.performedBy
	rc.instance.CompletionReason = "reached end node " + rc.instance.CurrentNodeID
	rc.uow.addInstanceHistory(rc.instance, rc.instance.CurrentNodeID, InstanceHistoryCompleted, historyEntry{
		PerformedBy: rc.performedBy,
		Description: "workflow completed",
		BeforeValue: map[string]any{"status": before},
		AfterValue:  map[string]any{"status": rc.instance.Status},
	})
	rc.uow.onCommit(func() {
		s.opts.Metrics.instanceFinished(WorkflowInstanceStatusCompleted)
	})
}
