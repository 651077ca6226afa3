package commonregister

import (
	"context"

	"github.com/pkg/errors"

	"github.com/blingmoon/approval-workflow/workflow"
)

// 请假审批: 提交 -> 经理审批 -> 人事审批 -> 结束
// 经理和人事都可以驳回, 驳回回到提交节点重新修改
const LeaveApprovalConfig = `
name: leave_approval
category: hr
description: 请假审批
nodes:
  - id: start
    type: start
    name: 开始
    next_nodes: [submit]
  - id: submit
    type: task
    name: 提交申请
    next_nodes: [manager_review]
  - id: manager_review
    type: task
    name: 经理审批
    assignees: [manager]
    timeout_minutes: 1440
    next_nodes: [hr_review]
  - id: hr_review
    type: task
    name: 人事审批
    assignees: [hr]
    next_nodes: [end]
  - id: end
    type: end
    name: 结束
connections:
  - source: manager_review
    target: submit
    name: reject
  - source: hr_review
    target: submit
    name: 拒绝
`

// RegisterLeaveApprovalDefinition 创建并发布请假审批的定义
// 已经存在同名定义的时候会生成新的版本, 新版本需要 SetActiveVersion 才会生效
func RegisterLeaveApprovalDefinition(ctx context.Context, engine workflow.WorkflowEngine, by string) (*workflow.WorkflowDefinition, error) {
	config, err := workflow.ParseDefinitionConfig([]byte(LeaveApprovalConfig))
	if err != nil {
		return nil, errors.WithMessage(err, "parse leave approval config failed")
	}
	def, err := engine.CreateDefinition(ctx, config.ToCreateDefinitionReq(by))
	if err != nil {
		return nil, errors.WithMessage(err, "create leave approval definition failed")
	}
	def, err = engine.PublishDefinition(ctx, &workflow.PublishDefinitionReq{
		DefinitionID: def.ID,
		PublishedBy:  by,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "publish leave approval definition failed")
	}
	return def, nil
}
