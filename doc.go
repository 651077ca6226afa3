// Package workflow 提供审批类工作流的定义和执行引擎。
//
// 流程定义是一个有版本的有向图(开始/任务/结束节点 + 连线), 发布之后不可修改;
// 流程实例按定义推进, 任务节点生成人工任务, 任务完成(通过/驳回)之后由路由选择下一个节点。
//
// 主要特性：
//   - 定义管理：版本、发布前结构校验、激活版本切换
//   - 实例状态机：运行中、挂起、取消、完成
//   - 路由规则：驳回连线 > 默认连线 > 声明顺序, 带循环保护
//   - 任务管理：改派、认领、开始、完成、撤回、释放
//   - 审计历史：定义、实例、任务三类只追加的历史, 变量变更记录前后值
//   - 数据持久化：基于 GORM, 可使用 MySQL、PostgreSQL、SQLite 等数据库
//   - 并发安全：实例级别的本地锁或 Redis 分布式锁, 加上实例的乐观版本号
//   - 事件通知：事务提交之后发布事件, 可以接入 watermill
//
// 基础使用示例:
//
//	package main
//
//	import (
//	    "context"
//
//	    "github.com/blingmoon/approval-workflow/workflow"
//	    "gorm.io/driver/sqlite"
//	    "gorm.io/gorm"
//	)
//
//	func main() {
//	    ctx := context.Background()
//	    // 1. 初始化数据库
//	    db, _ := gorm.Open(sqlite.Open("workflow.db"), &gorm.Config{})
//	    _ = workflow.AutoMigrate(db)
//
//	    // 2. 创建引擎
//	    engine := workflow.NewWorkflowEngine(workflow.NewWorkflowRepo(db), workflow.NewLocalWorkflowLock())
//
//	    // 3. 定义并发布流程: start -> review -> end
//	    config, _ := workflow.ParseDefinitionConfig([]byte(`
//	name: expense
//	category: finance
//	nodes:
//	  - {id: start, type: start, name: 提交, next_nodes: [review]}
//	  - {id: review, type: task, name: 审核, assignees: [alice], next_nodes: [end]}
//	  - {id: end, type: end, name: 结束}
//	`))
//	    def, _ := engine.CreateDefinition(ctx, config.ToCreateDefinitionReq("admin"))
//	    _, _ = engine.PublishDefinition(ctx, &workflow.PublishDefinitionReq{DefinitionID: def.ID, PublishedBy: "admin"})
//
//	    // 4. 启动实例, 返回时已经生成了 review 任务
//	    instance, _ := engine.StartWorkflow(ctx, &workflow.StartWorkflowReq{
//	        DefinitionID: def.ID, Title: "报销单 001", InitiatedBy: "bob",
//	    })
//
//	    // 5. 处理人完成任务, 实例到达结束节点
//	    _, _ = engine.CompleteTask(ctx, &workflow.CompleteTaskReq{
//	        TaskID: instance.Tasks[0].ID, CompletedBy: "alice", Action: workflow.TaskActionApprove,
//	    })
//	}
//
// 错误分类：
//
// 所有错误都可以通过 workflow.IsNotFound / IsInvalidState / IsValidationFailed /
// IsNotImplemented / IsConcurrentModification / IsParamInvalid 判断类别,
// 校验失败的完整错误列表通过 errors.As 取 *workflow.DefinitionInvalidError。
package workflow
