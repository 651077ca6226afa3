package workflow

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepo(t *testing.T) {
	ctx := context.Background()
	repo := NewWorkflowRepo(setupTestDB(t))

	t.Run("定义的增删改查", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			_, err := repo.CreateWorkflowDefinition(ctx, &WorkflowDefinitionPo{
				Name: "leave", Category: "hr", Version: i, IsActive: i == 1, Graph: []byte(`{}`),
			})
			require.NoError(t, err)
		}
		count, err := repo.CountWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{Name: String("leave")})
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		pos, err := repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
			Name:         String("leave"),
			OrderbyIDAsc: Bool(false),
			Page:         &Pager{Take: 2},
		})
		require.NoError(t, err)
		require.Len(t, pos, 2)
		assert.Equal(t, int64(3), pos[0].Version)
		assert.NotZero(t, pos[0].CreatedAt)

		_, err = repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{})
		assert.Error(t, err, "page 不能为空")

		affected, err := repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
			Where:  &UpdateWorkflowDefinitionWhere{Name: String("leave"), Category: String("hr"), IDNotIn: []int64{pos[0].ID}},
			Fields: &UpdateWorkflowDefinitionField{IsActive: Bool(false)},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), affected)

		_, err = repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
			Where:  &UpdateWorkflowDefinitionWhere{IDNotIn: []int64{1}},
			Fields: &UpdateWorkflowDefinitionField{IsActive: Bool(false)},
		})
		assert.Error(t, err, "没有where条件不允许更新")

		require.NoError(t, repo.DeleteWorkflowDefinition(ctx, pos[0].ID))
		err = repo.DeleteWorkflowDefinition(ctx, pos[0].ID)
		assert.True(t, errors.Is(err, ErrWorkflowDefinitionNotFound))
	})

	t.Run("实例乐观锁", func(t *testing.T) {
		po, err := repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{
			DefinitionID: 1, Title: "t", Status: WorkflowInstanceStatusRunning, Variables: []byte(`{}`),
		})
		require.NoError(t, err)
		update := func(revision int64) int64 {
			affected, err := repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
				Where:  &UpdateWorkflowInstanceWhere{IDIn: []int64{po.ID}, Revision: Int64(revision)},
				Fields: &UpdateWorkflowInstanceField{Revision: Int64(revision + 1), CurrentNodeID: String("review")},
			})
			require.NoError(t, err)
			return affected
		}
		assert.Equal(t, int64(1), update(0))
		assert.Equal(t, int64(0), update(0))
		assert.Equal(t, int64(1), update(1))
	})

	t.Run("任务按状态条件更新", func(t *testing.T) {
		po, err := repo.CreateWorkflowTask(ctx, &WorkflowTaskPo{InstanceID: 1, NodeID: "review", Status: WorkflowTaskStatusPending})
		require.NoError(t, err)
		affected, err := repo.UpdateWorkflowTask(ctx, &UpdateWorkflowTaskParams{
			Where:  &UpdateWorkflowTaskWhere{IDIn: []int64{po.ID}, StatusIn: []string{WorkflowTaskStatusInProgress}},
			Fields: &UpdateWorkflowTaskField{Status: String(WorkflowTaskStatusCompleted)},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), affected)

		affected, err = repo.UpdateWorkflowTask(ctx, &UpdateWorkflowTaskParams{
			Where: &UpdateWorkflowTaskWhere{IDIn: []int64{po.ID}, StatusIn: []string{WorkflowTaskStatusPending}},
			Fields: &UpdateWorkflowTaskField{
				Status:   String(WorkflowTaskStatusCompleted),
				FormData: map[string]any{"approved": true},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		pos, err := repo.QueryWorkflowTask(ctx, &QueryWorkflowTaskParams{WorkflowTaskID: &po.ID, Page: &Pager{}})
		require.NoError(t, err)
		require.Len(t, pos, 1)
		assert.JSONEq(t, `{"approved":true}`, string(pos[0].FormData))
	})

	t.Run("历史按插入顺序返回", func(t *testing.T) {
		require.NoError(t, repo.AppendInstanceHistory(ctx, []*WorkflowInstanceHistoryPo{
			{InstanceID: 9, Action: InstanceHistoryStarted},
			{InstanceID: 9, Action: InstanceHistoryNodeEntered, NodeID: "start"},
			{InstanceID: 10, Action: InstanceHistoryStarted},
		}))
		require.NoError(t, repo.AppendInstanceHistory(ctx, nil))
		pos, err := repo.QueryInstanceHistory(ctx, &QueryHistoryParams{OwnerID: 9, Page: noLimitPage()})
		require.NoError(t, err)
		require.Len(t, pos, 2)
		assert.Equal(t, InstanceHistoryStarted, pos[0].Action)
		assert.Equal(t, InstanceHistoryNodeEntered, pos[1].Action)

		pos, err = repo.QueryInstanceHistory(ctx, &QueryHistoryParams{
			OwnerID: 9, ActionIn: []string{InstanceHistoryNodeEntered}, Page: noLimitPage(),
		})
		require.NoError(t, err)
		require.Len(t, pos, 1)
		assert.Equal(t, "start", pos[0].NodeID)
	})

	t.Run("事务回滚", func(t *testing.T) {
		err := repo.Transaction(ctx, func(ctx context.Context) error {
			if _, err := repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{Title: "rollback", Status: WorkflowInstanceStatusRunning}); err != nil {
				return err
			}
			// 嵌套的事务复用外层
			return repo.Transaction(ctx, func(ctx context.Context) error {
				return errors.New("boom")
			})
		})
		require.Error(t, err)
		count, err := repo.CountWorkflowInstance(ctx, &QueryWorkflowInstanceParams{StatusIn: []string{WorkflowInstanceStatusRunning}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("分页参数不被修改", func(t *testing.T) {
		page := &Pager{}
		pos, err := repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{Name: String("leave"), Page: page})
		require.NoError(t, err)
		assert.NotEmpty(t, pos)
		assert.Equal(t, int64(0), page.Take)
		again, err := repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{Name: String("leave"), Page: page})
		require.NoError(t, err)
		assert.Len(t, again, len(pos))
		assert.Equal(t, int64(0), page.Take)

		_, err = repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{Page: &Pager{Take: -1}})
		require.Error(t, err)
	})

	t.Run("显式指定更新时间", func(t *testing.T) {
		po, err := repo.CreateWorkflowInstance(ctx, &WorkflowInstancePo{Title: "updated_at", Status: WorkflowInstanceStatusRunning})
		require.NoError(t, err)
		affected, err := repo.UpdateWorkflowInstance(ctx, &UpdateWorkflowInstanceParams{
			Where:  &UpdateWorkflowInstanceWhere{IDIn: []int64{po.ID}},
			Fields: &UpdateWorkflowInstanceField{CurrentNodeID: String("review"), UpdatedAt: Int64(1700000000)},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)
		pos, err := repo.QueryWorkflowInstance(ctx, &QueryWorkflowInstanceParams{WorkflowInstanceID: &po.ID, Page: &Pager{Take: 1}})
		require.NoError(t, err)
		require.Len(t, pos, 1)
		assert.Equal(t, int64(1700000000), pos[0].UpdatedAt)
		assert.Equal(t, "review", pos[0].CurrentNodeID)
	})
}
