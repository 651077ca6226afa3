package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type workflowRepo struct {
	db *gorm.DB
}

func NewWorkflowRepo(db *gorm.DB) WorkflowRepo {
	return &workflowRepo{
		db: db,
	}
}

// AutoMigrate 建表, 测试和示例里面使用, 生产环境建议自己管理DDL
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&WorkflowDefinitionPo{},
		&WorkflowInstancePo{},
		&WorkflowTaskPo{},
		&WorkflowDefinitionHistoryPo{},
		&WorkflowInstanceHistoryPo{},
		&WorkflowTaskHistoryPo{},
	)
	if err != nil {
		return errors.WithMessage(err, "AutoMigrate failed")
	}
	return nil
}

const defaultPageTake = 10

// applyPager 不修改调用方的 page
func applyPager(db *gorm.DB, page *Pager) (*gorm.DB, error) {
	if page == nil {
		return nil, errors.New("page is nil")
	}
	if page.IsNoLimit != nil && *page.IsNoLimit {
		// 不分页显示指定了true
		return db, nil
	}
	if page.Skip < 0 || page.Take < 0 {
		return nil, errors.Errorf("invalid page, skip: %d, take: %d", page.Skip, page.Take)
	}
	take := page.Take
	if take == 0 {
		take = defaultPageTake
	}
	return db.Offset(int(page.Skip)).Limit(int(take)), nil
}

func applyOrder(db *gorm.DB, orderbyIDAsc *bool) *gorm.DB {
	// 默认按id正序, 历史和任务的展示都依赖插入顺序
	if orderbyIDAsc != nil && !*orderbyIDAsc {
		return db.Order("id desc")
	}
	return db.Order("id asc")
}

func int64Value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func nowUnix(ts int64) int64 {
	if ts != 0 {
		return ts
	}
	return time.Now().Unix()
}

func (r *workflowRepo) CreateWorkflowDefinition(ctx context.Context, definition *WorkflowDefinitionPo) (*WorkflowDefinitionPo, error) {
	if definition == nil {
		return nil, errors.New("nil WorkflowDefinitionPo")
	}
	definition.CreatedAt = nowUnix(definition.CreatedAt)
	definition.UpdatedAt = nowUnix(definition.UpdatedAt)
	if err := r.GetDBWithContext(ctx).Create(definition).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowDefinition failed")
	}
	return definition, nil
}

func buildQueryWorkflowDefinitionParams(db *gorm.DB, isCount bool, param *QueryWorkflowDefinitionParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowDefinitionParams")
	}
	if param.DefinitionID != nil {
		db = db.Where("id = ?", *param.DefinitionID)
	}
	if len(param.IDIn) != 0 {
		db = db.Where("id IN ?", param.IDIn)
	}
	if param.Name != nil {
		db = db.Where("name = ?", *param.Name)
	}
	if param.Category != nil {
		db = db.Where("category = ?", *param.Category)
	}
	if param.Version != nil {
		db = db.Where("version = ?", *param.Version)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", *param.IsActive)
	}
	if param.IsPublished != nil {
		db = db.Where("is_published = ?", *param.IsPublished)
	}
	if isCount {
		return db, nil
	}
	return applyPager(applyOrder(db, param.OrderbyIDAsc), param.Page)
}

func (r *workflowRepo) QueryWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) ([]*WorkflowDefinitionPo, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildQueryWorkflowDefinitionParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowDefinitionParams failed")
	}
	pos := make([]*WorkflowDefinitionPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowDefinition failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountWorkflowDefinition(ctx context.Context, param *QueryWorkflowDefinitionParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildQueryWorkflowDefinitionParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowDefinitionParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountWorkflowDefinition failed")
	}
	return count, nil
}

func buildUpdateWorkflowDefinitionParams(db *gorm.DB, param *UpdateWorkflowDefinitionParams) (*gorm.DB, error) {
	isHasWhere := false
	if param == nil {
		return nil, errors.New("nil UpdateWorkflowDefinitionParams")
	}
	if param.Where == nil {
		return nil, errors.New("where is nil")
	}
	if param.Fields == nil {
		return nil, errors.New("fields is nil")
	}
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if param.Where.Name != nil {
		isHasWhere = true
		db = db.Where("name = ?", *param.Where.Name)
	}
	if param.Where.Category != nil {
		isHasWhere = true
		db = db.Where("category = ?", *param.Where.Category)
	}
	if len(param.Where.IDNotIn) > 0 {
		db = db.Where("id NOT IN ?", param.Where.IDNotIn)
	}
	if param.Where.IsPublished != nil {
		db = db.Where("is_published = ?", *param.Where.IsPublished)
	}
	if !isHasWhere {
		return db, errors.Errorf("update workflow definition need where condition, please check, params is %+v", param.Where)
	}
	return db, nil
}

func buildUpdateWorkflowDefinitionFields(fields *UpdateWorkflowDefinitionField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.Name != nil {
		updateFields["name"] = *fields.Name
	}
	if fields.Description != nil {
		updateFields["description"] = *fields.Description
	}
	if fields.IsActive != nil {
		updateFields["is_active"] = *fields.IsActive
	}
	if fields.IsPublished != nil {
		updateFields["is_published"] = *fields.IsPublished
	}
	if fields.PublishedBy != nil {
		updateFields["published_by"] = *fields.PublishedBy
	}
	if fields.PublishedAt != nil {
		updateFields["published_at"] = *fields.PublishedAt
	}
	if fields.Graph != nil {
		updateFields["graph"] = fields.Graph
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = nowUnix(int64Value(fields.UpdatedAt))
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowDefinition(ctx context.Context, param *UpdateWorkflowDefinitionParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowDefinitionPo{})
	db, err := buildUpdateWorkflowDefinitionParams(db, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowDefinitionParams failed")
	}
	updateFields, err := buildUpdateWorkflowDefinitionFields(param.Fields)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowDefinitionFields failed")
	}
	result := db.Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateWorkflowDefinition failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) DeleteWorkflowDefinition(ctx context.Context, definitionID int64) error {
	result := r.GetDBWithContext(ctx).Where("id = ?", definitionID).Delete(&WorkflowDefinitionPo{})
	if result.Error != nil {
		return errors.WithMessagef(result.Error, "DeleteWorkflowDefinition failed, definitionID: %d", definitionID)
	}
	if result.RowsAffected == 0 {
		return errors.WithMessagef(ErrWorkflowDefinitionNotFound, "definitionID: %d", definitionID)
	}
	return nil
}

func (r *workflowRepo) CreateWorkflowInstance(ctx context.Context, workflowInstance *WorkflowInstancePo) (*WorkflowInstancePo, error) {
	if workflowInstance == nil {
		return nil, errors.New("nil WorkflowInstancePo")
	}
	workflowInstance.CreatedAt = nowUnix(workflowInstance.CreatedAt)
	workflowInstance.UpdatedAt = nowUnix(workflowInstance.UpdatedAt)
	if err := r.GetDBWithContext(ctx).Create(workflowInstance).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowInstance failed")
	}
	return workflowInstance, nil
}

func buildQueryWorkflowInstanceParams(db *gorm.DB, isCount bool, param *QueryWorkflowInstanceParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowInstanceParams")
	}
	if param.WorkflowInstanceID != nil {
		db = db.Where("id = ?", *param.WorkflowInstanceID)
	}
	if param.DefinitionID != nil {
		db = db.Where("definition_id = ?", *param.DefinitionID)
	}
	if len(param.DefinitionIDIn) != 0 {
		db = db.Where("definition_id IN ?", param.DefinitionIDIn)
	}
	if len(param.StatusIn) != 0 {
		db = db.Where("status IN ?", param.StatusIn)
	}
	if param.InitiatedBy != nil {
		db = db.Where("initiated_by = ?", *param.InitiatedBy)
	}
	if param.IDGreaterThan != nil {
		db = db.Where("id > ?", *param.IDGreaterThan)
	}
	if isCount {
		return db, nil
	}
	return applyPager(applyOrder(db, param.OrderbyIDAsc), param.Page)
}

func (r *workflowRepo) QueryWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowInstanceParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowInstanceParams failed")
	}
	pos := make([]*WorkflowInstancePo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowInstance failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountWorkflowInstance(ctx context.Context, param *QueryWorkflowInstanceParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildQueryWorkflowInstanceParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowInstanceParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountWorkflowInstance failed")
	}
	return count, nil
}

func buildUpdateWorkflowInstanceParams(db *gorm.DB, param *UpdateWorkflowInstanceParams) (*gorm.DB, error) {
	isHasWhere := false
	if param == nil {
		return nil, errors.New("nil UpdateWorkflowInstanceParams")
	}
	if param.Where == nil {
		return nil, errors.New("where is nil")
	}
	if param.Fields == nil {
		return nil, errors.New("fields is nil")
	}
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if len(param.Where.StatusIn) > 0 {
		isHasWhere = true
		db = db.Where("status IN ?", param.Where.StatusIn)
	}
	if param.Where.Revision != nil {
		db = db.Where("revision = ?", *param.Where.Revision)
	}
	if !isHasWhere {
		return db, errors.Errorf("update workflow instance need where condition, please check, params is %+v", param.Where)
	}
	return db, nil
}

func buildUpdateWorkflowInstanceFields(fields *UpdateWorkflowInstanceField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.Status != nil {
		updateFields["status"] = *fields.Status
	}
	if fields.CurrentNodeID != nil {
		updateFields["current_node_id"] = *fields.CurrentNodeID
	}
	if fields.Variables != nil {
		jsonData, err := fields.Variables.ToBytes()
		if err != nil {
			return nil, errors.WithMessage(err, "Marshal fields.Variables failed")
		}
		updateFields["variables"] = datatypes.JSON(jsonData)
	}
	if fields.CompletedAt != nil {
		updateFields["completed_at"] = *fields.CompletedAt
	}
	if fields.CompletedBy != nil {
		updateFields["completed_by"] = *fields.CompletedBy
	}
	if fields.CompletionReason != nil {
		updateFields["completion_reason"] = *fields.CompletionReason
	}
	if fields.Revision != nil {
		updateFields["revision"] = *fields.Revision
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = nowUnix(int64Value(fields.UpdatedAt))
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowInstance(ctx context.Context, param *UpdateWorkflowInstanceParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowInstancePo{})
	db, err := buildUpdateWorkflowInstanceParams(db, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowInstanceParams failed")
	}
	updateFields, err := buildUpdateWorkflowInstanceFields(param.Fields)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowInstanceFields failed")
	}
	result := db.Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateWorkflowInstance failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) CreateWorkflowTask(ctx context.Context, task *WorkflowTaskPo) (*WorkflowTaskPo, error) {
	if task == nil {
		return nil, errors.New("nil WorkflowTaskPo")
	}
	task.CreatedAt = nowUnix(task.CreatedAt)
	task.UpdatedAt = nowUnix(task.UpdatedAt)
	if err := r.GetDBWithContext(ctx).Create(task).Error; err != nil {
		return nil, errors.WithMessage(err, "CreateWorkflowTask failed")
	}
	return task, nil
}

func buildQueryWorkflowTaskParams(db *gorm.DB, isCount bool, param *QueryWorkflowTaskParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryWorkflowTaskParams")
	}
	if param.WorkflowTaskID != nil {
		db = db.Where("id = ?", *param.WorkflowTaskID)
	}
	if param.InstanceID != nil {
		db = db.Where("instance_id = ?", *param.InstanceID)
	}
	if param.NodeID != nil {
		db = db.Where("node_id = ?", *param.NodeID)
	}
	if param.AssignedTo != nil {
		db = db.Where("assigned_to = ?", *param.AssignedTo)
	}
	if len(param.StatusIn) != 0 {
		db = db.Where("status IN ?", param.StatusIn)
	}
	if param.IDGreaterThan != nil {
		db = db.Where("id > ?", *param.IDGreaterThan)
	}
	if isCount {
		return db, nil
	}
	return applyPager(applyOrder(db, param.OrderbyIDAsc), param.Page)
}

func (r *workflowRepo) QueryWorkflowTask(ctx context.Context, param *QueryWorkflowTaskParams) ([]*WorkflowTaskPo, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowTaskPo{})
	db, err := buildQueryWorkflowTaskParams(db, false, param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryWorkflowTaskParams failed")
	}
	pos := make([]*WorkflowTaskPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowTask failed")
	}
	return pos, nil
}

func (r *workflowRepo) CountWorkflowTask(ctx context.Context, param *QueryWorkflowTaskParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowTaskPo{})
	db, err := buildQueryWorkflowTaskParams(db, true, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildQueryWorkflowTaskParams failed")
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, errors.WithMessage(err, "CountWorkflowTask failed")
	}
	return count, nil
}

func buildUpdateWorkflowTaskParams(db *gorm.DB, param *UpdateWorkflowTaskParams) (*gorm.DB, error) {
	isHasWhere := false
	if param == nil {
		return nil, errors.New("nil UpdateWorkflowTaskParams")
	}
	if param.Where == nil {
		return nil, errors.New("where is nil")
	}
	if param.Fields == nil {
		return nil, errors.New("fields is nil")
	}
	if len(param.Where.IDIn) > 0 {
		isHasWhere = true
		db = db.Where("id IN ?", param.Where.IDIn)
	}
	if param.Where.InstanceID != nil {
		isHasWhere = true
		db = db.Where("instance_id = ?", *param.Where.InstanceID)
	}
	if len(param.Where.StatusIn) > 0 {
		db = db.Where("status IN ?", param.Where.StatusIn)
	}
	if !isHasWhere {
		return db, errors.Errorf("update workflow task need where condition, please check, params is %+v", param.Where)
	}
	return db, nil
}

func buildUpdateWorkflowTaskFields(fields *UpdateWorkflowTaskField) (map[string]any, error) {
	updateFields := make(map[string]any)
	if fields.Status != nil {
		updateFields["status"] = *fields.Status
	}
	if fields.AssignedTo != nil {
		updateFields["assigned_to"] = *fields.AssignedTo
	}
	if fields.AssignedBy != nil {
		updateFields["assigned_by"] = *fields.AssignedBy
	}
	if fields.AssignedAt != nil {
		updateFields["assigned_at"] = *fields.AssignedAt
	}
	if fields.Action != nil {
		updateFields["action"] = *fields.Action
	}
	if fields.FormData != nil {
		jsonData, err := json.Marshal(fields.FormData)
		if err != nil {
			return nil, errors.WithMessage(err, "Marshal fields.FormData failed")
		}
		updateFields["form_data"] = datatypes.JSON(jsonData)
	}
	if fields.Comments != nil {
		updateFields["comments"] = *fields.Comments
	}
	if fields.CompletedBy != nil {
		updateFields["completed_by"] = *fields.CompletedBy
	}
	if fields.CompletedAt != nil {
		updateFields["completed_at"] = *fields.CompletedAt
	}
	if len(updateFields) == 0 {
		return nil, errors.New("no fields to update")
	}
	updateFields["updated_at"] = nowUnix(int64Value(fields.UpdatedAt))
	return updateFields, nil
}

func (r *workflowRepo) UpdateWorkflowTask(ctx context.Context, param *UpdateWorkflowTaskParams) (int64, error) {
	db := r.GetDBWithContext(ctx).Model(&WorkflowTaskPo{})
	db, err := buildUpdateWorkflowTaskParams(db, param)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowTaskParams failed")
	}
	updateFields, err := buildUpdateWorkflowTaskFields(param.Fields)
	if err != nil {
		return 0, errors.WithMessage(err, "buildUpdateWorkflowTaskFields failed")
	}
	result := db.Updates(updateFields)
	if result.Error != nil {
		return 0, errors.WithMessage(result.Error, "UpdateWorkflowTask failed")
	}
	return result.RowsAffected, nil
}

func (r *workflowRepo) AppendDefinitionHistory(ctx context.Context, histories []*WorkflowDefinitionHistoryPo) error {
	if len(histories) == 0 {
		return nil
	}
	if err := r.GetDBWithContext(ctx).Create(histories).Error; err != nil {
		return errors.WithMessage(err, "AppendDefinitionHistory failed")
	}
	return nil
}

func (r *workflowRepo) AppendInstanceHistory(ctx context.Context, histories []*WorkflowInstanceHistoryPo) error {
	if len(histories) == 0 {
		return nil
	}
	if err := r.GetDBWithContext(ctx).Create(histories).Error; err != nil {
		return errors.WithMessage(err, "AppendInstanceHistory failed")
	}
	return nil
}

func (r *workflowRepo) AppendTaskHistory(ctx context.Context, histories []*WorkflowTaskHistoryPo) error {
	if len(histories) == 0 {
		return nil
	}
	if err := r.GetDBWithContext(ctx).Create(histories).Error; err != nil {
		return errors.WithMessage(err, "AppendTaskHistory failed")
	}
	return nil
}

func buildQueryHistoryParams(db *gorm.DB, ownerColumn string, param *QueryHistoryParams) (*gorm.DB, error) {
	if param == nil {
		return nil, errors.New("nil QueryHistoryParams")
	}
	db = db.Where(ownerColumn+" = ?", param.OwnerID)
	if len(param.ActionIn) != 0 {
		db = db.Where("action IN ?", param.ActionIn)
	}
	return applyPager(applyOrder(db, param.OrderbyIDAsc), param.Page)
}

func (r *workflowRepo) QueryDefinitionHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowDefinitionHistoryPo, error) {
	db, err := buildQueryHistoryParams(r.GetDBWithContext(ctx).Model(&WorkflowDefinitionHistoryPo{}), "definition_id", param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryHistoryParams failed")
	}
	pos := make([]*WorkflowDefinitionHistoryPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryDefinitionHistory failed")
	}
	return pos, nil
}

func (r *workflowRepo) QueryInstanceHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowInstanceHistoryPo, error) {
	db, err := buildQueryHistoryParams(r.GetDBWithContext(ctx).Model(&WorkflowInstanceHistoryPo{}), "instance_id", param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryHistoryParams failed")
	}
	pos := make([]*WorkflowInstanceHistoryPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryInstanceHistory failed")
	}
	return pos, nil
}

func (r *workflowRepo) QueryTaskHistory(ctx context.Context, param *QueryHistoryParams) ([]*WorkflowTaskHistoryPo, error) {
	db, err := buildQueryHistoryParams(r.GetDBWithContext(ctx).Model(&WorkflowTaskHistoryPo{}), "task_id", param)
	if err != nil {
		return nil, errors.WithMessage(err, "buildQueryHistoryParams failed")
	}
	pos := make([]*WorkflowTaskHistoryPo, 0)
	if err := db.Find(&pos).Error; err != nil {
		return nil, errors.WithMessage(err, "QueryTaskHistory failed")
	}
	return pos, nil
}

type contextKey string

const (
	transactionContextKey contextKey = "transaction"
)

func (r *workflowRepo) GetDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		// 没有事务，直接返回db即可
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

// Transaction 已经在事务里面的时候直接复用外层事务
func (r *workflowRepo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(transactionContextKey) != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, transactionContextKey, tx))
	})
}
