package workflow

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type CreateDefinitionReq struct {
	Name        string                `json:"name" validate:"required"`
	Category    string                `json:"category"`
	Description string                `json:"description"`
	Nodes       []*WorkflowNode       `json:"nodes" validate:"dive,required"`
	Connections []*WorkflowConnection `json:"connections" validate:"dive,required"`
	CreatedBy   string                `json:"created_by" validate:"required"`
}

type UpdateDefinitionReq struct {
	DefinitionID int64                 `json:"definition_id" validate:"required"`
	Description  *string               `json:"description"`
	Nodes        []*WorkflowNode       `json:"nodes" validate:"omitempty,dive,required"`
	Connections  []*WorkflowConnection `json:"connections" validate:"omitempty,dive,required"`
	UpdatedBy    string                `json:"updated_by" validate:"required"`
}

type PublishDefinitionReq struct {
	DefinitionID int64  `json:"definition_id" validate:"required"`
	PublishedBy  string `json:"published_by" validate:"required"`
}

type CreateDefinitionVersionReq struct {
	DefinitionID int64  `json:"definition_id" validate:"required"`
	CreatedBy    string `json:"created_by" validate:"required"`
}

type SetActiveVersionReq struct {
	Name        string `json:"name" validate:"required"`
	Category    string `json:"category"`
	Version     int64  `json:"version" validate:"required,gt=0"`
	PerformedBy string `json:"performed_by" validate:"required"`
}

type DeleteDefinitionReq struct {
	DefinitionID int64  `json:"definition_id" validate:"required"`
	DeletedBy    string `json:"deleted_by" validate:"required"`
}

func (s *WorkflowEngineImpl) CreateDefinition(ctx context.Context, req *CreateDefinitionReq) (ret *WorkflowDefinition, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateDefinition failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "CreateDefinition", attribute.String("definition.name", req.Name))
	defer func() { s.finishSpan(span, "CreateDefinition", err) }()

	graph, err := encodeGraph(req.Nodes, req.Connections)
	if err != nil {
		return nil, err
	}
	var definitionID int64
	err = s.withDefinitionLock(ctx, req.Name, req.Category, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			latest, err := s.latestVersion(ctx, req.Name, req.Category)
			if err != nil {
				return err
			}
			po := &WorkflowDefinitionPo{
				Name:        req.Name,
				Category:    req.Category,
				Description: req.Description,
				Version:     latest + 1,
				IsActive:    latest == 0, // 第一个版本默认激活
				Graph:       graph,
				CreatedBy:   req.CreatedBy,
				CreatedAt:   uow.now.Unix(),
				UpdatedAt:   uow.now.Unix(),
			}
			po, err = s.repo.CreateWorkflowDefinition(ctx, po)
			if err != nil {
				return errors.WithMessagef(err, "CreateWorkflowDefinition failed, name: %s", req.Name)
			}
			definitionID = po.ID
			uow.addDefinitionHistory(po.ID, DefinitionHistoryCreated, historyEntry{
				PerformedBy: req.CreatedBy,
				Description: fmt.Sprintf("definition %s v%d created", po.Name, po.Version),
				AfterValue:  map[string]any{"version": po.Version, "is_active": po.IsActive},
			})
			uow.onCommit(func() { s.opts.Metrics.definitionChanged(DefinitionHistoryCreated) })
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateDefinition failed, name: %s", req.Name)
	}
	return s.GetDefinition(ctx, definitionID)
}

// latestVersion 同名同分类的最大版本号, 没有返回0
func (s *WorkflowEngineImpl) latestVersion(ctx context.Context, name string, category string) (int64, error) {
	pos, err := s.repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
		Name:         &name,
		Category:     &category,
		OrderbyIDAsc: Bool(false),
		Page:         noLimitPage(),
	})
	if err != nil {
		return 0, errors.WithMessagef(err, "QueryWorkflowDefinition failed, name: %s, category: %s", name, category)
	}
	var latest int64
	for _, po := range pos {
		if po.Version > latest {
			latest = po.Version
		}
	}
	return latest, nil
}

func (s *WorkflowEngineImpl) UpdateDefinition(ctx context.Context, req *UpdateDefinitionReq) (ret *WorkflowDefinition, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "UpdateDefinition failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "UpdateDefinition", attribute.Int64("definition.id", req.DefinitionID))
	defer func() { s.finishSpan(span, "UpdateDefinition", err) }()

	err = s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
		po, err := s.loadDefinitionPo(ctx, req.DefinitionID)
		if err != nil {
			return err
		}
		if po.IsPublished {
			return errors.WithMessagef(ErrWorkflowDefinitionPublished, "definitionID: %d", po.ID)
		}
		current, err := definitionPoToEntity(po)
		if err != nil {
			return err
		}
		fields := &UpdateWorkflowDefinitionField{Description: req.Description, UpdatedAt: Int64(uow.now.Unix())}
		nodes, connections := current.Nodes, current.Connections
		if req.Nodes != nil {
			nodes = req.Nodes
		}
		if req.Connections != nil {
			connections = req.Connections
		}
		if req.Nodes != nil || req.Connections != nil {
			graph, err := encodeGraph(nodes, connections)
			if err != nil {
				return err
			}
			fields.Graph = graph
		}
		if fields.Description == nil && fields.Graph == nil {
			return nil
		}
		affected, err := s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
			Where: &UpdateWorkflowDefinitionWhere{
				IDIn:        []int64{po.ID},
				IsPublished: Bool(false),
			},
			Fields: fields,
		})
		if err != nil {
			return errors.WithMessagef(err, "UpdateWorkflowDefinition failed, definitionID: %d", po.ID)
		}
		if affected != 1 {
			// 并发发布了
			return errors.WithMessagef(ErrWorkflowDefinitionPublished, "definitionID: %d", po.ID)
		}
		uow.addDefinitionHistory(po.ID, DefinitionHistoryUpdated, historyEntry{
			PerformedBy: req.UpdatedBy,
			Description: fmt.Sprintf("definition %s v%d updated", po.Name, po.Version),
			BeforeValue: map[string]any{"nodes": len(current.Nodes), "connections": len(current.Connections)},
			AfterValue:  map[string]any{"nodes": len(nodes), "connections": len(connections)},
		})
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "UpdateDefinition failed, definitionID: %d", req.DefinitionID)
	}
	return s.GetDefinition(ctx, req.DefinitionID)
}

func (s *WorkflowEngineImpl) GetDefinition(ctx context.Context, definitionID int64) (*WorkflowDefinition, error) {
	po, err := s.loadDefinitionPo(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return definitionPoToEntity(po)
}

func (s *WorkflowEngineImpl) GetActiveDefinition(ctx context.Context, name string, category string) (*WorkflowDefinition, error) {
	pos, err := s.repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
		Name:     &name,
		Category: &category,
		IsActive: Bool(true),
		Page:     &Pager{Take: 1},
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "QueryWorkflowDefinition failed, name: %s, category: %s", name, category)
	}
	if len(pos) == 0 {
		return nil, errors.WithMessagef(ErrWorkflowDefinitionNotFound, "no active version, name: %s, category: %s", name, category)
	}
	return definitionPoToEntity(pos[0])
}

func (s *WorkflowEngineImpl) QueryDefinitions(ctx context.Context, params *QueryWorkflowDefinitionParams) ([]*WorkflowDefinition, error) {
	if params == nil {
		return nil, errors.Wrap(ErrWorkflowParamInvalid, "QueryDefinitions failed, nil params")
	}
	if params.Page == nil {
		params.Page = &Pager{}
	}
	pos, err := s.repo.QueryWorkflowDefinition(ctx, params)
	if err != nil {
		return nil, errors.WithMessage(err, "QueryWorkflowDefinition failed")
	}
	ret := make([]*WorkflowDefinition, 0, len(pos))
	for _, po := range pos {
		def, err := definitionPoToEntity(po)
		if err != nil {
			return nil, err
		}
		ret = append(ret, def)
	}
	return ret, nil
}

func (s *WorkflowEngineImpl) CountDefinitions(ctx context.Context, params *QueryWorkflowDefinitionParams) (int64, error) {
	if params == nil {
		return 0, errors.Wrap(ErrWorkflowParamInvalid, "CountDefinitions failed, nil params")
	}
	return s.repo.CountWorkflowDefinition(ctx, params)
}

func (s *WorkflowEngineImpl) ValidateDefinition(ctx context.Context, definitionID int64) ([]ValidationError, error) {
	def, err := s.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	return Validate(def), nil
}

func (s *WorkflowEngineImpl) PublishDefinition(ctx context.Context, req *PublishDefinitionReq) (ret *WorkflowDefinition, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "PublishDefinition failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "PublishDefinition", attribute.Int64("definition.id", req.DefinitionID))
	defer func() { s.finishSpan(span, "PublishDefinition", err) }()

	err = s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
		po, err := s.loadDefinitionPo(ctx, req.DefinitionID)
		if err != nil {
			return err
		}
		if po.IsPublished {
			return nil
		}
		def, err := definitionPoToEntity(po)
		if err != nil {
			return err
		}
		if err := checkDefinition(def); err != nil {
			return err
		}
		publishedAt := uow.now.Unix()
		affected, err := s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
			Where: &UpdateWorkflowDefinitionWhere{
				IDIn:        []int64{po.ID},
				IsPublished: Bool(false),
			},
			Fields: &UpdateWorkflowDefinitionField{
				IsPublished: Bool(true),
				PublishedBy: &req.PublishedBy,
				PublishedAt: &publishedAt,
				UpdatedAt:   &publishedAt,
			},
		})
		if err != nil {
			return errors.WithMessagef(err, "UpdateWorkflowDefinition failed, definitionID: %d", po.ID)
		}
		if affected != 1 {
			return errors.WithMessagef(ErrConcurrentModification, "definition %d was published concurrently", po.ID)
		}
		uow.addDefinitionHistory(po.ID, DefinitionHistoryPublished, historyEntry{
			PerformedBy: req.PublishedBy,
			Description: fmt.Sprintf("definition %s v%d published", po.Name, po.Version),
			BeforeValue: map[string]any{"is_published": false},
			AfterValue:  map[string]any{"is_published": true},
		})
		uow.onCommit(func() { s.opts.Metrics.definitionChanged(DefinitionHistoryPublished) })
		return nil
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "PublishDefinition failed, definitionID: %d", req.DefinitionID)
	}
	return s.GetDefinition(ctx, req.DefinitionID)
}

func (s *WorkflowEngineImpl) CreateDefinitionVersion(ctx context.Context, req *CreateDefinitionVersionReq) (ret *WorkflowDefinition, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "CreateDefinitionVersion failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "CreateDefinitionVersion", attribute.Int64("definition.id", req.DefinitionID))
	defer func() { s.finishSpan(span, "CreateDefinitionVersion", err) }()

	source, err := s.GetDefinition(ctx, req.DefinitionID)
	if err != nil {
		return nil, err
	}
	var definitionID int64
	err = s.withDefinitionLock(ctx, source.Name, source.Category, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			latest, err := s.latestVersion(ctx, source.Name, source.Category)
			if err != nil {
				return err
			}
			nodes, connections := cloneGraph(source)
			graph, err := encodeGraph(nodes, connections)
			if err != nil {
				return err
			}
			po, err := s.repo.CreateWorkflowDefinition(ctx, &WorkflowDefinitionPo{
				Name:        source.Name,
				Category:    source.Category,
				Description: source.Description,
				Version:     latest + 1,
				Graph:       graph,
				CreatedBy:   req.CreatedBy,
				CreatedAt:   uow.now.Unix(),
				UpdatedAt:   uow.now.Unix(),
			})
			if err != nil {
				return errors.WithMessagef(err, "CreateWorkflowDefinition failed, source definitionID: %d", source.ID)
			}
			definitionID = po.ID
			uow.addDefinitionHistory(po.ID, DefinitionHistoryVersionCreated, historyEntry{
				PerformedBy: req.CreatedBy,
				Description: fmt.Sprintf("version %d created from definition %d (v%d)", po.Version, source.ID, source.Version),
				BeforeValue: map[string]any{"source_definition_id": source.ID, "source_version": source.Version},
				AfterValue:  map[string]any{"version": po.Version},
			})
			uow.onCommit(func() { s.opts.Metrics.definitionChanged(DefinitionHistoryVersionCreated) })
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "CreateDefinitionVersion failed, definitionID: %d", req.DefinitionID)
	}
	return s.GetDefinition(ctx, definitionID)
}

func (s *WorkflowEngineImpl) SetActiveVersion(ctx context.Context, req *SetActiveVersionReq) (ret *WorkflowDefinition, err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return nil, errors.Wrapf(ErrWorkflowParamInvalid, "SetActiveVersion failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "SetActiveVersion",
		attribute.String("definition.name", req.Name), attribute.Int64("definition.version", req.Version))
	defer func() { s.finishSpan(span, "SetActiveVersion", err) }()

	var targetID int64
	err = s.withDefinitionLock(ctx, req.Name, req.Category, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			pos, err := s.repo.QueryWorkflowDefinition(ctx, &QueryWorkflowDefinitionParams{
				Name:     &req.Name,
				Category: &req.Category,
				Page:     noLimitPage(),
			})
			if err != nil {
				return errors.WithMessagef(err, "QueryWorkflowDefinition failed, name: %s", req.Name)
			}
			var target *WorkflowDefinitionPo
			deactivated := make([]*WorkflowDefinitionPo, 0)
			for _, po := range pos {
				if po.Version == req.Version {
					target = po
				} else if po.IsActive {
					deactivated = append(deactivated, po)
				}
			}
			if target == nil {
				return errors.WithMessagef(ErrWorkflowDefinitionNotFound, "name: %s, category: %s, version: %d", req.Name, req.Category, req.Version)
			}
			targetID = target.ID
			if len(deactivated) > 0 {
				if _, err := s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
					Where: &UpdateWorkflowDefinitionWhere{
						Name:     &req.Name,
						Category: &req.Category,
						IDNotIn:  []int64{target.ID},
					},
					Fields: &UpdateWorkflowDefinitionField{IsActive: Bool(false), UpdatedAt: Int64(uow.now.Unix())},
				}); err != nil {
					return errors.WithMessagef(err, "deactivate versions failed, name: %s", req.Name)
				}
			}
			for _, po := range deactivated {
				uow.addDefinitionHistory(po.ID, DefinitionHistoryDeactivated, historyEntry{
					PerformedBy: req.PerformedBy,
					Description: fmt.Sprintf("version %d deactivated in favor of version %d", po.Version, target.Version),
					BeforeValue: map[string]any{"is_active": true},
					AfterValue:  map[string]any{"is_active": false},
				})
			}
			if !target.IsActive {
				if _, err := s.repo.UpdateWorkflowDefinition(ctx, &UpdateWorkflowDefinitionParams{
					Where:  &UpdateWorkflowDefinitionWhere{IDIn: []int64{target.ID}},
					Fields: &UpdateWorkflowDefinitionField{IsActive: Bool(true), UpdatedAt: Int64(uow.now.Unix())},
				}); err != nil {
					return errors.WithMessagef(err, "activate version failed, definitionID: %d", target.ID)
				}
				uow.addDefinitionHistory(target.ID, DefinitionHistoryActivated, historyEntry{
					PerformedBy: req.PerformedBy,
					Description: fmt.Sprintf("version %d activated", target.Version),
					BeforeValue: map[string]any{"is_active": false},
					AfterValue:  map[string]any{"is_active": true},
				})
			}
			uow.onCommit(func() {
				ids := []int64{target.ID}
				for _, po := range deactivated {
					ids = append(ids, po.ID)
				}
				s.definitions.invalidate(ids...)
				s.opts.Metrics.definitionChanged(DefinitionHistoryActivated)
			})
			return nil
		})
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "SetActiveVersion failed, name: %s, version: %d", req.Name, req.Version)
	}
	return s.GetDefinition(ctx, targetID)
}

func (s *WorkflowEngineImpl) DeleteDefinition(ctx context.Context, req *DeleteDefinitionReq) (err error) {
	if err := validatorUtil.Struct(req); err != nil {
		return errors.Wrapf(ErrWorkflowParamInvalid, "DeleteDefinition failed, req: %v, err: %v", req, err)
	}
	ctx, span := s.startSpan(ctx, "DeleteDefinition", attribute.Int64("definition.id", req.DefinitionID))
	defer func() { s.finishSpan(span, "DeleteDefinition", err) }()

	target, err := s.loadDefinitionPo(ctx, req.DefinitionID)
	if err != nil {
		return errors.WithMessagef(err, "DeleteDefinition failed, definitionID: %d", req.DefinitionID)
	}
	// 和发起实例互斥
	err = s.withDefinitionLock(ctx, target.Name, target.Category, func(ctx context.Context) error {
		return s.runInTransaction(ctx, func(ctx context.Context, uow *unitOfWork) error {
			return s.deleteDefinition(ctx, uow, req)
		})
	})
	if err != nil {
		return errors.WithMessagef(err, "DeleteDefinition failed, definitionID: %d", req.DefinitionID)
	}
	return nil
}

func (s *WorkflowEngineImpl) deleteDefinition(ctx context.Context, uow *unitOfWork, req *DeleteDefinitionReq) error {
	po, err := s.loadDefinitionPo(ctx, req.DefinitionID)
	if err != nil {
		return err
	}
	unfinished, err := s.repo.CountWorkflowInstance(ctx, &QueryWorkflowInstanceParams{
		DefinitionID: &po.ID,
		StatusIn:     []string{WorkflowInstanceStatusRunning, WorkflowInstanceStatusSuspended},
	})
	if err != nil {
		return errors.WithMessagef(err, "CountWorkflowInstance failed, definitionID: %d", po.ID)
	}
	if unfinished > 0 {
		return errors.WithMessagef(ErrWorkflowDefinitionInUse, "definitionID: %d, unfinished instances: %d", po.ID, unfinished)
	}
	if err := s.repo.DeleteWorkflowDefinition(ctx, po.ID); err != nil {
		return err
	}
	uow.addDefinitionHistory(po.ID, DefinitionHistoryDeleted, historyEntry{
		PerformedBy: req.DeletedBy,
		Description: fmt.Sprintf("definition %s v%d deleted", po.Name, po.Version),
		BeforeValue: map[string]any{"version": po.Version, "is_active": po.IsActive, "is_published": po.IsPublished},
	})
	uow.onCommit(func() {
		s.definitions.invalidate(po.ID)
		s.opts.Metrics.definitionChanged(DefinitionHistoryDeleted)
	})
	return nil
}
