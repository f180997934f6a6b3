package scheduling

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

type PlanNodeRepo interface {
	Create(dbc dbctx.Context, rows []*domain.PlanNode) ([]*domain.PlanNode, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PlanNode, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.PlanNode, error)
	PredecessorNodeIDs(dbc dbctx.Context, planID, nodeID uuid.UUID) ([]uuid.UUID, error)
	AddPredecessor(dbc dbctx.Context, row *domain.NodePredecessor) error
	MaterialInputs(dbc dbctx.Context, nodeID uuid.UUID) ([]*domain.NodeMaterialInput, error)
	AddMaterialInput(dbc dbctx.Context, row *domain.NodeMaterialInput) error
}

type planNodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanNodeRepo(db *gorm.DB, baseLog *logger.Logger) PlanNodeRepo {
	return &planNodeRepo{db: db, log: baseLog.With("repo", "PlanNodeRepo")}
}

func (r *planNodeRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *planNodeRepo) Create(dbc dbctx.Context, rows []*domain.PlanNode) ([]*domain.PlanNode, error) {
	if len(rows) == 0 {
		return []*domain.PlanNode{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *planNodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.PlanNode, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.PlanNode
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *planNodeRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.PlanNode, error) {
	var out []*domain.PlanNode
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planNodeRepo) PredecessorNodeIDs(dbc dbctx.Context, planID, nodeID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if planID == uuid.Nil || nodeID == uuid.Nil {
		return ids, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.NodePredecessor{}).
		Where("plan_id = ? AND node_id = ?", planID, nodeID).
		Pluck("predecessor_node_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *planNodeRepo) AddPredecessor(dbc dbctx.Context, row *domain.NodePredecessor) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *planNodeRepo) MaterialInputs(dbc dbctx.Context, nodeID uuid.UUID) ([]*domain.NodeMaterialInput, error) {
	var out []*domain.NodeMaterialInput
	if nodeID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("node_id = ?", nodeID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *planNodeRepo) AddMaterialInput(dbc dbctx.Context, row *domain.NodeMaterialInput) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}
