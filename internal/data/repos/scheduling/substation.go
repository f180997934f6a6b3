package scheduling

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

type SubstationRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Substation) ([]*domain.Substation, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Substation, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.Substation, error)
	ListIDs(dbc dbctx.Context) ([]uuid.UUID, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type substationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubstationRepo(db *gorm.DB, baseLog *logger.Logger) SubstationRepo {
	return &substationRepo{db: db, log: baseLog.With("repo", "SubstationRepo")}
}

func (r *substationRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *substationRepo) Create(dbc dbctx.Context, rows []*domain.Substation) ([]*domain.Substation, error) {
	if len(rows) == 0 {
		return []*domain.Substation{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *substationRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Substation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.Substation
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

// GetByIDForUpdate locks the substation row so two transactions cannot claim
// it at once. Must only be called with dbc.Tx set.
func (r *substationRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.Substation, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.Substation
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
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

func (r *substationRepo) ListIDs(dbc dbctx.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Substation{}).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *substationRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Substation{}).
		Where("id = ?", id).
		Updates(updates).Error
}
