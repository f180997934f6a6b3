package inventory

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

type MaterialRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Material) ([]*domain.Material, error)
	GetByCode(dbc dbctx.Context, code string) (*domain.Material, error)
	GetByCodeForUpdate(dbc dbctx.Context, code string) (*domain.Material, error)
	AdjustStock(dbc dbctx.Context, code string, delta decimal.Decimal) error
	EnsureMaterial(dbc dbctx.Context, code, name string, isScrap bool) (*domain.Material, error)
	CreateMovement(dbc dbctx.Context, row *domain.StockMovement) error
	ListMovements(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.StockMovement, error)
}

type materialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialRepo(db *gorm.DB, baseLog *logger.Logger) MaterialRepo {
	return &materialRepo{db: db, log: baseLog.With("repo", "MaterialRepo")}
}

func (r *materialRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *materialRepo) Create(dbc dbctx.Context, rows []*domain.Material) ([]*domain.Material, error) {
	if len(rows) == 0 {
		return []*domain.Material{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *materialRepo) GetByCode(dbc dbctx.Context, code string) (*domain.Material, error) {
	if code == "" {
		return nil, nil
	}
	var out domain.Material
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("code = ?", code).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

// GetByCodeForUpdate locks the material row so concurrent start/complete
// transactions serialize on stock mutation. Must only be called with dbc.Tx
// set.
func (r *materialRepo) GetByCodeForUpdate(dbc dbctx.Context, code string) (*domain.Material, error) {
	if code == "" {
		return nil, nil
	}
	var out domain.Material
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code = ?", code).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *materialRepo) AdjustStock(dbc dbctx.Context, code string, delta decimal.Decimal) error {
	if code == "" || delta.IsZero() {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Material{}).
		Where("code = ?", code).
		Updates(map[string]interface{}{
			"stock_quantity": gorm.Expr("stock_quantity + ?", delta),
			"updated_at":     time.Now(),
		}).Error
}

// EnsureMaterial creates the material row if it does not exist yet and
// returns the current row either way. Used to auto-create scrap materials.
func (r *materialRepo) EnsureMaterial(dbc dbctx.Context, code, name string, isScrap bool) (*domain.Material, error) {
	if code == "" {
		return nil, nil
	}
	row := &domain.Material{
		ID:      uuid.New(),
		Code:    code,
		Name:    name,
		IsScrap: isScrap,
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByCode(dbc, code)
}

func (r *materialRepo) CreateMovement(dbc dbctx.Context, row *domain.StockMovement) error {
	if row == nil || row.MaterialCode == "" {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *materialRepo) ListMovements(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.StockMovement, error) {
	var out []*domain.StockMovement
	if assignmentID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
