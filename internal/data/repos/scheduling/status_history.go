package scheduling

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

// StatusHistoryRepo is append-only by contract: no update or delete methods.
type StatusHistoryRepo interface {
	Append(dbc dbctx.Context, row *domain.StatusHistory) error
	ListByAssignment(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.StatusHistory, error)
}

type statusHistoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStatusHistoryRepo(db *gorm.DB, baseLog *logger.Logger) StatusHistoryRepo {
	return &statusHistoryRepo{db: db, log: baseLog.With("repo", "StatusHistoryRepo")}
}

func (r *statusHistoryRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *statusHistoryRepo) Append(dbc dbctx.Context, row *domain.StatusHistory) error {
	if row == nil || row.AssignmentID == uuid.Nil || row.ToStatus == "" {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.ChangedAt.IsZero() {
		row.ChangedAt = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *statusHistoryRepo) ListByAssignment(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.StatusHistory, error) {
	var out []*domain.StatusHistory
	if assignmentID == uuid.Nil {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("assignment_id = ?", assignmentID).
		Order("changed_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
