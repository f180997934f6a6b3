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

type LotRepo interface {
	CreateLot(dbc dbctx.Context, row *domain.MaterialLot) error
	OldestOpenLots(dbc dbctx.Context, materialCode string) ([]*domain.MaterialLot, error)
	DeductLot(dbc dbctx.Context, lotID uuid.UUID, qty decimal.Decimal) error
	CreateReservations(dbc dbctx.Context, rows []*domain.LotReservation) ([]*domain.LotReservation, error)
	ActiveReservations(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.LotReservation, error)
	MarkReservationConsumed(dbc dbctx.Context, id uuid.UUID, consumedQty decimal.Decimal) error
	NextSequence(dbc dbctx.Context, materialCode, day string) (int, error)
}

type lotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLotRepo(db *gorm.DB, baseLog *logger.Logger) LotRepo {
	return &lotRepo{db: db, log: baseLog.With("repo", "LotRepo")}
}

func (r *lotRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *lotRepo) CreateLot(dbc dbctx.Context, row *domain.MaterialLot) error {
	if row == nil || row.MaterialCode == "" || row.LotNumber == "" {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).Create(row).Error
}

// OldestOpenLots returns the material's open lots in FIFO order, locked for
// the surrounding transaction.
func (r *lotRepo) OldestOpenLots(dbc dbctx.Context, materialCode string) ([]*domain.MaterialLot, error) {
	var out []*domain.MaterialLot
	if materialCode == "" {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("material_code = ? AND remaining_qty > 0", materialCode).
		Order("received_at ASC, created_at ASC")
	if dbc.Tx != nil {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lotRepo) DeductLot(dbc dbctx.Context, lotID uuid.UUID, qty decimal.Decimal) error {
	if lotID == uuid.Nil || qty.IsZero() {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.MaterialLot{}).
		Where("id = ?", lotID).
		Updates(map[string]interface{}{
			"remaining_qty": gorm.Expr("remaining_qty - ?", qty),
			"updated_at":    time.Now(),
		}).Error
}

func (r *lotRepo) CreateReservations(dbc dbctx.Context, rows []*domain.LotReservation) ([]*domain.LotReservation, error) {
	if len(rows) == 0 {
		return []*domain.LotReservation{}, nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.ReservationStatus == "" {
			row.ReservationStatus = domain.LotReservationReserved
		}
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *lotRepo) ActiveReservations(dbc dbctx.Context, assignmentID uuid.UUID) ([]*domain.LotReservation, error) {
	var out []*domain.LotReservation
	if assignmentID == uuid.Nil {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("assignment_id = ? AND reservation_status = ?", assignmentID, domain.LotReservationReserved).
		Order("created_at ASC, id ASC")
	if dbc.Tx != nil {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *lotRepo) MarkReservationConsumed(dbc dbctx.Context, id uuid.UUID, consumedQty decimal.Decimal) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.LotReservation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"consumed_qty":       consumedQty,
			"reservation_status": domain.LotReservationConsumed,
			"updated_at":         time.Now(),
		}).Error
}

// NextSequence atomically increments and returns the per-material, per-day
// lot counter.
func (r *lotRepo) NextSequence(dbc dbctx.Context, materialCode, day string) (int, error) {
	var next int
	err := r.handle(dbc).WithContext(dbc.Ctx).Raw(`
		INSERT INTO lot_sequence (id, material_code, day, last_value, updated_at)
		VALUES (?, ?, ?, 1, now())
		ON CONFLICT (material_code, day)
		DO UPDATE SET last_value = lot_sequence.last_value + 1, updated_at = now()
		RETURNING last_value
	`, uuid.New(), materialCode, day).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}
