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

// WorkerQueueStats aggregates a worker's advisory queue counters.
type WorkerQueueStats struct {
	PendingCount    int64   `json:"pending_count"`
	ReadyCount      int64   `json:"ready_count"`
	UrgentCount     int64   `json:"urgent_count"`
	WorkloadMinutes float64 `json:"workload_minutes"`
}

type AssignmentRepo interface {
	Create(dbc dbctx.Context, rows []*domain.Assignment) ([]*domain.Assignment, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Assignment, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.Assignment, error)
	GetByPlanNodes(dbc dbctx.Context, planID uuid.UUID, nodeIDs []uuid.UUID) ([]*domain.Assignment, error)
	ListWorkerEligible(dbc dbctx.Context, workerID uuid.UUID, limit int) ([]*domain.Assignment, error)
	HasWorkerEligible(dbc dbctx.Context, workerID uuid.UUID) (bool, error)
	WorkerQueueStats(dbc dbctx.Context, workerID uuid.UUID) (*WorkerQueueStats, error)
	OldestQueuedForSubstation(dbc dbctx.Context, substationID uuid.UUID, preferredPlanID *uuid.UUID) (*domain.Assignment, error)
	OldestPendingForSubstation(dbc dbctx.Context, substationID uuid.UUID) (*domain.Assignment, error)
	OldestQueuedForWorker(dbc dbctx.Context, workerID uuid.UUID, preferredPlanID *uuid.UUID) (*domain.Assignment, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsWhereStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error)
}

type assignmentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAssignmentRepo(db *gorm.DB, baseLog *logger.Logger) AssignmentRepo {
	return &assignmentRepo{db: db, log: baseLog.With("repo", "AssignmentRepo")}
}

func (r *assignmentRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *assignmentRepo) Create(dbc dbctx.Context, rows []*domain.Assignment) ([]*domain.Assignment, error) {
	if len(rows) == 0 {
		return []*domain.Assignment{}, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *assignmentRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Assignment, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.Assignment
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

// GetByIDForUpdate locks the row for the duration of the surrounding
// transaction. Must only be called with dbc.Tx set.
func (r *assignmentRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*domain.Assignment, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out domain.Assignment
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

func (r *assignmentRepo) GetByPlanNodes(dbc dbctx.Context, planID uuid.UUID, nodeIDs []uuid.UUID) ([]*domain.Assignment, error) {
	var out []*domain.Assignment
	if planID == uuid.Nil || len(nodeIDs) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("plan_id = ? AND node_id IN ?", planID, nodeIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListWorkerEligible returns the worker's advisory FIFO queue: urgent tasks
// first, then oldest expected start, then oldest row.
func (r *assignmentRepo) ListWorkerEligible(dbc dbctx.Context, workerID uuid.UUID, limit int) ([]*domain.Assignment, error) {
	var out []*domain.Assignment
	if workerID == uuid.Nil {
		return out, nil
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("worker_id = ? AND scheduling_mode = ? AND status IN ?",
			workerID, domain.SchedulingModeFIFO,
			[]string{domain.AssignmentStatusPending, domain.AssignmentStatusReady},
		).
		Order("is_urgent DESC, estimated_start_time ASC, created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *assignmentRepo) HasWorkerEligible(dbc dbctx.Context, workerID uuid.UUID) (bool, error) {
	if workerID == uuid.Nil {
		return false, nil
	}
	var count int64
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Assignment{}).
		Where("worker_id = ? AND scheduling_mode = ? AND status IN ?",
			workerID, domain.SchedulingModeFIFO,
			[]string{domain.AssignmentStatusPending, domain.AssignmentStatusReady},
		).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *assignmentRepo) WorkerQueueStats(dbc dbctx.Context, workerID uuid.UUID) (*WorkerQueueStats, error) {
	if workerID == uuid.Nil {
		return &WorkerQueueStats{}, nil
	}
	var out WorkerQueueStats
	err := r.handle(dbc).WithContext(dbc.Ctx).Raw(`
		SELECT
			COUNT(*) FILTER (WHERE status = ?)   AS pending_count,
			COUNT(*) FILTER (WHERE status = ?)   AS ready_count,
			COUNT(*) FILTER (WHERE is_urgent)    AS urgent_count,
			COALESCE(SUM(
				EXTRACT(EPOCH FROM (estimated_end_time - estimated_start_time)) / 60
			), 0) AS workload_minutes
		FROM assignment
		WHERE worker_id = ?
		  AND scheduling_mode = ?
		  AND status IN ?
	`, domain.AssignmentStatusPending, domain.AssignmentStatusReady,
		workerID, domain.SchedulingModeFIFO,
		[]string{domain.AssignmentStatusPending, domain.AssignmentStatusReady},
	).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// OldestQueuedForSubstation finds the next queued assignment targeting the
// substation, preferring the given plan. Locks the row; call inside a tx.
func (r *assignmentRepo) OldestQueuedForSubstation(dbc dbctx.Context, substationID uuid.UUID, preferredPlanID *uuid.UUID) (*domain.Assignment, error) {
	if substationID == uuid.Nil {
		return nil, nil
	}
	if preferredPlanID != nil && *preferredPlanID != uuid.Nil {
		found, err := r.oldestByStatus(dbc, domain.AssignmentStatusQueued, "substation_id = ? AND plan_id = ?", substationID, *preferredPlanID)
		if err != nil || found != nil {
			return found, err
		}
	}
	return r.oldestByStatus(dbc, domain.AssignmentStatusQueued, "substation_id = ?", substationID)
}

func (r *assignmentRepo) OldestPendingForSubstation(dbc dbctx.Context, substationID uuid.UUID) (*domain.Assignment, error) {
	if substationID == uuid.Nil {
		return nil, nil
	}
	return r.oldestByStatus(dbc, domain.AssignmentStatusPending, "substation_id = ?", substationID)
}

// OldestQueuedForWorker finds the worker's next queued assignment, preferring
// the given plan and falling back to the earliest expected start across all
// plans.
func (r *assignmentRepo) OldestQueuedForWorker(dbc dbctx.Context, workerID uuid.UUID, preferredPlanID *uuid.UUID) (*domain.Assignment, error) {
	if workerID == uuid.Nil {
		return nil, nil
	}
	if preferredPlanID != nil && *preferredPlanID != uuid.Nil {
		found, err := r.oldestByStatus(dbc, domain.AssignmentStatusQueued, "worker_id = ? AND plan_id = ?", workerID, *preferredPlanID)
		if err != nil || found != nil {
			return found, err
		}
	}
	return r.oldestByStatus(dbc, domain.AssignmentStatusQueued, "worker_id = ?", workerID)
}

func (r *assignmentRepo) oldestByStatus(dbc dbctx.Context, status string, cond string, args ...interface{}) (*domain.Assignment, error) {
	var out domain.Assignment
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("status = ?", status).
		Where(cond, args...).
		Order("estimated_start_time ASC, created_at ASC").
		Limit(1)
	if dbc.Tx != nil {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *assignmentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&domain.Assignment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateFieldsWhereStatus applies updates only while the row is still in one
// of the allowed statuses. Returns false when the guard did not match.
func (r *assignmentRepo) UpdateFieldsWhereStatus(dbc dbctx.Context, id uuid.UUID, allowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&domain.Assignment{}).
		Where("id = ?", id)
	if len(allowedStatuses) == 1 {
		q = q.Where("status = ?", allowedStatuses[0])
	} else if len(allowedStatuses) > 1 {
		q = q.Where("status IN ?", allowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
