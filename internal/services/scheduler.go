package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/uretimplus/mes-backend/internal/data/repos/inventory"
	"github.com/uretimplus/mes-backend/internal/data/repos/scheduling"
	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/observability"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

const defaultQueueLimit = 10

// DefaultScrapSuffix is appended to a material code to derive its scrap
// material code.
const DefaultScrapSuffix = "-HURDA"

const systemActor = "scheduler"

// PendingPredecessor describes one incomplete prerequisite of an assignment.
type PendingPredecessor struct {
	NodeID       uuid.UUID  `json:"node_id"`
	NodeName     string     `json:"node_name"`
	AssignmentID *uuid.UUID `json:"assignment_id,omitempty"`
	Status       string     `json:"status"`
}

// PredecessorCheck is the read-only result of the predecessor gate. Errors
// are captured in Err instead of being returned, so callers must check it.
type PredecessorCheck struct {
	AllCompleted        bool                 `json:"all_completed"`
	PendingPredecessors []PendingPredecessor `json:"pending_predecessors,omitempty"`
	Err                 error                `json:"-"`
}

// CompletionInput is the worker's declaration at task completion.
type CompletionInput struct {
	QuantityProduced      decimal.Decimal    `json:"quantity_produced"`
	DefectQuantity        decimal.Decimal    `json:"defect_quantity"`
	InputScrapCounts      domain.QuantityMap `json:"input_scrap_counts,omitempty"`
	ProductionScrapCounts domain.QuantityMap `json:"production_scrap_counts,omitempty"`
}

// StockAdjustment reports the reserved-vs-consumed delta of one material,
// already applied to stock.
type StockAdjustment struct {
	MaterialCode  string          `json:"material_code"`
	ReservedQty   decimal.Decimal `json:"reserved_qty"`
	ConsumedQty   decimal.Decimal `json:"consumed_qty"`
	AdjustmentQty decimal.Decimal `json:"adjustment_qty"`
}

type StartTaskResult struct {
	Success      bool                         `json:"success"`
	Error        *SchedulerError              `json:"error,omitempty"`
	Assignment   *domain.Assignment           `json:"assignment,omitempty"`
	Reservations []MaterialReservationSummary `json:"reservations,omitempty"`
	Warnings     []ReservationWarning         `json:"warnings,omitempty"`
}

type CompleteTaskResult struct {
	Success     bool               `json:"success"`
	Error       *SchedulerError    `json:"error,omitempty"`
	Assignment  *domain.Assignment `json:"assignment,omitempty"`
	Adjustments []StockAdjustment  `json:"adjustments,omitempty"`
}

// TaskActionResult is the result of pause/resume.
type TaskActionResult struct {
	Success    bool               `json:"success"`
	Error      *SchedulerError    `json:"error,omitempty"`
	Assignment *domain.Assignment `json:"assignment,omitempty"`
}

// SchedulerService coordinates per-worker FIFO task queues, substation
// claiming, predecessor gating and material reservation. All mutating
// operations run in a single database transaction; queue reads are advisory.
type SchedulerService interface {
	GetWorkerNextTask(ctx context.Context, workerID uuid.UUID) (*domain.Assignment, error)
	GetWorkerTaskQueue(ctx context.Context, workerID uuid.UUID, limit int) ([]*domain.Assignment, error)
	GetWorkerTaskStats(ctx context.Context, workerID uuid.UUID) (*scheduling.WorkerQueueStats, error)
	HasTasksInQueue(ctx context.Context, workerID uuid.UUID) (bool, error)
	CheckPredecessorsCompleted(ctx context.Context, assignmentID uuid.UUID) *PredecessorCheck
	ApplyDeferredReservation(ctx context.Context, substationID uuid.UUID) (bool, error)
	StartTask(ctx context.Context, assignmentID, workerID uuid.UUID) *StartTaskResult
	CompleteTask(ctx context.Context, assignmentID, workerID uuid.UUID, input CompletionInput) *CompleteTaskResult
	PauseTask(ctx context.Context, assignmentID, workerID uuid.UUID, reason string) *TaskActionResult
	ResumeTask(ctx context.Context, assignmentID, workerID uuid.UUID) *TaskActionResult
}

type schedulerService struct {
	db             *gorm.DB
	log            *logger.Logger
	assignmentRepo scheduling.AssignmentRepo
	substationRepo scheduling.SubstationRepo
	planNodeRepo   scheduling.PlanNodeRepo
	materialRepo   inventory.MaterialRepo
	lotRepo        inventory.LotRepo
	lots           LotService
	history        StatusHistoryService
	lotNumbers     LotNumberService
	settings       SettingsService
	metrics        *observability.Metrics
	scrapSuffix    string
	now            func() time.Time
}

func NewSchedulerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	assignmentRepo scheduling.AssignmentRepo,
	substationRepo scheduling.SubstationRepo,
	planNodeRepo scheduling.PlanNodeRepo,
	materialRepo inventory.MaterialRepo,
	lotRepo inventory.LotRepo,
	lots LotService,
	history StatusHistoryService,
	lotNumbers LotNumberService,
	settings SettingsService,
	metrics *observability.Metrics,
	scrapSuffix string,
) SchedulerService {
	if scrapSuffix == "" {
		scrapSuffix = DefaultScrapSuffix
	}
	return &schedulerService{
		db:             db,
		log:            baseLog.With("service", "SchedulerService"),
		assignmentRepo: assignmentRepo,
		substationRepo: substationRepo,
		planNodeRepo:   planNodeRepo,
		materialRepo:   materialRepo,
		lotRepo:        lotRepo,
		lots:           lots,
		history:        history,
		lotNumbers:     lotNumbers,
		settings:       settings,
		metrics:        metrics,
		scrapSuffix:    scrapSuffix,
		now:            time.Now,
	}
}

// =====================================
// Advisory queue reads
// =====================================

func (s *schedulerService) GetWorkerNextTask(ctx context.Context, workerID uuid.UUID) (*domain.Assignment, error) {
	rows, err := s.assignmentRepo.ListWorkerEligible(dbctx.New(ctx), workerID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *schedulerService) GetWorkerTaskQueue(ctx context.Context, workerID uuid.UUID, limit int) ([]*domain.Assignment, error) {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	return s.assignmentRepo.ListWorkerEligible(dbctx.New(ctx), workerID, limit)
}

func (s *schedulerService) GetWorkerTaskStats(ctx context.Context, workerID uuid.UUID) (*scheduling.WorkerQueueStats, error) {
	return s.assignmentRepo.WorkerQueueStats(dbctx.New(ctx), workerID)
}

func (s *schedulerService) HasTasksInQueue(ctx context.Context, workerID uuid.UUID) (bool, error) {
	return s.assignmentRepo.HasWorkerEligible(dbctx.New(ctx), workerID)
}

// =====================================
// Predecessor gate
// =====================================

func (s *schedulerService) CheckPredecessorsCompleted(ctx context.Context, assignmentID uuid.UUID) *PredecessorCheck {
	dbc := dbctx.New(ctx)
	a, err := s.assignmentRepo.GetByID(dbc, assignmentID)
	if err != nil {
		return &PredecessorCheck{Err: err}
	}
	if a == nil {
		return &PredecessorCheck{Err: fmt.Errorf("görev bulunamadı: %s", assignmentID)}
	}
	return s.checkPredecessors(dbc, a)
}

func (s *schedulerService) checkPredecessors(dbc dbctx.Context, a *domain.Assignment) *PredecessorCheck {
	predIDs, err := s.planNodeRepo.PredecessorNodeIDs(dbc, a.PlanID, a.NodeID)
	if err != nil {
		return &PredecessorCheck{Err: err}
	}
	if len(predIDs) == 0 {
		return &PredecessorCheck{AllCompleted: true}
	}

	nodes, err := s.planNodeRepo.GetByIDs(dbc, predIDs)
	if err != nil {
		return &PredecessorCheck{Err: err}
	}
	nameByNode := make(map[uuid.UUID]string, len(nodes))
	for _, n := range nodes {
		nameByNode[n.ID] = n.Name
	}

	assignments, err := s.assignmentRepo.GetByPlanNodes(dbc, a.PlanID, predIDs)
	if err != nil {
		return &PredecessorCheck{Err: err}
	}
	byNode := make(map[uuid.UUID]*domain.Assignment, len(assignments))
	for _, row := range assignments {
		byNode[row.NodeID] = row
	}

	check := &PredecessorCheck{}
	for _, predID := range predIDs {
		pred, ok := byNode[predID]
		if !ok {
			check.PendingPredecessors = append(check.PendingPredecessors, PendingPredecessor{
				NodeID:   predID,
				NodeName: nameByNode[predID],
				Status:   "missing",
			})
			continue
		}
		if pred.Status != domain.AssignmentStatusCompleted {
			id := pred.ID
			check.PendingPredecessors = append(check.PendingPredecessors, PendingPredecessor{
				NodeID:       predID,
				NodeName:     nameByNode[predID],
				AssignmentID: &id,
				Status:       pred.Status,
			})
		}
	}
	check.AllCompleted = len(check.PendingPredecessors) == 0
	return check
}

// =====================================
// Deferred substation reservation
// =====================================

// ApplyDeferredReservation re-reserves an available substation for its next
// eligible assignment. Safe no-op when the substation is busy, held by
// active/paused work, or has no candidate.
func (s *schedulerService) ApplyDeferredReservation(ctx context.Context, substationID uuid.UUID) (bool, error) {
	start := s.now()
	defer s.metrics.ObserveOperation("deferred_reservation", start)

	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		var err error
		applied, err = s.promoteNextForSubstation(dbc, substationID, nil)
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// =====================================
// Pause / resume
// =====================================

func (s *schedulerService) PauseTask(ctx context.Context, assignmentID, workerID uuid.UUID, reason string) *TaskActionResult {
	res := &TaskActionResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		a, err := s.lockOwnedAssignment(dbc, assignmentID, workerID, []string{domain.AssignmentStatusInProgress},
			"Görev duraklatılamaz durumda: %s")
		if err != nil {
			return err
		}
		updated, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, a.ID,
			[]string{domain.AssignmentStatusInProgress},
			map[string]interface{}{"status": domain.AssignmentStatusPaused},
		)
		if err != nil {
			return err
		}
		if !updated {
			return newSchedulerError(ErrInvalidState,
				"Görev durumu duraklatma sırasında değişti", nil)
		}
		if err := s.history.RecordStatusChange(dbc, a.ID, a.Status, domain.AssignmentStatusPaused, workerID.String(), RecordOptions{Reason: reason}); err != nil {
			return err
		}
		res.Assignment, err = s.assignmentRepo.GetByID(dbc, a.ID)
		return err
	})
	if err != nil {
		res.Error = asSchedulerError(err)
		s.log.Warn("PauseTask failed", "assignment_id", assignmentID, "error", err)
		return res
	}
	res.Success = true
	return res
}

func (s *schedulerService) ResumeTask(ctx context.Context, assignmentID, workerID uuid.UUID) *TaskActionResult {
	res := &TaskActionResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)
		a, err := s.lockOwnedAssignment(dbc, assignmentID, workerID, []string{domain.AssignmentStatusPaused},
			"Görev devam ettirilemez durumda: %s")
		if err != nil {
			return err
		}
		updated, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, a.ID,
			[]string{domain.AssignmentStatusPaused},
			map[string]interface{}{"status": domain.AssignmentStatusInProgress},
		)
		if err != nil {
			return err
		}
		if !updated {
			return newSchedulerError(ErrInvalidState,
				"Görev durumu devam ettirme sırasında değişti", nil)
		}
		if err := s.history.RecordStatusChange(dbc, a.ID, a.Status, domain.AssignmentStatusInProgress, workerID.String(), RecordOptions{}); err != nil {
			return err
		}
		res.Assignment, err = s.assignmentRepo.GetByID(dbc, a.ID)
		return err
	})
	if err != nil {
		res.Error = asSchedulerError(err)
		s.log.Warn("ResumeTask failed", "assignment_id", assignmentID, "error", err)
		return res
	}
	res.Success = true
	return res
}

// lockOwnedAssignment locks the assignment row and verifies ownership and
// current status.
func (s *schedulerService) lockOwnedAssignment(dbc dbctx.Context, assignmentID, workerID uuid.UUID, allowedStatuses []string, invalidStateFormat string) (*domain.Assignment, error) {
	a, err := s.assignmentRepo.GetByIDForUpdate(dbc, assignmentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, newSchedulerError(ErrInvalidState,
			fmt.Sprintf("Görev bulunamadı: %s", assignmentID), nil)
	}
	if a.WorkerID != workerID {
		return nil, newSchedulerError(ErrOwnershipMismatch,
			"Bu görev size atanmamış", map[string]interface{}{
				"assignment_id": a.ID,
				"owner_id":      a.WorkerID,
			})
	}
	allowed := false
	for _, st := range allowedStatuses {
		if a.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, newSchedulerError(ErrInvalidState,
			fmt.Sprintf(invalidStateFormat, a.Status), map[string]interface{}{
				"assignment_id": a.ID,
				"status":        a.Status,
			})
	}
	return a, nil
}
