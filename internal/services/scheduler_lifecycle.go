package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
)

// =====================================
// StartTask: pending/ready -> in_progress
// =====================================

func (s *schedulerService) StartTask(ctx context.Context, assignmentID, workerID uuid.UUID) *StartTaskResult {
	opStart := s.now()
	defer s.metrics.ObserveOperation("start_task", opStart)

	res := &StartTaskResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		a, err := s.lockOwnedAssignment(dbc, assignmentID, workerID,
			[]string{domain.AssignmentStatusPending, domain.AssignmentStatusReady},
			"Görev başlatılamaz durumda: %s")
		if err != nil {
			return err
		}

		check := s.checkPredecessors(dbc, a)
		if check.Err != nil {
			return fmt.Errorf("önkoşul kontrolü başarısız: %w", check.Err)
		}
		if !check.AllCompleted {
			parts := make([]string, 0, len(check.PendingPredecessors))
			for _, p := range check.PendingPredecessors {
				parts = append(parts, fmt.Sprintf("%s (%s)", p.NodeName, p.Status))
			}
			return newSchedulerError(ErrPredecessorBlocked,
				"Önceki görevler tamamlanmadı: "+strings.Join(parts, ", "),
				map[string]interface{}{"pending_predecessors": check.PendingPredecessors})
		}

		node, err := s.planNodeRepo.GetByID(dbc, a.NodeID)
		if err != nil {
			s.log.Warn("plan node lookup failed, continuing without node data", "node_id", a.NodeID, "error", err)
			node = nil
		}

		now := s.now()
		reservationStatus := domain.MaterialReservationNotRequired
		actual := domain.QuantityMap{}

		buffered := a.PreProductionReservedAmount.Data()
		if len(buffered) > 0 {
			baseByCode := s.baseRequirements(dbc, a)
			reqs := make([]FallbackRequirement, 0, len(buffered))
			for _, code := range sortedCodes(buffered) {
				fallback, ok := baseByCode[code]
				if !ok || !fallback.IsPositive() {
					fallback = buffered[code]
				}
				reqs = append(reqs, FallbackRequirement{
					MaterialCode: code,
					RequiredQty:  buffered[code],
					FallbackQty:  fallback,
				})
			}

			outcome, err := s.lots.ReserveWithFallback(dbc, a.ID, reqs)
			if err != nil {
				return fmt.Errorf("malzeme rezervasyonu başarısız: %w", err)
			}
			res.Reservations = outcome.Reservations
			res.Warnings = outcome.Warnings

			reservationStatus = domain.MaterialReservationReserved
			for _, w := range outcome.Warnings {
				s.metrics.ReservationWarning(w.Critical)
				if w.Critical {
					reservationStatus = domain.MaterialReservationPartial
				}
			}
			for _, r := range outcome.Reservations {
				actual[r.MaterialCode] = r.TotalReserved
			}
		}

		if a.SubstationID != nil {
			operation := ""
			if node != nil {
				operation = node.OperationName
			}
			if err := s.claimSubstation(dbc, a, workerID, operation, now); err != nil {
				return err
			}
		}

		updated, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, a.ID,
			[]string{domain.AssignmentStatusPending, domain.AssignmentStatusReady},
			map[string]interface{}{
				"status":                      domain.AssignmentStatusInProgress,
				"started_at":                  now,
				"actual_reserved_amounts":     datatypes.NewJSONType(actual),
				"material_reservation_status": reservationStatus,
			})
		if err != nil {
			return err
		}
		if !updated {
			return newSchedulerError(ErrInvalidState,
				"Görev durumu başlatma sırasında değişti", nil)
		}

		if err := s.history.RecordStatusChange(dbc, a.ID, a.Status, domain.AssignmentStatusInProgress, workerID.String(), RecordOptions{
			Metadata: map[string]interface{}{
				"reserved_amounts":   actual,
				"reservation_status": reservationStatus,
				"warning_count":      len(res.Warnings),
			},
		}); err != nil {
			return err
		}

		res.Assignment, err = s.assignmentRepo.GetByID(dbc, a.ID)
		return err
	})
	if err != nil {
		res.Error = asSchedulerError(err)
		s.metrics.TaskFailed("start_task", string(res.Error.Code))
		s.log.Warn("StartTask failed", "assignment_id", assignmentID, "worker_id", workerID, "error", err)
		return res
	}
	res.Success = true
	s.metrics.TaskStarted()
	s.log.Info("Task started", "assignment_id", assignmentID, "worker_id", workerID, "warnings", len(res.Warnings))
	return res
}

// baseRequirements returns the node's un-buffered material requirement for
// the assignment's planned quantity. Lookup failure yields an empty map so a
// task can still start without declared inputs.
func (s *schedulerService) baseRequirements(dbc dbctx.Context, a *domain.Assignment) domain.QuantityMap {
	out := domain.QuantityMap{}
	inputs, err := s.planNodeRepo.MaterialInputs(dbc, a.NodeID)
	if err != nil {
		s.log.Warn("material input lookup failed, continuing without base requirements", "node_id", a.NodeID, "error", err)
		return out
	}
	for _, in := range inputs {
		out[in.MaterialCode] = in.QuantityPerUnit.Mul(a.PlannedQuantity)
	}
	return out
}

// claimSubstation acquires the assignment's substation. Starting is allowed
// only when the substation is available or already reserved for this exact
// assignment.
func (s *schedulerService) claimSubstation(dbc dbctx.Context, a *domain.Assignment, workerID uuid.UUID, operation string, now time.Time) error {
	st, err := s.substationRepo.GetByIDForUpdate(dbc, *a.SubstationID)
	if err != nil {
		return err
	}
	if st == nil {
		return newSchedulerError(ErrSubstationUnavailable,
			fmt.Sprintf("İstasyon bulunamadı: %s", *a.SubstationID), nil)
	}

	reservedForThis := st.Status == domain.SubstationStatusReserved &&
		st.CurrentAssignmentID != nil && *st.CurrentAssignmentID == a.ID
	if st.Status != domain.SubstationStatusAvailable && !reservedForThis {
		return newSchedulerError(ErrSubstationUnavailable,
			fmt.Sprintf("İstasyon müsait değil: %s (%s)", st.Code, st.Status),
			map[string]interface{}{
				"substation_id":         st.ID,
				"substation_status":     st.Status,
				"current_assignment_id": st.CurrentAssignmentID,
			})
	}

	return s.substationRepo.UpdateFields(dbc, st.ID, map[string]interface{}{
		"status":                domain.SubstationStatusInUse,
		"current_assignment_id": a.ID,
		"assigned_worker_id":    workerID,
		"current_operation":     operation,
		"reserved_at":           nil,
		"in_use_since":          now,
		"current_expected_end":  a.EstimatedEndTime,
	})
}

// =====================================
// CompleteTask: in_progress -> completed
// =====================================

func (s *schedulerService) CompleteTask(ctx context.Context, assignmentID, workerID uuid.UUID, input CompletionInput) *CompleteTaskResult {
	opStart := s.now()
	defer s.metrics.ObserveOperation("complete_task", opStart)

	res := &CompleteTaskResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.WithTx(ctx, tx)

		a, err := s.lockOwnedAssignment(dbc, assignmentID, workerID,
			[]string{domain.AssignmentStatusInProgress},
			"Görev tamamlanamaz durumda: %s")
		if err != nil {
			return err
		}

		node, err := s.planNodeRepo.GetByID(dbc, a.NodeID)
		if err != nil {
			s.log.Warn("plan node lookup failed, continuing without node data", "node_id", a.NodeID, "error", err)
			node = nil
		}
		ratios := domain.QuantityMap{}
		if node != nil {
			inputs, err := s.planNodeRepo.MaterialInputs(dbc, a.NodeID)
			if err != nil {
				s.log.Warn("material input lookup failed, reconciling without ratios", "node_id", a.NodeID, "error", err)
			} else {
				for _, in := range inputs {
					ratios[in.MaterialCode] = in.QuantityPerUnit
				}
			}
		}

		now := s.now()
		consumedAny, err := s.reconcileConsumption(dbc, a, input, ratios, res)
		if err != nil {
			return err
		}

		if err := s.bookOutput(dbc, a, node, input, now); err != nil {
			return err
		}
		if err := s.bookScrap(dbc, a, node, input); err != nil {
			return err
		}

		reservationStatus := a.MaterialReservationStatus
		if consumedAny {
			reservationStatus = domain.MaterialReservationConsumed
		}
		inputScrap := input.InputScrapCounts
		if inputScrap == nil {
			inputScrap = domain.QuantityMap{}
		}
		productionScrap := input.ProductionScrapCounts
		if productionScrap == nil {
			productionScrap = domain.QuantityMap{}
		}

		updated, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, a.ID,
			[]string{domain.AssignmentStatusInProgress},
			map[string]interface{}{
				"status":                      domain.AssignmentStatusCompleted,
				"completed_at":                now,
				"actual_quantity":             input.QuantityProduced,
				"defect_quantity":             input.DefectQuantity,
				"input_scrap_counts":          datatypes.NewJSONType(inputScrap),
				"production_scrap_counts":     datatypes.NewJSONType(productionScrap),
				"material_reservation_status": reservationStatus,
			})
		if err != nil {
			return err
		}
		if !updated {
			return newSchedulerError(ErrInvalidState,
				"Görev durumu tamamlama sırasında değişti", nil)
		}

		if a.SubstationID != nil {
			if err := s.releaseSubstation(dbc, a); err != nil {
				return err
			}
			if _, err := s.promoteNextForSubstation(dbc, *a.SubstationID, &a.PlanID); err != nil {
				return err
			}
		}
		if err := s.promoteWorkerQueued(dbc, a.WorkerID, &a.PlanID); err != nil {
			return err
		}

		if err := s.history.RecordStatusChange(dbc, a.ID, a.Status, domain.AssignmentStatusCompleted, workerID.String(), RecordOptions{
			Metadata: map[string]interface{}{
				"actual_quantity": input.QuantityProduced,
				"defect_quantity": input.DefectQuantity,
				"adjustments":     res.Adjustments,
			},
		}); err != nil {
			return err
		}

		res.Assignment, err = s.assignmentRepo.GetByID(dbc, a.ID)
		return err
	})
	if err != nil {
		res.Error = asSchedulerError(err)
		s.metrics.TaskFailed("complete_task", string(res.Error.Code))
		s.log.Warn("CompleteTask failed", "assignment_id", assignmentID, "worker_id", workerID, "error", err)
		return res
	}
	res.Success = true
	s.metrics.TaskCompleted()
	s.log.Info("Task completed", "assignment_id", assignmentID, "worker_id", workerID, "adjustments", len(res.Adjustments))
	return res
}

// reconcileConsumption computes each material's actual total consumption,
// distributes it across the reserved lots and settles the reserved-vs-
// consumed delta against stock.
func (s *schedulerService) reconcileConsumption(dbc dbctx.Context, a *domain.Assignment, input CompletionInput, ratios domain.QuantityMap, res *CompleteTaskResult) (bool, error) {
	reservations, err := s.lotRepo.ActiveReservations(dbc, a.ID)
	if err != nil {
		return false, err
	}
	if len(reservations) == 0 {
		return false, nil
	}

	byCode := map[string][]*domain.LotReservation{}
	var codes []string
	for _, r := range reservations {
		if _, ok := byCode[r.MaterialCode]; !ok {
			codes = append(codes, r.MaterialCode)
		}
		byCode[r.MaterialCode] = append(byCode[r.MaterialCode], r)
	}

	produced := input.QuantityProduced.Add(input.DefectQuantity)
	for _, code := range codes {
		rows := byCode[code]

		totalReserved := decimal.Zero
		for _, row := range rows {
			totalReserved = totalReserved.Add(row.ActualReservedQty)
		}

		totalConsumed := produced.Mul(ratios[code]).
			Add(input.InputScrapCounts[code]).
			Add(input.ProductionScrapCounts[code])
		if totalConsumed.IsNegative() {
			totalConsumed = decimal.Zero
		}

		shares := DistributeConsumption(rows, totalConsumed)
		for i, row := range rows {
			if err := s.lotRepo.MarkReservationConsumed(dbc, row.ID, shares[i]); err != nil {
				return false, err
			}
		}

		delta := totalReserved.Sub(totalConsumed)
		if !delta.IsZero() {
			if err := s.materialRepo.AdjustStock(dbc, code, delta); err != nil {
				return false, err
			}
			if err := s.materialRepo.CreateMovement(dbc, &domain.StockMovement{
				MaterialCode: code,
				QtyDelta:     delta,
				MovementType: domain.MovementAdjustment,
				AssignmentID: &a.ID,
				Reason:       "Rezervasyon/tüketim mutabakatı",
			}); err != nil {
				return false, err
			}
			if delta.IsNegative() {
				mat, err := s.materialRepo.GetByCode(dbc, code)
				if err == nil && mat != nil && mat.StockQuantity.IsNegative() {
					s.log.Warn("stock went negative after consumption reconciliation",
						"material_code", code, "stock_quantity", mat.StockQuantity)
				}
			}
		}
		res.Adjustments = append(res.Adjustments, StockAdjustment{
			MaterialCode:  code,
			ReservedQty:   totalReserved,
			ConsumedQty:   totalConsumed,
			AdjustmentQty: delta,
		})
	}
	return true, nil
}

// bookOutput adds the produced quantity to the node's output material,
// tagging it with a freshly generated lot when lot tracking is on.
func (s *schedulerService) bookOutput(dbc dbctx.Context, a *domain.Assignment, node *domain.PlanNode, input CompletionInput, now time.Time) error {
	if !input.QuantityProduced.IsPositive() || node == nil || node.OutputMaterialCode == "" {
		return nil
	}
	code := node.OutputMaterialCode
	if _, err := s.materialRepo.EnsureMaterial(dbc, code, code, false); err != nil {
		return err
	}

	var lotNumber *string
	lotTracking, err := s.settings.IsLotTrackingEnabled(dbc.Ctx)
	if err != nil {
		return err
	}
	if lotTracking {
		ln, err := s.lotNumbers.Generate(dbc, code, now)
		if err != nil {
			return err
		}
		if err := s.lotRepo.CreateLot(dbc, &domain.MaterialLot{
			MaterialCode: code,
			LotNumber:    ln,
			RemainingQty: input.QuantityProduced,
			ReceivedAt:   now,
		}); err != nil {
			return err
		}
		lotNumber = &ln
	}

	if err := s.materialRepo.AdjustStock(dbc, code, input.QuantityProduced); err != nil {
		return err
	}
	return s.materialRepo.CreateMovement(dbc, &domain.StockMovement{
		MaterialCode: code,
		QtyDelta:     input.QuantityProduced,
		MovementType: domain.MovementProductionOutput,
		LotNumber:    lotNumber,
		AssignmentID: &a.ID,
		Reason:       "Üretim çıktısı",
	})
}

// bookScrap books every nonzero scrap quantity to the derived scrap material,
// creating the scrap material record on first use.
func (s *schedulerService) bookScrap(dbc dbctx.Context, a *domain.Assignment, node *domain.PlanNode, input CompletionInput) error {
	for _, code := range sortedCodes(input.InputScrapCounts) {
		if err := s.addScrap(dbc, a.ID, code, input.InputScrapCounts[code], "Girdi firesi"); err != nil {
			return err
		}
	}
	for _, code := range sortedCodes(input.ProductionScrapCounts) {
		if err := s.addScrap(dbc, a.ID, code, input.ProductionScrapCounts[code], "Üretim firesi"); err != nil {
			return err
		}
	}
	if input.DefectQuantity.IsPositive() && node != nil && node.OutputMaterialCode != "" {
		if err := s.addScrap(dbc, a.ID, node.OutputMaterialCode, input.DefectQuantity, "Hatalı üretim"); err != nil {
			return err
		}
	}
	return nil
}

func (s *schedulerService) addScrap(dbc dbctx.Context, assignmentID uuid.UUID, baseCode string, qty decimal.Decimal, reason string) error {
	if !qty.IsPositive() {
		return nil
	}
	scrapCode := baseCode + s.scrapSuffix
	if _, err := s.materialRepo.EnsureMaterial(dbc, scrapCode, baseCode+" hurda", true); err != nil {
		return err
	}
	if err := s.materialRepo.AdjustStock(dbc, scrapCode, qty); err != nil {
		return err
	}
	return s.materialRepo.CreateMovement(dbc, &domain.StockMovement{
		MaterialCode: scrapCode,
		QtyDelta:     qty,
		MovementType: domain.MovementScrapIn,
		AssignmentID: &assignmentID,
		Reason:       reason,
	})
}

// =====================================
// Substation release and promotion
// =====================================

func (s *schedulerService) releaseSubstation(dbc dbctx.Context, a *domain.Assignment) error {
	st, err := s.substationRepo.GetByIDForUpdate(dbc, *a.SubstationID)
	if err != nil {
		return err
	}
	if st == nil || st.CurrentAssignmentID == nil || *st.CurrentAssignmentID != a.ID {
		return nil
	}
	return s.substationRepo.UpdateFields(dbc, st.ID, map[string]interface{}{
		"status":                domain.SubstationStatusAvailable,
		"current_assignment_id": nil,
		"assigned_worker_id":    nil,
		"current_operation":     "",
		"reserved_at":           nil,
		"in_use_since":          nil,
		"current_expected_end":  nil,
	})
}

// promoteNextForSubstation is the single promotion path shared by task
// completion and deferred reservation. It never steals a substation whose
// holder is in_progress or paused. Preference order: promote the oldest
// queued assignment targeting the substation (same plan first), else reserve
// for the oldest already-pending one.
func (s *schedulerService) promoteNextForSubstation(dbc dbctx.Context, substationID uuid.UUID, preferredPlanID *uuid.UUID) (bool, error) {
	st, err := s.substationRepo.GetByIDForUpdate(dbc, substationID)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	if st.CurrentAssignmentID != nil {
		holder, err := s.assignmentRepo.GetByID(dbc, *st.CurrentAssignmentID)
		if err != nil {
			return false, err
		}
		if holder != nil && (holder.Status == domain.AssignmentStatusInProgress || holder.Status == domain.AssignmentStatusPaused) {
			return false, nil
		}
	}
	if st.Status != domain.SubstationStatusAvailable {
		return false, nil
	}

	if next, err := s.assignmentRepo.OldestQueuedForSubstation(dbc, substationID, preferredPlanID); err != nil {
		return false, err
	} else if next != nil {
		if _, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, next.ID,
			[]string{domain.AssignmentStatusQueued},
			map[string]interface{}{"status": domain.AssignmentStatusPending},
		); err != nil {
			return false, err
		}
		if err := s.reserveSubstationFor(dbc, st.ID, next); err != nil {
			return false, err
		}
		if err := s.history.RecordStatusChange(dbc, next.ID, domain.AssignmentStatusQueued, domain.AssignmentStatusPending, systemActor, RecordOptions{
			Reason: "İstasyon müsait oldu",
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	if next, err := s.assignmentRepo.OldestPendingForSubstation(dbc, substationID); err != nil {
		return false, err
	} else if next != nil {
		if err := s.reserveSubstationFor(dbc, st.ID, next); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *schedulerService) reserveSubstationFor(dbc dbctx.Context, substationID uuid.UUID, a *domain.Assignment) error {
	return s.substationRepo.UpdateFields(dbc, substationID, map[string]interface{}{
		"status":                domain.SubstationStatusReserved,
		"current_assignment_id": a.ID,
		"assigned_worker_id":    a.WorkerID,
		"reserved_at":           s.now(),
	})
}

// promoteWorkerQueued promotes the worker's own next queued assignment to
// pending, preferring the plan just worked on and falling back to the
// earliest expected start across all plans. The promotion happens only when
// the target substation can be reserved without stealing it from another
// assignment.
func (s *schedulerService) promoteWorkerQueued(dbc dbctx.Context, workerID uuid.UUID, preferredPlanID *uuid.UUID) error {
	next, err := s.assignmentRepo.OldestQueuedForWorker(dbc, workerID, preferredPlanID)
	if err != nil || next == nil {
		return err
	}

	if next.SubstationID != nil {
		st, err := s.substationRepo.GetByIDForUpdate(dbc, *next.SubstationID)
		if err != nil {
			return err
		}
		reservedForThis := st != nil && st.Status == domain.SubstationStatusReserved &&
			st.CurrentAssignmentID != nil && *st.CurrentAssignmentID == next.ID
		if st == nil || (st.Status != domain.SubstationStatusAvailable && !reservedForThis) {
			return nil
		}
		if err := s.reserveSubstationFor(dbc, st.ID, next); err != nil {
			return err
		}
	}

	if _, err := s.assignmentRepo.UpdateFieldsWhereStatus(dbc, next.ID,
		[]string{domain.AssignmentStatusQueued},
		map[string]interface{}{"status": domain.AssignmentStatusPending},
	); err != nil {
		return err
	}
	return s.history.RecordStatusChange(dbc, next.ID, domain.AssignmentStatusQueued, domain.AssignmentStatusPending, systemActor, RecordOptions{
		Reason: "Sıradaki görev hazırlandı",
	})
}

func sortedCodes(m domain.QuantityMap) []string {
	if len(m) == 0 {
		return nil
	}
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
