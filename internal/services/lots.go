package services

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uretimplus/mes-backend/internal/data/repos/inventory"
	"github.com/uretimplus/mes-backend/internal/domain"
	"github.com/uretimplus/mes-backend/internal/pkg/dbctx"
	"github.com/uretimplus/mes-backend/internal/platform/logger"
)

// quantityScale is the decimal scale of all stock columns.
const quantityScale = 4

// MaterialRequirement is the input of the lot-tracking reservation primitive.
type MaterialRequirement struct {
	MaterialCode string
	RequiredQty  decimal.Decimal
}

// FallbackRequirement carries the buffered requirement plus the un-buffered
// base quantity to fall back to when stock is tight.
type FallbackRequirement struct {
	MaterialCode string
	RequiredQty  decimal.Decimal // includes defect buffer
	FallbackQty  decimal.Decimal // base requirement without buffer
}

type LotConsumption struct {
	LotNumber *string         `json:"lot_number,omitempty"`
	Qty       decimal.Decimal `json:"qty"`
}

type MaterialReservationSummary struct {
	MaterialCode  string           `json:"material_code"`
	RequestedQty  decimal.Decimal  `json:"requested_qty"`
	TotalReserved decimal.Decimal  `json:"total_reserved"`
	LotsConsumed  []LotConsumption `json:"lots_consumed"`
}

type ReservationWarning struct {
	MaterialCode string          `json:"material_code"`
	Message      string          `json:"message"`
	Critical     bool            `json:"critical"`
	RequiredQty  decimal.Decimal `json:"required_qty"`
	AvailableQty decimal.Decimal `json:"available_qty"`
	ReservedQty  decimal.Decimal `json:"reserved_qty"`
}

type ReservationOutcome struct {
	Reservations []MaterialReservationSummary `json:"reservations"`
	Warnings     []ReservationWarning         `json:"warnings"`
}

// LotService reserves material stock for assignments. Reservation walks a
// material's lots oldest-first and never reserves more than available stock.
// All methods mutate state and must be called with dbc.Tx set.
type LotService interface {
	ReserveWithLotTracking(dbc dbctx.Context, assignmentID uuid.UUID, reqs []MaterialRequirement) (*ReservationOutcome, error)
	ReserveWithFallback(dbc dbctx.Context, assignmentID uuid.UUID, reqs []FallbackRequirement) (*ReservationOutcome, error)
}

type lotService struct {
	materialRepo inventory.MaterialRepo
	lotRepo      inventory.LotRepo
	settings     SettingsService
	log          *logger.Logger
}

func NewLotService(
	materialRepo inventory.MaterialRepo,
	lotRepo inventory.LotRepo,
	settings SettingsService,
	baseLog *logger.Logger,
) LotService {
	return &lotService{
		materialRepo: materialRepo,
		lotRepo:      lotRepo,
		settings:     settings,
		log:          baseLog.With("service", "LotService"),
	}
}

func (s *lotService) ReserveWithLotTracking(dbc dbctx.Context, assignmentID uuid.UUID, reqs []MaterialRequirement) (*ReservationOutcome, error) {
	outcome := &ReservationOutcome{}
	lotTracking, err := s.settings.IsLotTrackingEnabled(dbc.Ctx)
	if err != nil {
		return nil, fmt.Errorf("read lot tracking setting: %w", err)
	}

	for _, req := range reqs {
		if req.RequiredQty.IsZero() || req.RequiredQty.IsNegative() {
			continue
		}
		summary, warning, err := s.reserveOne(dbc, assignmentID, req, lotTracking)
		if err != nil {
			return nil, err
		}
		outcome.Reservations = append(outcome.Reservations, *summary)
		if warning != nil {
			outcome.Warnings = append(outcome.Warnings, *warning)
		}
	}
	return outcome, nil
}

func (s *lotService) reserveOne(dbc dbctx.Context, assignmentID uuid.UUID, req MaterialRequirement, lotTracking bool) (*MaterialReservationSummary, *ReservationWarning, error) {
	summary := &MaterialReservationSummary{
		MaterialCode:  req.MaterialCode,
		RequestedQty:  req.RequiredQty,
		TotalReserved: decimal.Zero,
	}

	mat, err := s.materialRepo.GetByCodeForUpdate(dbc, req.MaterialCode)
	if err != nil {
		return nil, nil, fmt.Errorf("lock material %s: %w", req.MaterialCode, err)
	}
	if mat == nil {
		return summary, &ReservationWarning{
			MaterialCode: req.MaterialCode,
			Message:      fmt.Sprintf("Malzeme bulunamadı: %s", req.MaterialCode),
			Critical:     true,
			RequiredQty:  req.RequiredQty,
		}, nil
	}

	available := mat.StockQuantity
	if available.IsNegative() {
		available = decimal.Zero
	}
	toReserve := decimal.Min(req.RequiredQty, available)
	if toReserve.IsZero() {
		return summary, &ReservationWarning{
			MaterialCode: req.MaterialCode,
			Message:      fmt.Sprintf("Stok yetersiz, rezervasyon yapılamadı: %s", req.MaterialCode),
			Critical:     true,
			RequiredQty:  req.RequiredQty,
			AvailableQty: mat.StockQuantity,
		}, nil
	}

	var rows []*domain.LotReservation
	remaining := toReserve

	if lotTracking {
		lots, err := s.lotRepo.OldestOpenLots(dbc, req.MaterialCode)
		if err != nil {
			return nil, nil, fmt.Errorf("list lots for %s: %w", req.MaterialCode, err)
		}
		for _, lot := range lots {
			if !remaining.IsPositive() {
				break
			}
			take := decimal.Min(lot.RemainingQty, remaining)
			if !take.IsPositive() {
				continue
			}
			if err := s.lotRepo.DeductLot(dbc, lot.ID, take); err != nil {
				return nil, nil, fmt.Errorf("deduct lot %s: %w", lot.LotNumber, err)
			}
			lotNumber := lot.LotNumber
			rows = append(rows, &domain.LotReservation{
				AssignmentID:      assignmentID,
				MaterialCode:      req.MaterialCode,
				LotNumber:         &lotNumber,
				ActualReservedQty: take,
			})
			remaining = remaining.Sub(take)
		}
	}

	// Whatever the lots did not cover (or everything, when lot tracking is
	// off) is reserved against untracked stock.
	if remaining.IsPositive() {
		rows = append(rows, &domain.LotReservation{
			AssignmentID:      assignmentID,
			MaterialCode:      req.MaterialCode,
			ActualReservedQty: remaining,
		})
	}

	if _, err := s.lotRepo.CreateReservations(dbc, rows); err != nil {
		return nil, nil, fmt.Errorf("create reservations for %s: %w", req.MaterialCode, err)
	}
	if err := s.materialRepo.AdjustStock(dbc, req.MaterialCode, toReserve.Neg()); err != nil {
		return nil, nil, fmt.Errorf("deduct stock for %s: %w", req.MaterialCode, err)
	}
	if err := s.materialRepo.CreateMovement(dbc, &domain.StockMovement{
		MaterialCode: req.MaterialCode,
		QtyDelta:     toReserve.Neg(),
		MovementType: domain.MovementReservation,
		AssignmentID: &assignmentID,
		Reason:       "Üretim için rezervasyon",
	}); err != nil {
		return nil, nil, fmt.Errorf("record reservation movement for %s: %w", req.MaterialCode, err)
	}

	summary.TotalReserved = toReserve
	for _, row := range rows {
		summary.LotsConsumed = append(summary.LotsConsumed, LotConsumption{
			LotNumber: row.LotNumber,
			Qty:       row.ActualReservedQty,
		})
	}

	if toReserve.LessThan(req.RequiredQty) {
		return summary, &ReservationWarning{
			MaterialCode: req.MaterialCode,
			Message:      fmt.Sprintf("Kısmi rezervasyon: %s için %s istendi, %s rezerve edildi", req.MaterialCode, req.RequiredQty, toReserve),
			Critical:     true,
			RequiredQty:  req.RequiredQty,
			AvailableQty: mat.StockQuantity,
			ReservedQty:  toReserve,
		}, nil
	}
	return summary, nil, nil
}

func (s *lotService) ReserveWithFallback(dbc dbctx.Context, assignmentID uuid.UUID, reqs []FallbackRequirement) (*ReservationOutcome, error) {
	outcome := &ReservationOutcome{}
	for _, req := range reqs {
		stock := decimal.Zero
		mat, err := s.materialRepo.GetByCodeForUpdate(dbc, req.MaterialCode)
		if err != nil {
			return nil, fmt.Errorf("lock material %s: %w", req.MaterialCode, err)
		}
		if mat != nil {
			stock = mat.StockQuantity
		}

		target, warning := PlanReservationTarget(req, stock)
		if warning != nil {
			outcome.Warnings = append(outcome.Warnings, *warning)
		}
		if !target.IsPositive() {
			outcome.Reservations = append(outcome.Reservations, MaterialReservationSummary{
				MaterialCode:  req.MaterialCode,
				RequestedQty:  req.RequiredQty,
				TotalReserved: decimal.Zero,
			})
			continue
		}

		sub, err := s.ReserveWithLotTracking(dbc, assignmentID, []MaterialRequirement{{
			MaterialCode: req.MaterialCode,
			RequiredQty:  target,
		}})
		if err != nil {
			return nil, err
		}
		outcome.Reservations = append(outcome.Reservations, sub.Reservations...)
		outcome.Warnings = append(outcome.Warnings, sub.Warnings...)
	}
	return outcome, nil
}

// PlanReservationTarget decides how much of a material to reserve given
// current stock: the buffered amount when stock suffices, the base amount
// with a warning when only that fits, else whatever is available with a
// critical warning.
func PlanReservationTarget(req FallbackRequirement, stock decimal.Decimal) (decimal.Decimal, *ReservationWarning) {
	available := stock
	if available.IsNegative() {
		available = decimal.Zero
	}

	if available.GreaterThanOrEqual(req.RequiredQty) {
		return req.RequiredQty, nil
	}

	if available.GreaterThanOrEqual(req.FallbackQty) {
		return req.FallbackQty, &ReservationWarning{
			MaterialCode: req.MaterialCode,
			Message: fmt.Sprintf(
				"Tamponlu miktar (%s) için stok yetersiz, temel miktar (%s) rezerve edilecek: %s",
				req.RequiredQty, req.FallbackQty, req.MaterialCode,
			),
			RequiredQty:  req.RequiredQty,
			AvailableQty: stock,
			ReservedQty:  req.FallbackQty,
		}
	}

	target := decimal.Min(available, req.FallbackQty)
	return target, &ReservationWarning{
		MaterialCode: req.MaterialCode,
		Message: fmt.Sprintf(
			"KRİTİK: Temel miktar (%s) için bile stok yetersiz, %s rezerve edilecek: %s",
			req.FallbackQty, target, req.MaterialCode,
		),
		Critical:     true,
		RequiredQty:  req.RequiredQty,
		AvailableQty: stock,
		ReservedQty:  target,
	}
}

// DistributeConsumption spreads a material's total consumption across its
// reserved lots proportionally to the reserved quantities. Rounding drift is
// impossible by construction: every lot but the last gets its rounded
// proportional share subtracted from a running remainder, and the last lot
// absorbs whatever is left, so the parts always sum to the total.
func DistributeConsumption(reservations []*domain.LotReservation, total decimal.Decimal) []decimal.Decimal {
	if len(reservations) == 0 {
		return nil
	}

	out := make([]decimal.Decimal, len(reservations))
	totalReserved := decimal.Zero
	for _, r := range reservations {
		totalReserved = totalReserved.Add(r.ActualReservedQty)
	}

	remaining := total
	for i, r := range reservations {
		if i == len(reservations)-1 {
			out[i] = remaining
			return out
		}
		var share decimal.Decimal
		if totalReserved.IsPositive() {
			share = total.Mul(r.ActualReservedQty).DivRound(totalReserved, quantityScale)
		}
		if share.GreaterThan(remaining) {
			share = remaining
		}
		out[i] = share
		remaining = remaining.Sub(share)
	}
	return out
}
