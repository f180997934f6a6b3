package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	AssignmentStatusQueued     = "queued"
	AssignmentStatusPending    = "pending"
	AssignmentStatusReady      = "ready"
	AssignmentStatusInProgress = "in_progress"
	AssignmentStatusPaused     = "paused"
	AssignmentStatusCompleted  = "completed"
	AssignmentStatusCancelled  = "cancelled"
)

const SchedulingModeFIFO = "fifo"

const (
	MaterialReservationNotRequired = "not_required"
	MaterialReservationReserved    = "reserved"
	MaterialReservationPartial     = "partial"
	MaterialReservationConsumed    = "consumed"
)

// QuantityMap maps a material code to a quantity. Stored as jsonb.
type QuantityMap map[string]decimal.Decimal

// Assignment is one unit of work for one worker on one plan node.
// Created by the planner in queued/pending state; mutated only by the
// scheduler. Terminal rows (completed/cancelled) are never deleted.
type Assignment struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkerID uuid.UUID `gorm:"type:uuid;not null;index" json:"worker_id"`
	PlanID   uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`
	NodeID   uuid.UUID `gorm:"type:uuid;not null;index" json:"node_id"`

	SubstationID *uuid.UUID `gorm:"type:uuid;index" json:"substation_id,omitempty"`

	Status         string `gorm:"type:text;not null;default:'queued';index" json:"status"`
	SchedulingMode string `gorm:"type:text;not null;default:'fifo';index" json:"scheduling_mode"`
	IsUrgent       bool   `gorm:"not null;default:false" json:"is_urgent"`
	SequenceNumber int    `gorm:"not null;default:0" json:"sequence_number"`

	EstimatedStartTime *time.Time `gorm:"index" json:"estimated_start_time,omitempty"`
	EstimatedEndTime   *time.Time `json:"estimated_end_time,omitempty"`

	PlannedQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"planned_quantity"`

	// Buffered material requirement (includes the defect buffer), keyed by
	// material code. Filled by the planner.
	PreProductionReservedAmount datatypes.JSONType[QuantityMap] `gorm:"type:jsonb" json:"pre_production_reserved_amount"`
	// Quantities actually deducted from stock at start time.
	ActualReservedAmounts     datatypes.JSONType[QuantityMap] `gorm:"type:jsonb" json:"actual_reserved_amounts"`
	MaterialReservationStatus string                          `gorm:"type:text;not null;default:'not_required'" json:"material_reservation_status"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ActualQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"actual_quantity"`
	DefectQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"defect_quantity"`

	InputScrapCounts      datatypes.JSONType[QuantityMap] `gorm:"type:jsonb" json:"input_scrap_counts"`
	ProductionScrapCounts datatypes.JSONType[QuantityMap] `gorm:"type:jsonb" json:"production_scrap_counts"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Assignment) TableName() string { return "assignment" }
