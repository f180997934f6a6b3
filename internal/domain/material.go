package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stock movement types, append-only audit of every stock mutation.
const (
	MovementReservation      = "reservation"
	MovementAdjustment       = "adjustment"
	MovementProductionOutput = "production_output"
	MovementScrapIn          = "scrap_in"
)

type Material struct {
	ID   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Code string    `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name string    `gorm:"type:text;not null;default:''" json:"name"`
	Unit string    `gorm:"type:text;not null;default:'adet'" json:"unit"`

	// Current on-hand quantity. Under-reservation adjustments at completion
	// may drive this negative; that is logged, not blocked.
	StockQuantity decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"stock_quantity"`

	IsScrap bool `gorm:"not null;default:false" json:"is_scrap"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Material) TableName() string { return "material" }

// StockMovement is an append-only ledger row. Every stock mutation made by
// the scheduler is paired with exactly one movement.
type StockMovement struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MaterialCode string    `gorm:"type:text;not null;index:idx_stock_movement_code_date,priority:1" json:"material_code"`

	QtyDelta     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_delta"`
	MovementType string          `gorm:"type:text;not null;index" json:"movement_type"`

	LotNumber    *string    `gorm:"type:text;index" json:"lot_number,omitempty"`
	AssignmentID *uuid.UUID `gorm:"type:uuid;index" json:"assignment_id,omitempty"`
	Reason       string     `gorm:"type:text;not null;default:''" json:"reason"`

	CreatedAt time.Time `gorm:"not null;default:now();index:idx_stock_movement_code_date,priority:2" json:"created_at"`
}

func (StockMovement) TableName() string { return "stock_movement" }
