package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	LotReservationReserved = "reserved"
	LotReservationConsumed = "consumed"
)

// MaterialLot is a batch of stock with its own identifier, consumed
// oldest-first.
type MaterialLot struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MaterialCode string    `gorm:"type:text;not null;index:idx_material_lot_fifo,priority:1" json:"material_code"`
	LotNumber    string    `gorm:"type:text;not null;uniqueIndex" json:"lot_number"`

	RemainingQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"remaining_qty"`

	ReceivedAt time.Time `gorm:"not null;default:now();index:idx_material_lot_fifo,priority:2" json:"received_at"`
	CreatedAt  time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MaterialLot) TableName() string { return "material_lot" }

// LotReservation links an assignment to a consumed quantity of one lot.
// The sum of ActualReservedQty over a material's rows equals the amount
// deducted from stock when the assignment started.
type LotReservation struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssignmentID uuid.UUID `gorm:"type:uuid;not null;index" json:"assignment_id"`
	MaterialCode string    `gorm:"type:text;not null;index" json:"material_code"`

	// Nil when lot tracking is disabled.
	LotNumber *string `gorm:"type:text;index" json:"lot_number,omitempty"`

	ActualReservedQty decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"actual_reserved_qty"`
	ConsumedQty       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"consumed_qty"`

	ReservationStatus string `gorm:"type:text;not null;default:'reserved';index" json:"reservation_status"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LotReservation) TableName() string { return "lot_reservation" }

// LotSequence backs deterministic per-material, per-day lot numbers.
type LotSequence struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MaterialCode string    `gorm:"type:text;not null;index:idx_lot_sequence,unique,priority:1" json:"material_code"`
	Day          string    `gorm:"type:text;not null;index:idx_lot_sequence,unique,priority:2" json:"day"`
	LastValue    int       `gorm:"not null;default:0" json:"last_value"`

	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (LotSequence) TableName() string { return "lot_sequence" }
