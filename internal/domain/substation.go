package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	SubstationStatusAvailable = "available"
	SubstationStatusReserved  = "reserved"
	SubstationStatusInUse     = "in_use"
)

// Substation is a shared physical resource (machine/station). At most one
// non-terminal assignment may hold CurrentAssignmentID at any time.
type Substation struct {
	ID   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Code string    `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name string    `gorm:"type:text;not null;default:''" json:"name"`

	Status              string     `gorm:"type:text;not null;default:'available';index" json:"status"`
	CurrentAssignmentID *uuid.UUID `gorm:"type:uuid;index" json:"current_assignment_id,omitempty"`
	AssignedWorkerID    *uuid.UUID `gorm:"type:uuid" json:"assigned_worker_id,omitempty"`
	CurrentOperation    string     `gorm:"type:text;not null;default:''" json:"current_operation"`

	ReservedAt         *time.Time `json:"reserved_at,omitempty"`
	InUseSince         *time.Time `json:"in_use_since,omitempty"`
	CurrentExpectedEnd *time.Time `json:"current_expected_end,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Substation) TableName() string { return "substation" }
