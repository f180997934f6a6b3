package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// StatusHistory is an immutable, append-only record of one assignment status
// transition. Rows are never updated or deleted.
type StatusHistory struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	AssignmentID uuid.UUID `gorm:"type:uuid;not null;index:idx_status_history_assignment,priority:1" json:"assignment_id"`

	FromStatus string `gorm:"type:text;not null;default:''" json:"from_status"`
	ToStatus   string `gorm:"type:text;not null" json:"to_status"`

	ChangedBy string         `gorm:"type:text;not null;default:''" json:"changed_by"`
	Reason    string         `gorm:"type:text;not null;default:''" json:"reason"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`

	ChangedAt time.Time `gorm:"not null;default:now();index:idx_status_history_assignment,priority:2" json:"changed_at"`
}

func (StatusHistory) TableName() string { return "status_history" }
