package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanNode is one operation of a production plan. The node declares the
// material inputs consumed per unit of output and, optionally, the material
// code produced by the operation.
type PlanNode struct {
	ID     uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`

	Name          string `gorm:"type:text;not null" json:"name"`
	OperationName string `gorm:"type:text;not null;default:''" json:"operation_name"`

	OutputMaterialCode string `gorm:"type:text;not null;default:''" json:"output_material_code"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PlanNode) TableName() string { return "plan_node" }

// NodePredecessor declares an ordering constraint within a plan: every
// predecessor node's assignment must complete before the node may start.
type NodePredecessor struct {
	ID                uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PlanID            uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`
	NodeID            uuid.UUID `gorm:"type:uuid;not null;index:idx_node_predecessor,unique,priority:1" json:"node_id"`
	PredecessorNodeID uuid.UUID `gorm:"type:uuid;not null;index:idx_node_predecessor,unique,priority:2" json:"predecessor_node_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NodePredecessor) TableName() string { return "node_predecessor" }

// NodeMaterialInput declares the un-buffered material consumption of a node
// per unit of output.
type NodeMaterialInput struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	NodeID       uuid.UUID `gorm:"type:uuid;not null;index:idx_node_material_input,unique,priority:1" json:"node_id"`
	MaterialCode string    `gorm:"type:text;not null;index:idx_node_material_input,unique,priority:2" json:"material_code"`

	QuantityPerUnit decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity_per_unit"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NodeMaterialInput) TableName() string { return "node_material_input" }
