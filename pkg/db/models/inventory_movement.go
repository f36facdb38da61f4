package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// InventoryMovement is an append-only ledger row. Available stock for a
// variant is always SUM(delta) over its movements, never a stored counter.
// Rows are only ever updated to neutralize a reservation (delta set to 0,
// reason set to reservation_released), which preserves the audit trail.
type InventoryMovement struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	VariantID     uuid.UUID            `gorm:"column:variant_id;type:uuid;not null;index"`
	Delta         int                  `gorm:"column:delta;not null"`
	Reason        enums.MovementReason `gorm:"column:reason;type:text;not null"`
	OrderID       *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	ReservationID *uuid.UUID           `gorm:"column:reservation_id;type:uuid;index"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
