package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// OrderStatusHistory is the append-only audit trail of status transitions.
// Every transition gets a row except the initial pending state.
type OrderStatusHistory struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	OldStatus     enums.OrderStatus  `gorm:"column:old_status;type:text;not null"`
	NewStatus     enums.OrderStatus  `gorm:"column:new_status;type:text;not null"`
	Reason        enums.StatusReason `gorm:"column:reason;type:text;not null"`
	StripeEventID *string            `gorm:"column:stripe_event_id"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
}
