package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog records who triggered an operator action and why.
type AuditLog struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Actor     string    `gorm:"column:actor;not null"`
	Action    string    `gorm:"column:action;not null"`
	Reason    string    `gorm:"column:reason"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
