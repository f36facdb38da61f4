package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// InboxItem is an operator-facing alert. Anything that violates an invariant
// or fails a non-critical step lands here; items are never silently dropped.
type InboxItem struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Severity  enums.InboxSeverity `gorm:"column:severity;type:text;not null"`
	Kind      enums.InboxKind     `gorm:"column:kind;type:text;not null"`
	Title     string              `gorm:"column:title;type:text;not null"`
	Body      string              `gorm:"column:body;type:text;not null"`
	OrderID   *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	ReadAt    *time.Time          `gorm:"column:read_at"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}
