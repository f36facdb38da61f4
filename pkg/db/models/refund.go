package models

import (
	"time"

	"github.com/google/uuid"
)

// Refund records one provider refund object, keyed by its unique provider id.
type Refund struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	StripeRefundID string    `gorm:"column:stripe_refund_id;not null;uniqueIndex"`
	AmountCents    int64     `gorm:"column:amount_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
