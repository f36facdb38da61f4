package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment records one provider payment object. The unique provider id is the
// idempotency marker for "already processed".
type Payment struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	StripePaymentID string    `gorm:"column:stripe_payment_id;not null;uniqueIndex"`
	AmountCents     int64     `gorm:"column:amount_cents;not null"`
	Currency        string    `gorm:"column:currency;not null;default:'usd'"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}
