package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// Order is the buyer-facing order this engine reconciles. Rows are created at
// checkout initiation and mutated by webhook handlers and the cancellation
// flow; they are never physically deleted.
type Order struct {
	ID                      uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID              *uuid.UUID        `gorm:"column:customer_id;type:uuid;index"`
	Status                  enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Currency                string            `gorm:"column:currency;not null;default:'usd'"`
	TotalNetCents           int64             `gorm:"column:total_net_cents;not null"`
	RefundedAmountCents     int64             `gorm:"column:refunded_amount_cents;not null;default:0"`
	RefundCount             int               `gorm:"column:refund_count;not null;default:0"`
	StripeCheckoutSessionID *string           `gorm:"column:stripe_checkout_session_id;index"`
	StripePaymentIntentID   *string           `gorm:"column:stripe_payment_intent_id;index"`
	PaidAt                  *time.Time        `gorm:"column:paid_at"`
	Metadata                json.RawMessage   `gorm:"column:metadata;type:jsonb"`
	Items                   []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
