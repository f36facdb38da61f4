package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// CancelOrderInput is the operator-facing cancel request. StripeSecretKey is
// an optional caller-supplied credential; when empty the configured key is
// used, and when neither exists the provider step is skipped.
type CancelOrderInput struct {
	OrderID         uuid.UUID
	Reason          string
	Actor           string
	StripeSecretKey string
}

// CancelOrderResult reports what the cancellation actually did.
type CancelOrderResult struct {
	OrderID              uuid.UUID         `json:"orderId"`
	PreviousStatus       enums.OrderStatus `json:"previousStatus"`
	Status               enums.OrderStatus `json:"status"`
	StripeCancelled      bool              `json:"stripeCancelled"`
	StripeRefunded       bool              `json:"stripeRefunded"`
	ReleasedReservations int64             `json:"releasedReservations"`
	RestoredMovements    int               `json:"restoredMovements"`
}

// MarkPaidParams carries what the payment-success transition needs.
type MarkPaidParams struct {
	OrderID           uuid.UUID
	PaymentIntentID   string
	CheckoutSessionID *string
	StripeEventID     *string
	PaidAt            time.Time
}
