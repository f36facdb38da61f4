package mail

import (
	"context"

	"github.com/google/uuid"
)

// OrderEmail carries what the customer-facing order emails need. Amounts are
// integer cents, formatted at render time.
type OrderEmail struct {
	To          string
	OrderID     uuid.UUID
	AmountCents int64
	Currency    string
}

// Mailer sends transactional order emails. Implementations must treat every
// send as best-effort; callers never fail an order flow on a mail error.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, email OrderEmail) error
	SendOrderCancelled(ctx context.Context, email OrderEmail) error
	SendPaymentFailed(ctx context.Context, email OrderEmail) error
}
