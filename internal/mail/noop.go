package mail

import (
	"context"

	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

type loggingMailer struct {
	logg *logger.Logger
}

// NewLoggingMailer returns a Mailer that only logs. Used in dev and whenever
// no SendGrid key is configured.
func NewLoggingMailer(logg *logger.Logger) Mailer {
	return &loggingMailer{logg: logg}
}

func (m *loggingMailer) SendOrderConfirmation(ctx context.Context, email OrderEmail) error {
	m.log(ctx, "order confirmation email skipped (no mail provider)", email)
	return nil
}

func (m *loggingMailer) SendOrderCancelled(ctx context.Context, email OrderEmail) error {
	m.log(ctx, "order cancelled email skipped (no mail provider)", email)
	return nil
}

func (m *loggingMailer) SendPaymentFailed(ctx context.Context, email OrderEmail) error {
	m.log(ctx, "payment failed email skipped (no mail provider)", email)
	return nil
}

func (m *loggingMailer) log(ctx context.Context, msg string, email OrderEmail) {
	if m.logg == nil {
		return
	}
	ctx = m.logg.WithFields(ctx, map[string]any{
		"orderId": email.OrderID.String(),
		"to":      email.To,
	})
	m.logg.Info(ctx, msg)
}
