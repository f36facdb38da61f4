package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/refunds"
	"github.com/riverstonegoods/storefront-backend/pkg/db"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
)

// paymentSuccess normalizes the two payment-success shapes (checkout session
// and payment intent) into one flow.
type paymentSuccess struct {
	OrderID           uuid.UUID
	PaymentIntentID   string
	CheckoutSessionID *string
	AmountCents       int64
	Currency          string
	Email             string
	CouponCode        string
	StripeEventID     string
}

func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		s.logg.Warn(ctx, "checkout session completed without payment intent, ignoring")
		return outcomeIgnored(), nil
	}

	orderID, ok := orderIDFromMetadata(session.Metadata)
	if !ok {
		order, err := s.orders.ResolveByCheckoutSession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			s.logg.Warn(ctx, "checkout session does not resolve to an order, ignoring")
			return outcomeIgnored(), nil
		}
		orderID = order.ID
	}

	sessionID := session.ID
	success := paymentSuccess{
		OrderID:           orderID,
		PaymentIntentID:   session.PaymentIntent.ID,
		CheckoutSessionID: &sessionID,
		AmountCents:       session.AmountTotal,
		Currency:          string(session.Currency),
		Email:             metadataValue(session.Metadata, "email", "customer_email"),
		CouponCode:        metadataValue(session.Metadata, "coupon_code", "couponCode"),
		StripeEventID:     event.ID,
	}
	if success.Email == "" && session.CustomerDetails != nil {
		success.Email = session.CustomerDetails.Email
	}
	return s.applyPaymentSuccess(ctx, success)
}

func (s *Service) handlePaymentIntentSucceeded(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}
	if intent.ID == "" {
		return outcomeIgnored(), nil
	}

	orderID, ok := orderIDFromMetadata(intent.Metadata)
	if !ok {
		order, err := s.orders.ResolveByPaymentIntent(ctx, intent.ID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			s.logg.Warn(ctx, "payment intent does not resolve to an order, ignoring")
			return outcomeIgnored(), nil
		}
		orderID = order.ID
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	success := paymentSuccess{
		OrderID:         orderID,
		PaymentIntentID: intent.ID,
		AmountCents:     amount,
		Currency:        string(intent.Currency),
		Email:           metadataValue(intent.Metadata, "email", "customer_email"),
		CouponCode:      metadataValue(intent.Metadata, "coupon_code", "couponCode"),
		StripeEventID:   event.ID,
	}
	return s.applyPaymentSuccess(ctx, success)
}

// applyPaymentSuccess is shared by both success shapes. The payment row keyed
// on the intent id is the replay marker, which also dedupes across the two
// event types for the same payment.
func (s *Service) applyPaymentSuccess(ctx context.Context, success paymentSuccess) (*Outcome, error) {
	ctx = s.logg.WithOrderID(ctx, success.OrderID.String())

	existing, err := s.payments.FindPaymentByProviderID(ctx, success.PaymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment marker")
	}
	if existing != nil {
		return outcomeDuplicate(), nil
	}

	order, err := s.orders.GetOrder(ctx, success.OrderID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			s.logg.Warn(ctx, "payment references unknown order, ignoring")
			return outcomeIgnored(), nil
		}
		return nil, err
	}

	currency := success.Currency
	if currency == "" {
		currency = order.Currency
	}
	if err := s.payments.CreatePayment(ctx, &models.Payment{
		ID:              uuid.New(),
		OrderID:         order.ID,
		StripePaymentID: success.PaymentIntentID,
		AmountCents:     success.AmountCents,
		Currency:        currency,
	}); err != nil {
		// A concurrent delivery recorded the payment between our marker
		// check and this insert; the unique index is the tie-breaker.
		if db.IsUniqueViolation(err, "") {
			return outcomeDuplicate(), nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment")
	}

	eventID := success.StripeEventID
	applied, err := s.orders.MarkPaid(ctx, orders.MarkPaidParams{
		OrderID:           order.ID,
		PaymentIntentID:   success.PaymentIntentID,
		CheckoutSessionID: success.CheckoutSessionID,
		StripeEventID:     &eventID,
		PaidAt:            time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logg.Warn(ctx, "order already left pending, payment recorded without transition")
		return outcomeReceived(), nil
	}

	s.consumeStock(ctx, order)
	s.recordCouponUsage(ctx, order, success.CouponCode)
	s.sendEmail(ctx, order, success.Email, emailKindConfirmation)
	return outcomeReceived(), nil
}

// consumeStock finalizes the order's reservation. Orders that predate the
// reservation protocol fall back to a direct deduction when the flag allows.
func (s *Service) consumeStock(ctx context.Context, order *models.Order) {
	consumed, err := s.inventory.ConsumeStockReservationForOrder(ctx, order.ID)
	if err != nil {
		s.reportStockProblem(ctx, order.ID, "reservation consumption failed", err)
		return
	}
	if consumed {
		return
	}
	if !s.legacyStockSupport {
		s.reportStockProblem(ctx, order.ID, "no reservation found for paid order", nil)
		return
	}

	items := make([]inventory.ReservationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, inventory.ReservationItem{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	if len(items) == 0 {
		return
	}
	if err := s.inventory.DeductStockForOrder(ctx, order.ID, items); err != nil {
		s.reportStockProblem(ctx, order.ID, "legacy stock deduction failed", err)
	}
}

func (s *Service) reportStockProblem(ctx context.Context, orderID uuid.UUID, title string, cause error) {
	body := title
	if cause != nil {
		body = fmt.Sprintf("%s: %v", title, cause)
		s.logg.Error(ctx, title, cause)
	} else {
		s.logg.Warn(ctx, title)
	}
	oid := orderID
	if err := s.inbox.Publish(ctx, inbox.PublishParams{
		Severity: enums.InboxSeverityWarning,
		Kind:     enums.InboxKindStockCleanup,
		Title:    title,
		Body:     body,
		OrderID:  &oid,
	}); err != nil {
		s.logg.Error(ctx, "failed to publish inbox item", err)
	}
}

func (s *Service) recordCouponUsage(ctx context.Context, order *models.Order, code string) {
	if code == "" {
		code = metadataValueRaw(order.Metadata, "coupon_code", "couponCode")
	}
	if code == "" {
		return
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		s.logg.Error(ctx, "failed to look up coupon", err)
		return
	}
	if coupon == nil {
		s.logg.Warn(ctx, "order references unknown coupon code "+code)
		return
	}
	usage := &models.CouponUsage{
		ID:         uuid.New(),
		CouponID:   coupon.ID,
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
	}
	if err := s.coupons.RecordUsage(ctx, usage); err != nil {
		s.logg.Error(ctx, "failed to record coupon usage", err)
	}
}

func (s *Service) handlePaymentIntentFailed(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	intent, order, outcome, err := s.resolveIntentOrder(ctx, event)
	if outcome != nil || err != nil {
		return outcome, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	eventID := event.ID
	applied, err := s.orders.MarkPaymentFailed(ctx, order.ID, &eventID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return outcomeDuplicate(), nil
	}

	if _, err := s.inventory.ReleaseStockReservationForOrder(ctx, order.ID); err != nil {
		s.reportStockProblem(ctx, order.ID, "reservation release failed after payment failure", err)
	}
	s.sendEmail(ctx, order, metadataValue(intent.Metadata, "email", "customer_email"), emailKindPaymentFailed)
	return outcomeReceived(), nil
}

func (s *Service) handlePaymentIntentCanceled(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	_, order, outcome, err := s.resolveIntentOrder(ctx, event)
	if outcome != nil || err != nil {
		return outcome, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	eventID := event.ID
	applied, err := s.orders.MarkCancelledByProvider(ctx, order.ID, &eventID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return outcomeDuplicate(), nil
	}

	if _, err := s.inventory.ReleaseStockReservationForOrder(ctx, order.ID); err != nil {
		s.reportStockProblem(ctx, order.ID, "reservation release failed after provider cancel", err)
	}
	return outcomeReceived(), nil
}

// resolveIntentOrder decodes a payment_intent.* event and maps it to an
// order. A non-nil outcome means the caller should return it immediately.
func (s *Service) resolveIntentOrder(ctx context.Context, event *stripe.Event) (*stripe.PaymentIntent, *models.Order, *Outcome, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent")
	}

	if orderID, ok := orderIDFromMetadata(intent.Metadata); ok {
		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				s.logg.Warn(ctx, "event references unknown order, ignoring")
				return nil, nil, outcomeIgnored(), nil
			}
			return nil, nil, nil, err
		}
		return &intent, order, nil, nil
	}

	order, err := s.orders.ResolveByPaymentIntent(ctx, intent.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	if order == nil {
		s.logg.Warn(ctx, "event does not resolve to an order, ignoring")
		return nil, nil, outcomeIgnored(), nil
	}
	return &intent, order, nil, nil
}

func (s *Service) handleRefundEvent(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	extracted := refunds.FromEvent(event)
	if len(extracted) == 0 {
		return outcomeIgnored(), nil
	}

	eventID := event.ID
	var applied, duplicates int
	for _, refund := range extracted {
		result, err := s.refunds.Apply(ctx, refund, &eventID)
		if err != nil {
			return nil, err
		}
		switch {
		case result.Applied:
			applied++
		case result.Duplicate:
			duplicates++
		}
	}

	switch {
	case applied > 0:
		return outcomeReceived(), nil
	case duplicates == len(extracted):
		return outcomeDuplicate(), nil
	default:
		return outcomeIgnored(), nil
	}
}

// handleDispute never touches order status; disputes are operator review
// territory until the provider resolves them.
func (s *Service) handleDispute(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode dispute")
	}

	var orderID *uuid.UUID
	intentID := ""
	if dispute.PaymentIntent != nil {
		intentID = dispute.PaymentIntent.ID
	}
	if intentID != "" {
		order, err := s.orders.ResolveByPaymentIntent(ctx, intentID)
		if err != nil {
			return nil, err
		}
		if order != nil {
			orderID = &order.ID
		}
	}

	if err := s.inbox.Publish(ctx, inbox.PublishParams{
		Severity: enums.InboxSeverityCritical,
		Kind:     enums.InboxKindDispute,
		Title:    "Payment Dispute " + string(event.Type),
		Body: fmt.Sprintf("dispute %s (%d %s) status %s, intent %s",
			dispute.ID, dispute.Amount, dispute.Currency, dispute.Status, intentID),
		OrderID: orderID,
	}); err != nil {
		return nil, err
	}
	return outcomeReceived(), nil
}

type emailKind int

const (
	emailKindConfirmation emailKind = iota
	emailKindPaymentFailed
)

// sendEmail fires the customer email on a detached goroutine; the result is
// only logged.
func (s *Service) sendEmail(ctx context.Context, order *models.Order, to string, kind emailKind) {
	if to == "" {
		to = metadataValueRaw(order.Metadata, "email", "customer_email")
	}
	if to == "" {
		return
	}
	email := mail.OrderEmail{
		To:          to,
		OrderID:     order.ID,
		AmountCents: order.TotalNetCents,
		Currency:    order.Currency,
	}
	detached := context.WithoutCancel(ctx)
	orderID := order.ID
	s.spawn(func() {
		var err error
		switch kind {
		case emailKindPaymentFailed:
			err = s.mailer.SendPaymentFailed(detached, email)
		default:
			err = s.mailer.SendOrderConfirmation(detached, email)
		}
		if err != nil {
			s.logg.Error(s.logg.WithOrderID(detached, orderID.String()),
				"failed to send order email", err)
		}
	})
}

func orderIDFromMetadata(metadata map[string]string) (uuid.UUID, bool) {
	for _, key := range []string{"orderId", "order_id"} {
		if raw, ok := metadata[key]; ok && raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				return id, true
			}
		}
	}
	return uuid.Nil, false
}

func metadataValue(metadata map[string]string, keys ...string) string {
	for _, key := range keys {
		if value, ok := metadata[key]; ok && value != "" {
			return value
		}
	}
	return ""
}

// metadataValueRaw reads keys from an order's stored metadata blob.
func metadataValueRaw(raw json.RawMessage, keys ...string) string {
	if len(raw) == 0 {
		return ""
	}
	var metadata map[string]any
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return ""
	}
	for _, key := range keys {
		if value, ok := metadata[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
