package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	pkgstripe "github.com/riverstonegoods/storefront-backend/pkg/stripe"
)

// CancelOrder cancels a pending or paid order. The status flip is the commit
// point: once the guarded update wins, provider and inventory steps run as
// best-effort compensation and report problems to the operator inbox instead
// of rolling back.
func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) (*CancelOrderResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Actor == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor required")
	}

	order, err := s.repo.FindByID(ctx, input.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if !order.Status.Cancellable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order in status %s cannot be cancelled", order.Status)).
			WithDetails(map[string]any{"status": order.Status.String()})
	}
	previous := order.Status

	// Commit point: flip the status only if nobody else moved it first.
	rows, err := s.repo.GuardedTransition(ctx, order.ID, previous, enums.OrderStatusCancelled)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if rows == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order was modified concurrently")
	}

	result := &CancelOrderResult{
		OrderID:        order.ID,
		PreviousStatus: previous,
		Status:         enums.OrderStatusCancelled,
	}

	// The transition is committed; record it before the provider step so a
	// hard failure there cannot lose the history and audit trail.
	s.writeHistory(ctx, order.ID, previous, enums.OrderStatusCancelled,
		enums.StatusReasonOrderCancelled, nil)
	audit := &models.AuditLog{
		ID:      uuid.New(),
		OrderID: order.ID,
		Actor:   input.Actor,
		Action:  "order.cancel",
		Reason:  input.Reason,
	}
	if err := s.repo.CreateAuditLog(ctx, audit); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "failed to write audit log", err)
	}

	if err := s.cancelProviderPayment(ctx, order, previous, input.StripeSecretKey, result); err != nil {
		return nil, err
	}

	s.restoreInventory(ctx, order.ID, result)

	s.sendCancellationEmail(ctx, order, result)
	return result, nil
}

// cancelProviderPayment voids or refunds the payment intent. Skipped entirely
// for orders that never reached paid, or when no secret is available.
func (s *service) cancelProviderPayment(ctx context.Context, order *models.Order, previous enums.OrderStatus, callerKey string, result *CancelOrderResult) error {
	if order.StripePaymentIntentID == nil || *order.StripePaymentIntentID == "" {
		return nil
	}
	if previous != enums.OrderStatusPaid {
		return nil
	}
	if s.gateway == nil || (callerKey == "" && !s.gatewayHasKey) {
		s.logg.Warn(s.logg.WithOrderID(ctx, order.ID.String()),
			"no stripe secret available, skipping provider cancellation")
		// Captured funds stay with the provider; make sure operators see it.
		oid := order.ID
		if err := s.inbox.Publish(ctx, inbox.PublishParams{
			Severity: enums.InboxSeverityWarning,
			Kind:     enums.InboxKindPaymentAlert,
			Title:    "Cancelled Without Provider Refund",
			Body: fmt.Sprintf("paid order %s was cancelled but no stripe secret was available to void or refund intent %s",
				order.ID, *order.StripePaymentIntentID),
			OrderID: &oid,
		}); err != nil {
			s.logg.Error(ctx, "failed to publish inbox item", err)
		}
		return nil
	}

	intentID := *order.StripePaymentIntentID
	_, err := s.gateway.CancelPaymentIntent(ctx, callerKey, intentID)
	if err == nil {
		result.StripeCancelled = true
		return nil
	}

	if !pkgstripe.IsUnexpectedState(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel payment intent")
	}

	// Intent already captured: refund the un-refunded balance instead.
	balance := order.TotalNetCents - order.RefundedAmountCents
	if balance <= 0 {
		return nil
	}
	if _, err := s.gateway.CreateRefund(ctx, callerKey, intentID, balance); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund captured payment")
	}
	result.StripeRefunded = true
	return nil
}

// restoreInventory releases the live reservation or, for already-consumed
// orders, inserts compensating movements. Failures raise an inbox item but
// never fail the cancellation.
func (s *service) restoreInventory(ctx context.Context, orderID uuid.UUID, result *CancelOrderResult) {
	released, err := s.inventory.ReleaseStockReservationForOrder(ctx, orderID)
	if err != nil {
		s.reportCleanupFailure(ctx, orderID, err)
		return
	}
	result.ReleasedReservations = released
	if released > 0 {
		return
	}

	restored, err := s.inventory.RestoreSaleForOrder(ctx, orderID)
	if err != nil {
		s.reportCleanupFailure(ctx, orderID, err)
		return
	}
	result.RestoredMovements = restored
}

func (s *service) reportCleanupFailure(ctx context.Context, orderID uuid.UUID, cause error) {
	s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "inventory restoration failed", cause)
	oid := orderID
	if err := s.inbox.Publish(ctx, inbox.PublishParams{
		Severity: enums.InboxSeverityCritical,
		Kind:     enums.InboxKindStockCleanup,
		Title:    "Manual Inventory Cleanup Required",
		Body:     fmt.Sprintf("inventory restoration failed for cancelled order %s: %v", orderID, cause),
		OrderID:  &oid,
	}); err != nil {
		s.logg.Error(ctx, "failed to publish cleanup inbox item", err)
	}
}

func (s *service) sendCancellationEmail(ctx context.Context, order *models.Order, result *CancelOrderResult) {
	to := customerEmailFromMetadata(order.Metadata)
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
	s.spawn(func() {
		if err := s.mailer.SendOrderCancelled(detached, email); err != nil {
			s.logg.Error(s.logg.WithOrderID(detached, order.ID.String()),
				"failed to send cancellation email", err)
		}
	})
}

// customerEmailFromMetadata pulls the customer address out of order metadata.
// Older checkout flows wrote customer_email, newer ones write email.
func customerEmailFromMetadata(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var metadata map[string]any
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return ""
	}
	for _, key := range []string{"email", "customer_email"} {
		if value, ok := metadata[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}
