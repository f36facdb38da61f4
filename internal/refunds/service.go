package refunds

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/payments"
	"github.com/riverstonegoods/storefront-backend/pkg/db"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
	"github.com/riverstonegoods/storefront-backend/pkg/metrics"
)

// Service reconciles provider refunds against order totals. The ceiling
// (refunded <= total) is re-checked inside the guarded update, so two racing
// refunds can never both land.
type Service interface {
	Apply(ctx context.Context, refund ProviderRefund, stripeEventID *string) (*ApplyResult, error)
}

// ApplyResult reports what one refund application did.
type ApplyResult struct {
	OrderID   uuid.UUID
	Applied   bool
	Duplicate bool
	Skipped   bool
	NewStatus enums.OrderStatus
}

// ServiceParams wires refund reconciler dependencies.
type ServiceParams struct {
	OrdersRepo   orders.Repository
	PaymentsRepo payments.Repository
	Inbox        inbox.Service
	Metrics      *metrics.WebhookMetrics
	Logger       *logger.Logger
}

type service struct {
	ordersRepo   orders.Repository
	paymentsRepo payments.Repository
	inbox        inbox.Service
	metrics      *metrics.WebhookMetrics
	logg         *logger.Logger
}

// NewService validates dependencies and builds the refund reconciler.
func NewService(params ServiceParams) (Service, error) {
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.PaymentsRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	}
	if params.Inbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		ordersRepo:   params.OrdersRepo,
		paymentsRepo: params.PaymentsRepo,
		inbox:        params.Inbox,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

func (s *service) Apply(ctx context.Context, refund ProviderRefund, stripeEventID *string) (*ApplyResult, error) {
	if refund.RefundID == "" {
		return &ApplyResult{Skipped: true}, nil
	}
	if refund.AmountCents <= 0 {
		return &ApplyResult{Skipped: true}, nil
	}

	existing, err := s.paymentsRepo.FindRefundByProviderID(ctx, refund.RefundID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refund marker")
	}
	if existing != nil {
		return &ApplyResult{OrderID: existing.OrderID, Duplicate: true}, nil
	}

	order, err := s.resolveOrder(ctx, refund)
	if err != nil {
		return nil, err
	}
	if order == nil {
		s.logg.Warn(s.logg.WithField(ctx, "refundId", refund.RefundID),
			"refund does not resolve to an order, skipping")
		return &ApplyResult{Skipped: true}, nil
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if !order.Status.Refundable() {
		s.publishAlert(ctx, enums.InboxSeverityWarning, enums.InboxKindPaymentAlert,
			"Refund For Non-Refundable Order",
			fmt.Sprintf("refund %s arrived while order is %s", refund.RefundID, order.Status),
			order.ID)
		return &ApplyResult{OrderID: order.ID, Skipped: true}, nil
	}

	projected := order.RefundedAmountCents + refund.AmountCents
	if projected > order.TotalNetCents {
		s.publishAlert(ctx, enums.InboxSeverityCritical, enums.InboxKindRefundViolation,
			"Refund Exceeds Order Total",
			fmt.Sprintf("refund %s of %d cents would bring refunded to %d of %d",
				refund.RefundID, refund.AmountCents, projected, order.TotalNetCents),
			order.ID)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds order total").
			WithDetails(map[string]any{
				"orderId":        order.ID.String(),
				"refundId":       refund.RefundID,
				"projectedCents": projected,
				"totalNetCents":  order.TotalNetCents,
			})
	}

	rows, err := s.ordersRepo.GuardedApplyRefund(ctx, order.ID, refund.AmountCents)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "apply refund")
	}
	if rows == 0 {
		s.metrics.IncConflict("refund")
		s.publishAlert(ctx, enums.InboxSeverityCritical, enums.InboxKindRefundConflict,
			"Concurrent Refund Rejected",
			fmt.Sprintf("refund %s lost the guarded update on order %s", refund.RefundID, order.ID),
			order.ID)
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order refunds changed concurrently")
	}

	if err := s.paymentsRepo.CreateRefund(ctx, &models.Refund{
		ID:             uuid.New(),
		OrderID:        order.ID,
		StripeRefundID: refund.RefundID,
		AmountCents:    refund.AmountCents,
	}); err != nil {
		// A concurrent delivery of the same refund won the row insert.
		if db.IsUniqueViolation(err, "") {
			return &ApplyResult{OrderID: order.ID, Duplicate: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}

	updated, err := s.ordersRepo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
	}

	newStatus := orders.CalculateOrderStatus(updated.Status, updated.TotalNetCents, updated.RefundedAmountCents)
	result := &ApplyResult{OrderID: order.ID, Applied: true, NewStatus: newStatus}
	if newStatus == updated.Status {
		return result, nil
	}

	rows, err = s.ordersRepo.GuardedSetStatus(ctx, order.ID, newStatus,
		[]enums.OrderStatus{enums.OrderStatusPaid, enums.OrderStatusPartiallyRefunded})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if rows == 0 {
		// Someone else already moved the status; the refund itself landed.
		result.NewStatus = updated.Status
		return result, nil
	}

	reason := enums.StatusReasonRefundPartial
	if newStatus == enums.OrderStatusRefunded {
		reason = enums.StatusReasonRefundFull
	}
	history := &models.OrderStatusHistory{
		ID:            uuid.New(),
		OrderID:       order.ID,
		OldStatus:     updated.Status,
		NewStatus:     newStatus,
		Reason:        reason,
		StripeEventID: stripeEventID,
	}
	if err := s.ordersRepo.CreateStatusHistory(ctx, history); err != nil {
		s.logg.Error(ctx, "failed to write status history", err)
	}
	return result, nil
}

// resolveOrder maps a refund back to an order: the payment row keyed on the
// intent wins, then metadata, then the intent column on orders.
func (s *service) resolveOrder(ctx context.Context, refund ProviderRefund) (*models.Order, error) {
	if refund.PaymentIntentID != "" {
		payment, err := s.paymentsRepo.FindPaymentByProviderID(ctx, refund.PaymentIntentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment marker")
		}
		if payment != nil {
			return s.loadOrder(ctx, payment.OrderID)
		}
	}

	if orderID, ok := orderIDFromMetadata(refund.Metadata); ok {
		return s.loadOrder(ctx, orderID)
	}

	if refund.PaymentIntentID != "" {
		order, err := s.ordersRepo.FindByPaymentIntentID(ctx, refund.PaymentIntentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by intent")
		}
		return order, nil
	}
	return nil, nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.ordersRepo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) publishAlert(ctx context.Context, severity enums.InboxSeverity, kind enums.InboxKind, title, body string, orderID uuid.UUID) {
	oid := orderID
	if err := s.inbox.Publish(ctx, inbox.PublishParams{
		Severity: severity,
		Kind:     kind,
		Title:    title,
		Body:     body,
		OrderID:  &oid,
	}); err != nil {
		s.logg.Error(ctx, "failed to publish inbox item", err)
	}
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
