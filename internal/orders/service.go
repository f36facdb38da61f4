package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

// PaymentGateway is the provider surface the cancellation flow needs.
type PaymentGateway interface {
	CancelPaymentIntent(ctx context.Context, apiKey, intentID string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, apiKey, intentID string, amountCents int64) (*stripe.Refund, error)
}

// Service owns order reads, guarded status transitions and cancellation.
type Service interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ResolveByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	ResolveByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error)
	MarkPaid(ctx context.Context, params MarkPaidParams) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, stripeEventID *string) (bool, error)
	MarkCancelledByProvider(ctx context.Context, orderID uuid.UUID, stripeEventID *string) (bool, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) (*CancelOrderResult, error)
}

// ServiceParams wires order service dependencies. Gateway may be nil when no
// provider credentials are configured; cancellation then skips provider calls
// unless the caller supplies a key.
type ServiceParams struct {
	Repo          Repository
	Inventory     inventory.Service
	Inbox         inbox.Service
	Mailer        mail.Mailer
	Gateway       PaymentGateway
	GatewayHasKey bool
	Logger        *logger.Logger
	Spawn         func(func())
}

type service struct {
	repo          Repository
	inventory     inventory.Service
	inbox         inbox.Service
	mailer        mail.Mailer
	gateway       PaymentGateway
	gatewayHasKey bool
	logg          *logger.Logger
	spawn         func(func())
}

// NewService validates dependencies and builds the orders service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Inventory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory service required")
	}
	if params.Inbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inbox service required")
	}
	if params.Mailer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mailer required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	spawn := params.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	return &service{
		repo:          params.Repo,
		inventory:     params.Inventory,
		inbox:         params.Inbox,
		mailer:        params.Mailer,
		gateway:       params.Gateway,
		gatewayHasKey: params.GatewayHasKey,
		logg:          params.Logger,
		spawn:         spawn,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ResolveByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	if intentID == "" {
		return nil, nil
	}
	order, err := s.repo.FindByPaymentIntentID(ctx, intentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by intent")
	}
	return order, nil
}

func (s *service) ResolveByCheckoutSession(ctx context.Context, sessionID string) (*models.Order, error) {
	if sessionID == "" {
		return nil, nil
	}
	order, err := s.repo.FindByCheckoutSessionID(ctx, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find order by session")
	}
	return order, nil
}

// MarkPaid runs the guarded pending->paid transition and writes the history
// row. Returns false when the order already left pending; the caller treats
// that as a replay, not an error.
func (s *service) MarkPaid(ctx context.Context, params MarkPaidParams) (bool, error) {
	if params.OrderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if params.PaymentIntentID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	paidAt := params.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	rows, err := s.repo.GuardedMarkPaid(ctx, MarkPaidUpdate{
		OrderID:           params.OrderID,
		PaymentIntentID:   params.PaymentIntentID,
		CheckoutSessionID: params.CheckoutSessionID,
		PaidAt:            paidAt,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	if rows == 0 {
		return false, nil
	}

	s.writeHistory(ctx, params.OrderID, enums.OrderStatusPending, enums.OrderStatusPaid,
		enums.StatusReasonPaymentSucceeded, params.StripeEventID)
	return true, nil
}

func (s *service) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, stripeEventID *string) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	rows, err := s.repo.GuardedTransition(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusPaymentFailed)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
	}
	if rows == 0 {
		return false, nil
	}
	s.writeHistory(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusPaymentFailed,
		enums.StatusReasonPaymentFailed, stripeEventID)
	return true, nil
}

func (s *service) MarkCancelledByProvider(ctx context.Context, orderID uuid.UUID, stripeEventID *string) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	rows, err := s.repo.GuardedTransition(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusCancelled)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order cancelled")
	}
	if rows == 0 {
		return false, nil
	}
	s.writeHistory(ctx, orderID, enums.OrderStatusPending, enums.OrderStatusCancelled,
		enums.StatusReasonPaymentCanceled, stripeEventID)
	return true, nil
}

// writeHistory appends the transition record. History failures are logged and
// surfaced to the inbox; they never roll back a committed transition.
func (s *service) writeHistory(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, reason enums.StatusReason, stripeEventID *string) {
	entry := &models.OrderStatusHistory{
		ID:            uuid.New(),
		OrderID:       orderID,
		OldStatus:     from,
		NewStatus:     to,
		Reason:        reason,
		StripeEventID: stripeEventID,
	}
	if err := s.repo.CreateStatusHistory(ctx, entry); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "failed to write status history", err)
	}
}
