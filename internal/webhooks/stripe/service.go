package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/riverstonegoods/storefront-backend/internal/coupons"
	"github.com/riverstonegoods/storefront-backend/internal/events"
	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/payments"
	"github.com/riverstonegoods/storefront-backend/internal/refunds"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
	"github.com/riverstonegoods/storefront-backend/pkg/metrics"
)

// ServiceParams wires the dispatcher's dependencies.
type ServiceParams struct {
	Orders             orders.Service
	Refunds            refunds.Service
	Inventory          inventory.Service
	Payments           payments.Repository
	Events             events.Repository
	Coupons            coupons.Repository
	Inbox              inbox.Service
	Mailer             mail.Mailer
	Metrics            *metrics.WebhookMetrics
	Logger             *logger.Logger
	LegacyStockSupport bool
	Spawn              func(func())
}

// Service routes verified Stripe events to their handlers. Handlers are
// idempotent against replays: the payment/refund rows keyed on provider ids
// decide whether an event already ran.
type Service struct {
	orders             orders.Service
	refunds            refunds.Service
	inventory          inventory.Service
	payments           payments.Repository
	events             events.Repository
	coupons            coupons.Repository
	inbox              inbox.Service
	mailer             mail.Mailer
	metrics            *metrics.WebhookMetrics
	logg               *logger.Logger
	legacyStockSupport bool
	spawn              func(func())
}

// NewService validates dependencies and builds the dispatcher.
func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Refunds == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refunds service required")
	}
	if params.Inventory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory service required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments repository required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "events repository required")
	}
	if params.Coupons == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupons repository required")
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
	return &Service{
		orders:             params.Orders,
		refunds:            params.Refunds,
		inventory:          params.Inventory,
		payments:           params.Payments,
		events:             params.Events,
		coupons:            params.Coupons,
		inbox:              params.Inbox,
		mailer:             params.Mailer,
		metrics:            params.Metrics,
		logg:               params.Logger,
		legacyStockSupport: params.LegacyStockSupport,
		spawn:              spawn,
	}, nil
}

// HandleEvent records the raw event, routes it, and reports the outcome.
// Unknown event types are acknowledged without side effects so the provider
// never retries them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	if event == nil || event.Data == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithEventID(ctx, event.ID)
	started := time.Now()

	if err := s.events.Record(ctx, &models.Event{
		ID:            uuid.New(),
		StripeEventID: event.ID,
		Type:          string(event.Type),
		Payload:       json.RawMessage(event.Data.Raw),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record event")
	}

	outcome, err := s.route(ctx, event)
	if err != nil {
		s.observe(event, "error", started)
		return nil, err
	}
	s.observe(event, outcome.Label(), started)
	return outcome, nil
}

func (s *Service) route(ctx context.Context, event *stripe.Event) (*Outcome, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return s.handleCheckoutSessionCompleted(ctx, event)
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handlePaymentIntentSucceeded(ctx, event)
	case stripe.EventTypePaymentIntentPaymentFailed:
		return s.handlePaymentIntentFailed(ctx, event)
	case stripe.EventTypePaymentIntentCanceled:
		return s.handlePaymentIntentCanceled(ctx, event)
	case stripe.EventTypePaymentIntentProcessing,
		stripe.EventTypePaymentIntentRequiresAction,
		"customer_balance.transaction.created",
		"customer_balance.transaction.updated":
		// Acknowledged and recorded; no order effect.
		return outcomeReceived(), nil
	case stripe.EventTypeChargeRefunded,
		stripe.EventTypeRefundUpdated,
		"refund.succeeded":
		return s.handleRefundEvent(ctx, event)
	case stripe.EventTypeChargeDisputeCreated, stripe.EventTypeChargeDisputeUpdated:
		return s.handleDispute(ctx, event)
	default:
		s.logg.Info(ctx, "ignoring unhandled stripe event type "+string(event.Type))
		return outcomeReceived(), nil
	}
}

func (s *Service) observe(event *stripe.Event, label string, started time.Time) {
	s.metrics.IncEvent(string(event.Type), label)
	s.metrics.ObserveDuration(string(event.Type), time.Since(started))
}
