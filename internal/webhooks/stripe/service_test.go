package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/internal/coupons"
	"github.com/riverstonegoods/storefront-backend/internal/events"
	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/payments"
	"github.com/riverstonegoods/storefront-backend/internal/refunds"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:webhooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.InventoryMovement{},
		&models.OrderStatusHistory{},
		&models.Payment{},
		&models.Refund{},
		&models.Event{},
		&models.InboxItem{},
		&models.Coupon{},
		&models.CouponUsage{},
		&models.AuditLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type recordingMailer struct {
	mu            sync.Mutex
	confirmations []mail.OrderEmail
	failures      []mail.OrderEmail
}

func (m *recordingMailer) SendOrderConfirmation(_ context.Context, email mail.OrderEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, email)
	return nil
}

func (m *recordingMailer) SendOrderCancelled(context.Context, mail.OrderEmail) error { return nil }

func (m *recordingMailer) SendPaymentFailed(_ context.Context, email mail.OrderEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, email)
	return nil
}

type testEnv struct {
	db     *gorm.DB
	svc    *Service
	orders orders.Repository
	mailer *recordingMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithPayments(t, nil)
}

func newTestEnvWithPayments(t *testing.T, wrap func(payments.Repository) payments.Repository) *testEnv {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "webhooks-test"})

	ordersRepo := orders.NewRepository(db)
	paymentsRepo := payments.NewRepository(db)
	if wrap != nil {
		paymentsRepo = wrap(paymentsRepo)
	}

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo:   inventory.NewRepository(db),
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	inboxSvc, err := inbox.NewService(inbox.NewRepository(db), logg)
	if err != nil {
		t.Fatalf("inbox service: %v", err)
	}
	mailer := &recordingMailer{}

	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:      ordersRepo,
		Inventory: inventorySvc,
		Inbox:     inboxSvc,
		Mailer:    mailer,
		Logger:    logg,
		Spawn:     func(fn func()) { fn() },
	})
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	refundsSvc, err := refunds.NewService(refunds.ServiceParams{
		OrdersRepo:   ordersRepo,
		PaymentsRepo: paymentsRepo,
		Inbox:        inboxSvc,
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("refunds service: %v", err)
	}

	svc, err := NewService(ServiceParams{
		Orders:             ordersSvc,
		Refunds:            refundsSvc,
		Inventory:          inventorySvc,
		Payments:           paymentsRepo,
		Events:             events.NewRepository(db),
		Coupons:            coupons.NewRepository(db),
		Inbox:              inboxSvc,
		Mailer:             mailer,
		Logger:             logg,
		LegacyStockSupport: true,
		Spawn:              func(fn func()) { fn() },
	})
	if err != nil {
		t.Fatalf("webhook service: %v", err)
	}
	return &testEnv{db: db, svc: svc, orders: ordersRepo, mailer: mailer}
}

func (e *testEnv) seedOrder(t *testing.T, status enums.OrderStatus, totalCents int64) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:            uuid.New(),
		Status:        status,
		Currency:      "usd",
		TotalNetCents: totalCents,
		Metadata:      json.RawMessage(`{"email":"buyer@example.com"}`),
	}
	if err := e.db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (e *testEnv) seedStock(t *testing.T, variantID uuid.UUID, qty int) {
	t.Helper()
	movement := models.InventoryMovement{
		ID:        uuid.New(),
		VariantID: variantID,
		Delta:     qty,
		Reason:    enums.MovementReasonSale,
	}
	if err := e.db.Create(&movement).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func (e *testEnv) reloadOrder(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := e.orders.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}

func newEvent(eventID string, eventType stripe.EventType, payload string) *stripe.Event {
	return &stripe.Event{
		ID:   eventID,
		Type: eventType,
		Data: &stripe.EventData{Raw: json.RawMessage(payload)},
	}
}

func sessionPayload(orderID uuid.UUID, intentID string, amount int64) string {
	return fmt.Sprintf(`{
		"id": "cs_test_1",
		"payment_intent": %q,
		"amount_total": %d,
		"currency": "usd",
		"metadata": {"orderId": %q}
	}`, intentID, amount, orderID)
}

func TestCheckoutSessionCompletedMarksOrderPaid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 2500)
	variant := uuid.New()
	env.seedStock(t, variant, 5)

	reservation, err := env.svc.inventory.ReserveStockForOrder(ctx, order.ID, []inventory.ReservationItem{
		{VariantID: variant, Quantity: 2},
	})
	if err != nil || !reservation.Reserved {
		t.Fatalf("reserve: %v %+v", err, reservation)
	}

	event := newEvent("evt_1", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_1", 2500))
	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Received || outcome.Duplicate {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	updated := env.reloadOrder(t, order.ID)
	if updated.Status != enums.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Fatalf("expected paid_at to be stamped")
	}
	if updated.StripePaymentIntentID == nil || *updated.StripePaymentIntentID != "pi_1" {
		t.Fatalf("expected intent id on order, got %v", updated.StripePaymentIntentID)
	}

	var paymentCount int64
	if err := env.db.Model(&models.Payment{}).Where("stripe_payment_id = ?", "pi_1").Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 1 {
		t.Fatalf("expected 1 payment row, got %d", paymentCount)
	}

	// The reservation became a sale.
	var reservedRows int64
	err = env.db.Model(&models.InventoryMovement{}).
		Where("order_id = ? AND reason = ?", order.ID, enums.MovementReasonReservation).
		Count(&reservedRows).Error
	if err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if reservedRows != 0 {
		t.Fatalf("expected reservation consumed, %d rows remain", reservedRows)
	}

	if len(env.mailer.confirmations) != 1 || env.mailer.confirmations[0].To != "buyer@example.com" {
		t.Fatalf("expected one confirmation email to buyer, got %+v", env.mailer.confirmations)
	}
}

func TestReplayedPaymentEventIsDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 1000)

	event := newEvent("evt_replay", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_replay", 1000))
	if _, err := env.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", outcome)
	}

	var paymentCount, historyCount int64
	if err := env.db.Model(&models.Payment{}).Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if err := env.db.Model(&models.OrderStatusHistory{}).Count(&historyCount).Error; err != nil {
		t.Fatalf("count history: %v", err)
	}
	if paymentCount != 1 || historyCount != 1 {
		t.Fatalf("expected single payment and history row, got %d and %d", paymentCount, historyCount)
	}
}

func TestIntentSucceededDedupesAcrossEventTypes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 1500)

	session := newEvent("evt_a", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_shared", 1500))
	if _, err := env.svc.HandleEvent(ctx, session); err != nil {
		t.Fatalf("session event: %v", err)
	}

	intent := newEvent("evt_b", stripe.EventTypePaymentIntentSucceeded, fmt.Sprintf(`{
		"id": "pi_shared",
		"amount": 1500,
		"amount_received": 1500,
		"currency": "usd",
		"metadata": {"orderId": %q}
	}`, order.ID))
	outcome, err := env.svc.HandleEvent(ctx, intent)
	if err != nil {
		t.Fatalf("intent event: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate via payment marker, got %+v", outcome)
	}
}

func TestPaymentIntentFailedReleasesReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 800)
	variant := uuid.New()
	env.seedStock(t, variant, 3)

	if _, err := env.svc.inventory.ReserveStockForOrder(ctx, order.ID, []inventory.ReservationItem{
		{VariantID: variant, Quantity: 3},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	event := newEvent("evt_fail", stripe.EventTypePaymentIntentPaymentFailed, fmt.Sprintf(`{
		"id": "pi_fail",
		"metadata": {"orderId": %q, "email": "buyer@example.com"}
	}`, order.ID))
	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Received {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	updated := env.reloadOrder(t, order.ID)
	if updated.Status != enums.OrderStatusPaymentFailed {
		t.Fatalf("expected payment_failed, got %s", updated.Status)
	}

	available, err := env.svc.inventory.AvailableStock(ctx, variant)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 3 {
		t.Fatalf("expected stock restored to 3, got %d", available)
	}
	if len(env.mailer.failures) != 1 {
		t.Fatalf("expected one payment-failed email, got %d", len(env.mailer.failures))
	}
}

func TestPaymentIntentCanceledReleasesReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 600)
	variant := uuid.New()
	env.seedStock(t, variant, 4)

	if _, err := env.svc.inventory.ReserveStockForOrder(ctx, order.ID, []inventory.ReservationItem{
		{VariantID: variant, Quantity: 2},
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	event := newEvent("evt_cancel", stripe.EventTypePaymentIntentCanceled, fmt.Sprintf(`{
		"id": "pi_cancel",
		"metadata": {"orderId": %q}
	}`, order.ID))
	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Received || outcome.Duplicate {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	updated := env.reloadOrder(t, order.ID)
	if updated.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}

	available, err := env.svc.inventory.AvailableStock(ctx, variant)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if available != 4 {
		t.Fatalf("expected stock restored to 4, got %d", available)
	}

	// Replay: the order already left pending.
	replay := newEvent("evt_cancel_2", stripe.EventTypePaymentIntentCanceled, fmt.Sprintf(`{
		"id": "pi_cancel",
		"metadata": {"orderId": %q}
	}`, order.ID))
	outcome, err = env.svc.HandleEvent(ctx, replay)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", outcome)
	}
}

// stalePaymentsRepo hides the payment marker from the pre-insert check so the
// unique index has to break the tie, as under concurrent deliveries.
type stalePaymentsRepo struct {
	payments.Repository
}

func (r *stalePaymentsRepo) FindPaymentByProviderID(context.Context, string) (*models.Payment, error) {
	return nil, nil
}

func TestConcurrentPaymentDeliveryFallsBackToUniqueIndex(t *testing.T) {
	t.Parallel()

	env := newTestEnvWithPayments(t, func(repo payments.Repository) payments.Repository {
		return &stalePaymentsRepo{Repository: repo}
	})
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 1000)

	// The competing delivery already recorded the payment.
	payment := models.Payment{
		ID:              uuid.New(),
		OrderID:         order.ID,
		StripePaymentID: "pi_raced",
		AmountCents:     1000,
		Currency:        "usd",
	}
	if err := env.db.Create(&payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	event := newEvent("evt_raced", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_raced", 1000))
	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate outcome, got %+v", outcome)
	}

	var paymentCount int64
	if err := env.db.Model(&models.Payment{}).Where("stripe_payment_id = ?", "pi_raced").Count(&paymentCount).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	if paymentCount != 1 {
		t.Fatalf("expected single payment row, got %d", paymentCount)
	}
}

func TestChargeRefundedAppliesRefund(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 2000)

	session := newEvent("evt_pay", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_refundable", 2000))
	if _, err := env.svc.HandleEvent(ctx, session); err != nil {
		t.Fatalf("pay: %v", err)
	}

	refundEvent := newEvent("evt_refund", stripe.EventTypeChargeRefunded, `{
		"id": "ch_1",
		"payment_intent": "pi_refundable",
		"refunds": {
			"data": [{"id": "re_1", "amount": 500, "status": "succeeded"}]
		}
	}`)
	outcome, err := env.svc.HandleEvent(ctx, refundEvent)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !outcome.Received {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	updated := env.reloadOrder(t, order.ID)
	if updated.Status != enums.OrderStatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", updated.Status)
	}
	if updated.RefundedAmountCents != 500 {
		t.Fatalf("expected 500 refunded, got %d", updated.RefundedAmountCents)
	}

	// Same refund delivered through refund.updated is a duplicate.
	replay := newEvent("evt_refund_2", stripe.EventTypeRefundUpdated, `{
		"id": "re_1",
		"amount": 500,
		"status": "succeeded",
		"payment_intent": "pi_refundable"
	}`)
	outcome, err = env.svc.HandleEvent(ctx, replay)
	if err != nil {
		t.Fatalf("refund replay: %v", err)
	}
	if !outcome.Duplicate {
		t.Fatalf("expected duplicate refund outcome, got %+v", outcome)
	}
}

func TestDisputeOnlyRaisesInboxItem(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 3000)

	session := newEvent("evt_pay2", stripe.EventTypeCheckoutSessionCompleted,
		sessionPayload(order.ID, "pi_disputed", 3000))
	if _, err := env.svc.HandleEvent(ctx, session); err != nil {
		t.Fatalf("pay: %v", err)
	}

	dispute := newEvent("evt_dispute", stripe.EventTypeChargeDisputeCreated, `{
		"id": "dp_1",
		"amount": 3000,
		"currency": "usd",
		"status": "needs_response",
		"payment_intent": "pi_disputed"
	}`)
	outcome, err := env.svc.HandleEvent(ctx, dispute)
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if !outcome.Received {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	updated := env.reloadOrder(t, order.ID)
	if updated.Status != enums.OrderStatusPaid {
		t.Fatalf("dispute must not change status, got %s", updated.Status)
	}

	var items []models.InboxItem
	if err := env.db.Where("kind = ?", enums.InboxKindDispute).Find(&items).Error; err != nil {
		t.Fatalf("load inbox: %v", err)
	}
	if len(items) != 1 || items[0].Severity != enums.InboxSeverityCritical {
		t.Fatalf("expected one critical dispute item, got %+v", items)
	}
	if items[0].OrderID == nil || *items[0].OrderID != order.ID {
		t.Fatalf("expected dispute item linked to order")
	}
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	event := newEvent("evt_unknown", "product.created", `{"id": "prod_1"}`)
	outcome, err := env.svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Received {
		t.Fatalf("expected acknowledgement, got %+v", outcome)
	}

	var recorded int64
	if err := env.db.Model(&models.Event{}).Where("stripe_event_id = ?", "evt_unknown").Count(&recorded).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if recorded != 1 {
		t.Fatalf("expected event row, got %d", recorded)
	}
}

func TestCheckoutSessionRecordsCouponUsage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := env.seedOrder(t, enums.OrderStatusPending, 900)

	coupon := models.Coupon{
		ID:   uuid.New(),
		Code: "SPRING10",
	}
	if err := env.db.Create(&coupon).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	event := newEvent("evt_coupon", stripe.EventTypeCheckoutSessionCompleted, fmt.Sprintf(`{
		"id": "cs_coupon",
		"payment_intent": "pi_coupon",
		"amount_total": 900,
		"currency": "usd",
		"metadata": {"orderId": %q, "coupon_code": "SPRING10"}
	}`, order.ID))
	if _, err := env.svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var usageCount int64
	err := env.db.Model(&models.CouponUsage{}).
		Where("coupon_id = ? AND order_id = ?", coupon.ID, order.ID).
		Count(&usageCount).Error
	if err != nil {
		t.Fatalf("count usage: %v", err)
	}
	if usageCount != 1 {
		t.Fatalf("expected one coupon usage row, got %d", usageCount)
	}
}
