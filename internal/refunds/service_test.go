package refunds

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/payments"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:refunds_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.Refund{},
		&models.OrderStatusHistory{},
		&models.InboxItem{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db         *gorm.DB
	svc        Service
	ordersRepo orders.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWrapped(t, nil, nil)
}

func newTestEnvWrapped(t *testing.T, wrapOrders func(orders.Repository) orders.Repository, wrapPayments func(payments.Repository) payments.Repository) *testEnv {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "refunds-test"})

	ordersRepo := orders.NewRepository(db)
	repoForService := ordersRepo
	if wrapOrders != nil {
		repoForService = wrapOrders(ordersRepo)
	}
	paymentsRepo := payments.NewRepository(db)
	if wrapPayments != nil {
		paymentsRepo = wrapPayments(paymentsRepo)
	}

	inboxSvc, err := inbox.NewService(inbox.NewRepository(db), logg)
	if err != nil {
		t.Fatalf("inbox service: %v", err)
	}

	svc, err := NewService(ServiceParams{
		OrdersRepo:   repoForService,
		PaymentsRepo: paymentsRepo,
		Inbox:        inboxSvc,
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("refunds service: %v", err)
	}
	return &testEnv{db: db, svc: svc, ordersRepo: ordersRepo}
}

func seedPaidOrder(t *testing.T, db *gorm.DB, totalCents int64) *models.Order {
	t.Helper()
	intent := "pi_" + uuid.NewString()
	order := &models.Order{
		ID:                    uuid.New(),
		Status:                enums.OrderStatusPaid,
		Currency:              "usd",
		TotalNetCents:         totalCents,
		StripePaymentIntentID: &intent,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	payment := &models.Payment{
		ID:              uuid.New(),
		OrderID:         order.ID,
		StripePaymentID: intent,
		AmountCents:     totalCents,
		Currency:        "usd",
	}
	if err := db.Create(payment).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return order
}

func TestApplyPartialThenFullRefund(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := seedPaidOrder(t, env.db, 1000)

	result, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_partial",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     400,
	}, nil)
	if err != nil {
		t.Fatalf("apply partial: %v", err)
	}
	if !result.Applied || result.NewStatus != enums.OrderStatusPartiallyRefunded {
		t.Fatalf("unexpected partial result: %+v", result)
	}

	result, err = env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_rest",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     600,
	}, nil)
	if err != nil {
		t.Fatalf("apply rest: %v", err)
	}
	if !result.Applied || result.NewStatus != enums.OrderStatusRefunded {
		t.Fatalf("unexpected full result: %+v", result)
	}

	var reloaded models.Order
	if err := env.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.RefundedAmountCents != 1000 || reloaded.RefundCount != 2 {
		t.Fatalf("unexpected refund totals: %+v", reloaded)
	}
	if reloaded.Status != enums.OrderStatusRefunded {
		t.Fatalf("expected refunded status, got %s", reloaded.Status)
	}

	history, err := env.ordersRepo.ListStatusHistory(ctx, order.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].Reason != enums.StatusReasonRefundPartial || history[1].Reason != enums.StatusReasonRefundFull {
		t.Fatalf("unexpected history reasons: %+v", history)
	}
}

func TestApplyRejectsOverRefund(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := seedPaidOrder(t, env.db, 500)

	_, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_too_big",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     600,
	}, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Nothing written: order untouched, no refund row, but a critical alert.
	var reloaded models.Order
	if err := env.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.RefundedAmountCents != 0 || reloaded.Status != enums.OrderStatusPaid {
		t.Fatalf("order should be untouched: %+v", reloaded)
	}
	var refundCount int64
	if err := env.db.Model(&models.Refund{}).Count(&refundCount).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if refundCount != 0 {
		t.Fatalf("expected no refund rows, got %d", refundCount)
	}
	var alert models.InboxItem
	if err := env.db.First(&alert, "kind = ?", enums.InboxKindRefundViolation).Error; err != nil {
		t.Fatalf("expected refund violation inbox item: %v", err)
	}
	if alert.Severity != enums.InboxSeverityCritical {
		t.Fatalf("expected critical severity, got %s", alert.Severity)
	}
}

func TestApplyDuplicateRefundIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := seedPaidOrder(t, env.db, 1000)

	refund := ProviderRefund{
		RefundID:        "re_once",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     300,
	}
	if _, err := env.svc.Apply(ctx, refund, nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	result, err := env.svc.Apply(ctx, refund, nil)
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected duplicate outcome: %+v", result)
	}

	var reloaded models.Order
	if err := env.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.RefundedAmountCents != 300 || reloaded.RefundCount != 1 {
		t.Fatalf("replay must not change totals: %+v", reloaded)
	}
}

func TestApplySkipsUnresolvableRefund(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_orphan",
		PaymentIntentID: "pi_unknown",
		AmountCents:     100,
	}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip outcome: %+v", result)
	}
}

func TestApplySkipsPendingOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	order := seedPaidOrder(t, env.db, 1000)
	if err := env.db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("status", enums.OrderStatusPending).Error; err != nil {
		t.Fatalf("reset status: %v", err)
	}

	result, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_early",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     100,
	}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip for pending order: %+v", result)
	}

	var reloaded models.Order
	if err := env.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.Status != enums.OrderStatusPending || reloaded.RefundedAmountCents != 0 {
		t.Fatalf("pending order must stay untouched: %+v", reloaded)
	}
}

// staleRefundsRepo hides the refund marker from the dedupe check so the unique
// index has to break the tie, as under concurrent deliveries.
type staleRefundsRepo struct {
	payments.Repository
}

func (r *staleRefundsRepo) FindRefundByProviderID(context.Context, string) (*models.Refund, error) {
	return nil, nil
}

func TestApplyConcurrentDuplicateInsertIsDuplicate(t *testing.T) {
	t.Parallel()

	env := newTestEnvWrapped(t, nil, func(repo payments.Repository) payments.Repository {
		return &staleRefundsRepo{Repository: repo}
	})
	ctx := context.Background()
	order := seedPaidOrder(t, env.db, 1000)

	// The competing delivery already recorded this refund.
	if err := env.db.Create(&models.Refund{
		ID:             uuid.New(),
		OrderID:        order.ID,
		StripeRefundID: "re_raced",
		AmountCents:    300,
	}).Error; err != nil {
		t.Fatalf("seed refund: %v", err)
	}

	result, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_raced",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     300,
	}, nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected duplicate outcome: %+v", result)
	}

	var refundCount int64
	if err := env.db.Model(&models.Refund{}).Where("stripe_refund_id = ?", "re_raced").Count(&refundCount).Error; err != nil {
		t.Fatalf("count refunds: %v", err)
	}
	if refundCount != 1 {
		t.Fatalf("expected single refund row, got %d", refundCount)
	}
}

// staleOrdersRepo serves an outdated snapshot from FindByID so the in-memory
// ceiling check passes while the database rejects the guarded update.
type staleOrdersRepo struct {
	orders.Repository
	stale *models.Order
}

func (r *staleOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if r.stale != nil && r.stale.ID == id {
		copy := *r.stale
		return &copy, nil
	}
	return r.Repository.FindByID(ctx, id)
}

func TestApplyConcurrentRefundRejected(t *testing.T) {
	t.Parallel()

	var stale staleOrdersRepo
	env := newTestEnvWrapped(t, func(repo orders.Repository) orders.Repository {
		stale.Repository = repo
		return &stale
	}, nil)
	ctx := context.Background()

	order := seedPaidOrder(t, env.db, 1000)
	if err := env.db.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":                enums.OrderStatusPartiallyRefunded,
			"refunded_amount_cents": 800,
		}).Error; err != nil {
		t.Fatalf("advance refunds: %v", err)
	}

	snapshot := *order
	snapshot.Status = enums.OrderStatusPaid
	snapshot.RefundedAmountCents = 0
	stale.stale = &snapshot

	_, err := env.svc.Apply(ctx, ProviderRefund{
		RefundID:        "re_raced",
		PaymentIntentID: *order.StripePaymentIntentID,
		AmountCents:     500,
	}, nil)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}

	var alert models.InboxItem
	if err := env.db.First(&alert, "kind = ?", enums.InboxKindRefundConflict).Error; err != nil {
		t.Fatalf("expected refund conflict inbox item: %v", err)
	}

	var reloaded models.Order
	if err := env.db.First(&reloaded, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.RefundedAmountCents != 800 {
		t.Fatalf("losing refund must not change totals: %+v", reloaded)
	}
}
