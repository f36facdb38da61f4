package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// Repository exposes persistence helpers for orders. All status mutations are
// single-statement guarded updates; RowsAffected tells the caller whether the
// precondition still held.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error)
	FindByCheckoutSessionID(ctx context.Context, sessionID string) (*models.Order, error)
	GuardedMarkPaid(ctx context.Context, params MarkPaidUpdate) (int64, error)
	GuardedTransition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (int64, error)
	GuardedApplyRefund(ctx context.Context, orderID uuid.UUID, amountCents int64) (int64, error)
	GuardedSetStatus(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, allowedFrom []enums.OrderStatus) (int64, error)
	CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
}

// MarkPaidUpdate carries the columns the payment-success transition sets.
type MarkPaidUpdate struct {
	OrderID           uuid.UUID
	PaymentIntentID   string
	CheckoutSessionID *string
	PaidAt            time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByPaymentIntentID returns nil without error when no order references
// the intent.
func (r *repository) FindByPaymentIntentID(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_payment_intent_id = ?", intentID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindByCheckoutSessionID returns nil without error when unknown.
func (r *repository) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("stripe_checkout_session_id = ?", sessionID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GuardedMarkPaid promotes a pending order to paid and stamps the provider
// ids in the same statement. Zero rows means the order already left pending.
func (r *repository) GuardedMarkPaid(ctx context.Context, params MarkPaidUpdate) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE orders
		SET status = ?,
		    paid_at = ?,
		    stripe_payment_intent_id = ?,
		    stripe_checkout_session_id = COALESCE(?, stripe_checkout_session_id),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		enums.OrderStatusPaid, params.PaidAt, params.PaymentIntentID,
		params.CheckoutSessionID,
		params.OrderID, enums.OrderStatusPending,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) GuardedTransition(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE orders
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?`,
		to, orderID, from,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// GuardedApplyRefund adds to the refunded total only while the order remains
// refundable and the projected total stays within the ceiling. The re-check
// runs inside the statement so concurrent refunds cannot both pass.
func (r *repository) GuardedApplyRefund(ctx context.Context, orderID uuid.UUID, amountCents int64) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE orders
		SET refunded_amount_cents = refunded_amount_cents + ?,
		    refund_count = refund_count + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		  AND status IN (?, ?)
		  AND refunded_amount_cents + ? <= total_net_cents`,
		amountCents, orderID,
		enums.OrderStatusPaid, enums.OrderStatusPartiallyRefunded,
		amountCents,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) GuardedSetStatus(ctx context.Context, orderID uuid.UUID, to enums.OrderStatus, allowedFrom []enums.OrderStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, allowedFrom).
		Updates(map[string]any{"status": to})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) CreateStatusHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListStatusHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var entries []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
