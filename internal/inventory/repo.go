package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

// Repository exposes persistence helpers for the inventory movement ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	SumDelta(ctx context.Context, variantID uuid.UUID) (int64, error)
	SumDeltaBatch(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	InsertGuardedReservation(ctx context.Context, movement *models.InventoryMovement, qty int) (int64, error)
	InsertMovements(ctx context.Context, movements []models.InventoryMovement) error
	NeutralizeByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error)
	NeutralizeByOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	RetagReservationToSale(ctx context.Context, orderID uuid.UUID) (int64, error)
	SaleMovementsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.InventoryMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) SumDelta(ctx context.Context, variantID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.InventoryMovement{}).
		Select("COALESCE(SUM(delta), 0)").
		Where("variant_id = ?", variantID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) SumDeltaBatch(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	totals := make(map[uuid.UUID]int64, len(variantIDs))
	if len(variantIDs) == 0 {
		return totals, nil
	}
	for _, id := range variantIDs {
		totals[id] = 0
	}

	type row struct {
		VariantID uuid.UUID `gorm:"column:variant_id"`
		Total     int64     `gorm:"column:total"`
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.InventoryMovement{}).
		Select("variant_id, COALESCE(SUM(delta), 0) AS total").
		Where("variant_id IN ?", variantIDs).
		Group("variant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, rec := range rows {
		totals[rec.VariantID] = rec.Total
	}
	return totals, nil
}

// InsertGuardedReservation appends a reservation row only when the variant's
// summed delta still covers qty. The guard and the insert are one statement;
// RowsAffected is the only concurrency signal.
func (r *repository) InsertGuardedReservation(ctx context.Context, movement *models.InventoryMovement, qty int) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO inventory_movements (id, variant_id, delta, reason, order_id, reservation_id, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		WHERE (SELECT COALESCE(SUM(delta), 0) FROM inventory_movements WHERE variant_id = ?) >= ?`,
		movement.ID, movement.VariantID, movement.Delta, movement.Reason,
		movement.OrderID, movement.ReservationID,
		movement.VariantID, qty,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) InsertMovements(ctx context.Context, movements []models.InventoryMovement) error {
	if len(movements) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&movements).Error
}

// NeutralizeByReservation zeroes out every live reservation row for the given
// reservation attempt. Rows stay in the ledger for audit.
func (r *repository) NeutralizeByReservation(ctx context.Context, reservationID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_movements
		SET delta = 0, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE reservation_id = ? AND reason = ?`,
		enums.MovementReasonReservationReleased, reservationID, enums.MovementReasonReservation,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) NeutralizeByOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_movements
		SET delta = 0, reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE order_id = ? AND reason = ?`,
		enums.MovementReasonReservationReleased, orderID, enums.MovementReasonReservation,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RetagReservationToSale finalizes an order's reservation rows as sales. The
// deltas are already negative, so no stock math happens here.
func (r *repository) RetagReservationToSale(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_movements
		SET reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE order_id = ? AND reason = ?`,
		enums.MovementReasonSale, orderID, enums.MovementReasonReservation,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repository) SaleMovementsForOrder(ctx context.Context, orderID uuid.UUID) ([]models.InventoryMovement, error) {
	var movements []models.InventoryMovement
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND reason = ?", orderID, enums.MovementReasonSale).
		Order("created_at ASC").
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}
