package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

// Service owns the inventory movement ledger. Stock is always derived from
// the ledger, never kept as a counter column.
type Service interface {
	AvailableStock(ctx context.Context, variantID uuid.UUID) (int64, error)
	AvailableStockBatch(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	ReserveStockForOrder(ctx context.Context, orderID uuid.UUID, items []ReservationItem) (*ReservationResult, error)
	ConsumeStockReservationForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	DeductStockForOrder(ctx context.Context, orderID uuid.UUID, items []ReservationItem) error
	ReleaseStockReservationForOrder(ctx context.Context, orderID uuid.UUID) (int64, error)
	RestoreSaleForOrder(ctx context.Context, orderID uuid.UUID) (int, error)
}

// ReservationItem is one variant/quantity pair to reserve or deduct.
type ReservationItem struct {
	VariantID uuid.UUID
	Quantity  int
}

// InsufficientItem reports a variant the guard rejected and the availability
// observed right after the rejection.
type InsufficientItem struct {
	VariantID uuid.UUID `json:"variantId"`
	Requested int       `json:"requested"`
	Available int64     `json:"available"`
}

// ReservationResult is the outcome of one reservation attempt. When Reserved
// is false every row written by this attempt has already been neutralized.
type ReservationResult struct {
	ReservationID uuid.UUID          `json:"reservationId"`
	Reserved      bool               `json:"reserved"`
	Insufficient  []InsufficientItem `json:"insufficient,omitempty"`
}

// ServiceParams wires inventory service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService validates dependencies and builds the inventory service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{repo: params.Repo, logg: params.Logger}, nil
}

func (s *service) AvailableStock(ctx context.Context, variantID uuid.UUID) (int64, error) {
	if variantID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	total, err := s.repo.SumDelta(ctx, variantID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum variant delta")
	}
	return total, nil
}

func (s *service) AvailableStockBatch(ctx context.Context, variantIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	totals, err := s.repo.SumDeltaBatch(ctx, variantIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum variant deltas")
	}
	return totals, nil
}

// ReserveStockForOrder attempts one guarded insert per item. On the first
// failure it neutralizes the rows this attempt already wrote, so a partial
// reservation never holds stock.
func (s *service) ReserveStockForOrder(ctx context.Context, orderID uuid.UUID, items []ReservationItem) (*ReservationResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	for _, item := range items {
		if item.VariantID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
		}
		if item.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity must be positive for variant %s", item.VariantID))
		}
	}

	reservationID := uuid.New()
	result := &ReservationResult{ReservationID: reservationID}

	for _, item := range items {
		oid := orderID
		rid := reservationID
		movement := &models.InventoryMovement{
			ID:            uuid.New(),
			VariantID:     item.VariantID,
			Delta:         -item.Quantity,
			Reason:        enums.MovementReasonReservation,
			OrderID:       &oid,
			ReservationID: &rid,
		}

		rows, err := s.repo.InsertGuardedReservation(ctx, movement, item.Quantity)
		if err != nil {
			s.rollbackReservation(ctx, reservationID)
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert reservation movement")
		}
		if rows == 0 {
			available, availErr := s.repo.SumDelta(ctx, item.VariantID)
			if availErr != nil {
				available = 0
			}
			result.Insufficient = append(result.Insufficient, InsufficientItem{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: available,
			})
			s.rollbackReservation(ctx, reservationID)
			return result, nil
		}
	}

	result.Reserved = true
	return result, nil
}

func (s *service) rollbackReservation(ctx context.Context, reservationID uuid.UUID) {
	if _, err := s.repo.NeutralizeByReservation(ctx, reservationID); err != nil {
		ctx = s.logg.WithField(ctx, "reservationId", reservationID.String())
		s.logg.Error(ctx, "failed to neutralize partial reservation", err)
	}
}

// ConsumeStockReservationForOrder retags an order's reservation rows as sales.
// Returns false when the order has no live reservation, which callers treat as
// a signal to fall back to legacy deduction.
func (s *service) ConsumeStockReservationForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	if orderID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	rows, err := s.repo.RetagReservationToSale(ctx, orderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume reservation")
	}
	return rows > 0, nil
}

// DeductStockForOrder writes sale movements directly, without a reservation.
// Kept for orders created before the reservation protocol shipped.
// TODO: remove once no pre-reservation orders remain open.
func (s *service) DeductStockForOrder(ctx context.Context, orderID uuid.UUID, items []ReservationItem) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}

	movements := make([]models.InventoryMovement, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity must be positive for variant %s", item.VariantID))
		}
		oid := orderID
		movements = append(movements, models.InventoryMovement{
			ID:        uuid.New(),
			VariantID: item.VariantID,
			Delta:     -item.Quantity,
			Reason:    enums.MovementReasonSale,
			OrderID:   &oid,
		})
	}

	if err := s.repo.InsertMovements(ctx, movements); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert sale movements")
	}
	s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()),
		"deducted stock without reservation (legacy order)")
	return nil
}

// RestoreSaleForOrder inserts compensating positive movements for an order's
// sale rows. Used when a cancelled order was already deducted and no live
// reservation remains to release.
func (s *service) RestoreSaleForOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	sales, err := s.repo.SaleMovementsForOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale movements")
	}

	compensating := make([]models.InventoryMovement, 0, len(sales))
	for _, sale := range sales {
		if sale.Delta >= 0 {
			continue
		}
		oid := orderID
		compensating = append(compensating, models.InventoryMovement{
			ID:        uuid.New(),
			VariantID: sale.VariantID,
			Delta:     -sale.Delta,
			Reason:    enums.MovementReasonSale,
			OrderID:   &oid,
		})
	}
	if len(compensating) == 0 {
		return 0, nil
	}

	if err := s.repo.InsertMovements(ctx, compensating); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert compensating movements")
	}
	return len(compensating), nil
}

// ReleaseStockReservationForOrder neutralizes an order's outstanding
// reservation rows and reports how many were released.
func (s *service) ReleaseStockReservationForOrder(ctx context.Context, orderID uuid.UUID) (int64, error) {
	if orderID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	rows, err := s.repo.NeutralizeByOrder(ctx, orderID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
	}
	return rows, nil
}
