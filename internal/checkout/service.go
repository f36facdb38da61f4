package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/internal/coupons"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

// Service turns a validated cart into a pending order holding a stock
// reservation. The order it creates is what the webhook dispatcher later
// reconciles against payment events.
type Service interface {
	Execute(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
}

// CheckoutItem is one cart line.
type CheckoutItem struct {
	VariantID      uuid.UUID `json:"variantId"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unitPriceCents"`
}

// CheckoutInput captures everything needed to place an order.
type CheckoutInput struct {
	CustomerID *uuid.UUID     `json:"customerId,omitempty"`
	Email      string         `json:"email"`
	Currency   string         `json:"currency"`
	CouponCode string         `json:"couponCode,omitempty"`
	Items      []CheckoutItem `json:"items"`
}

// CheckoutResult reports the created order and its reservation. When Reserved
// is false the order was not created and Insufficient names the shortfalls.
type CheckoutResult struct {
	OrderID       uuid.UUID                    `json:"orderId,omitempty"`
	ReservationID uuid.UUID                    `json:"reservationId,omitempty"`
	Reserved      bool                         `json:"reserved"`
	TotalNetCents int64                        `json:"totalNetCents"`
	Insufficient  []inventory.InsufficientItem `json:"insufficient,omitempty"`
}

// ServiceParams wires checkout dependencies.
type ServiceParams struct {
	Orders    orders.Repository
	Inventory inventory.Service
	Coupons   coupons.Repository
	Logger    *logger.Logger
}

type service struct {
	orders    orders.Repository
	inventory inventory.Service
	coupons   coupons.Repository
	logg      *logger.Logger
}

// NewService validates dependencies and builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Inventory == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inventory service required")
	}
	if params.Coupons == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupons repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{
		orders:    params.Orders,
		inventory: params.Inventory,
		coupons:   params.Coupons,
		logg:      params.Logger,
	}, nil
}

func (s *service) Execute(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	// Upfront availability read. Advisory only: the reservation's guarded
	// inserts are what actually claim the stock.
	variantIDs := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		variantIDs = append(variantIDs, item.VariantID)
	}
	available, err := s.inventory.AvailableStockBatch(ctx, variantIDs)
	if err != nil {
		return nil, err
	}
	var insufficient []inventory.InsufficientItem
	for _, item := range input.Items {
		if available[item.VariantID] < int64(item.Quantity) {
			insufficient = append(insufficient, inventory.InsufficientItem{
				VariantID: item.VariantID,
				Requested: item.Quantity,
				Available: available[item.VariantID],
			})
		}
	}
	if len(insufficient) > 0 {
		return &CheckoutResult{Insufficient: insufficient}, nil
	}

	total, couponCode, err := s.priceOrder(ctx, input)
	if err != nil {
		return nil, err
	}

	order, err := s.buildOrder(input, total, couponCode)
	if err != nil {
		return nil, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        order.ID,
			VariantID:      item.VariantID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	if err := s.orders.CreateItems(ctx, items); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
	}

	reservationItems := make([]inventory.ReservationItem, 0, len(input.Items))
	for _, item := range input.Items {
		reservationItems = append(reservationItems, inventory.ReservationItem{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	reservation, err := s.inventory.ReserveStockForOrder(ctx, order.ID, reservationItems)
	if err != nil {
		s.abandonOrder(ctx, order.ID)
		return nil, err
	}
	if !reservation.Reserved {
		// Lost the race between the advisory read and the guarded inserts.
		s.abandonOrder(ctx, order.ID)
		return &CheckoutResult{Insufficient: reservation.Insufficient}, nil
	}

	return &CheckoutResult{
		OrderID:       order.ID,
		ReservationID: reservation.ReservationID,
		Reserved:      true,
		TotalNetCents: order.TotalNetCents,
	}, nil
}

func validateInput(input CheckoutInput) error {
	if len(input.Items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}
	seen := make(map[uuid.UUID]bool, len(input.Items))
	for _, item := range input.Items {
		if item.VariantID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
		}
		if seen[item.VariantID] {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("duplicate variant %s in cart", item.VariantID))
		}
		seen[item.VariantID] = true
		if item.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("quantity must be positive for variant %s", item.VariantID))
		}
		if item.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("unit price must be non-negative for variant %s", item.VariantID))
		}
	}
	return nil
}

// priceOrder sums the cart and applies the coupon discount, flooring at zero.
func (s *service) priceOrder(ctx context.Context, input CheckoutInput) (int64, string, error) {
	var total int64
	for _, item := range input.Items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}

	code := strings.TrimSpace(input.CouponCode)
	if code == "" {
		return total, "", nil
	}
	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return 0, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up coupon")
	}
	if coupon == nil || !coupon.Active {
		return 0, "", pkgerrors.New(pkgerrors.CodeValidation, "unknown or inactive coupon "+code)
	}
	total -= coupon.DiscountCents
	if total < 0 {
		total = 0
	}
	return total, coupon.Code, nil
}

func (s *service) buildOrder(input CheckoutInput, total int64, couponCode string) (*models.Order, error) {
	metadata := map[string]string{}
	if input.Email != "" {
		metadata["email"] = input.Email
	}
	if couponCode != "" {
		metadata["coupon_code"] = couponCode
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal order metadata")
	}

	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &models.Order{
		ID:            uuid.New(),
		CustomerID:    input.CustomerID,
		Status:        enums.OrderStatusPending,
		Currency:      currency,
		TotalNetCents: total,
		Metadata:      raw,
	}, nil
}

// abandonOrder parks an order whose reservation never materialized. The
// guarded transition keeps a concurrently paid order untouched.
func (s *service) abandonOrder(ctx context.Context, orderID uuid.UUID) {
	rows, err := s.orders.GuardedTransition(ctx, orderID,
		enums.OrderStatusPending, enums.OrderStatusCancelled)
	if err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()),
			"failed to abandon unreserved order", err)
		return
	}
	if rows == 0 {
		s.logg.Warn(s.logg.WithOrderID(ctx, orderID.String()),
			"unreserved order already left pending")
	}
}
