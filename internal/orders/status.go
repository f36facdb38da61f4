package orders

import "github.com/riverstonegoods/storefront-backend/pkg/enums"

// CalculateOrderStatus derives an order's status from its refund totals.
// Pure function; the caller persists the result with a guarded write.
//
// Pending is sticky: refund events that race ahead of the payment event must
// not promote an unpaid order. For paid orders the refunded amount alone
// decides the bucket, so replays and partial refunds can only move the status
// forward (paid -> partially_refunded -> refunded), never back.
func CalculateOrderStatus(current enums.OrderStatus, totalNetCents, refundedCents int64) enums.OrderStatus {
	if current == enums.OrderStatusPending {
		return enums.OrderStatusPending
	}

	switch {
	case refundedCents <= 0:
		return enums.OrderStatusPaid
	case totalNetCents > 0 && refundedCents >= totalNetCents:
		return enums.OrderStatusRefunded
	default:
		return enums.OrderStatusPartiallyRefunded
	}
}
