package models

import (
	"time"

	"github.com/google/uuid"
)

// CouponUsage records a coupon redemption; at most one per (coupon, order).
type CouponUsage struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	CouponID   uuid.UUID  `gorm:"column:coupon_id;type:uuid;not null;uniqueIndex:idx_coupon_order"`
	OrderID    uuid.UUID  `gorm:"column:order_id;type:uuid;not null;uniqueIndex:idx_coupon_order"`
	CustomerID *uuid.UUID `gorm:"column:customer_id;type:uuid"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}
