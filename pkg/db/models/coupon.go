package models

import (
	"time"

	"github.com/google/uuid"
)

// Coupon is a discount code linked to orders through their metadata.
type Coupon struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Code          string    `gorm:"column:code;not null;uniqueIndex"`
	DiscountCents int64     `gorm:"column:discount_cents;not null;default:0"`
	Active        bool      `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
