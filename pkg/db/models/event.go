package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event stores the raw webhook payload for audit and replay diagnosis.
type Event struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	StripeEventID string          `gorm:"column:stripe_event_id;not null;uniqueIndex"`
	Type          string          `gorm:"column:type;not null;index"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
