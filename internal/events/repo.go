package events

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
)

// Repository stores raw webhook payloads for audit. Inserts ignore conflicts
// on the provider event id so replays never error here.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, event *models.Event) error
	FindByProviderID(ctx context.Context, providerID string) (*models.Event, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an events repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Record(ctx context.Context, event *models.Event) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_event_id"}},
			DoNothing: true,
		}).
		Create(event).Error
}

func (r *repository) FindByProviderID(ctx context.Context, providerID string) (*models.Event, error) {
	var event models.Event
	err := r.db.WithContext(ctx).
		Where("stripe_event_id = ?", providerID).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}
