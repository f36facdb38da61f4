package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	"github.com/riverstonegoods/storefront-backend/pkg/pagination"
)

// Repository exposes persistence helpers for operator inbox items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, item *models.InboxItem) error
	List(ctx context.Context, params listInboxParams) ([]models.InboxItem, *pagination.Cursor, error)
	MarkRead(ctx context.Context, itemID uuid.UUID, now time.Time) (markResult, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an inbox repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listInboxParams struct {
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
	Severity   enums.InboxSeverity
}

type markResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, item *models.InboxItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repositoryImpl) List(ctx context.Context, params listInboxParams) ([]models.InboxItem, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.InboxItem{})
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Severity != "" {
		query = query.Where("severity = ?", params.Severity)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var items []models.InboxItem
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, nil, err
	}

	if len(items) > normalized {
		next := items[normalized]
		items = items[:normalized]
		return items, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return items, nil, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, itemID uuid.UUID, now time.Time) (markResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.InboxItem{}).
		Where("id = ? AND read_at IS NULL", itemID).
		Update("read_at", now)
	if result.Error != nil {
		return markResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return markResult{Updated: true, Found: true}, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.InboxItem{}).
		Where("id = ?", itemID).
		Count(&count).Error; err != nil {
		return markResult{}, err
	}
	return markResult{Found: count > 0}, nil
}
