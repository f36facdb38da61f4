package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/pkg/db/models"
	"github.com/riverstonegoods/storefront-backend/pkg/enums"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
	"github.com/riverstonegoods/storefront-backend/pkg/pagination"
)

// Service defines operator inbox operations. Reconciliation code publishes
// alerts here instead of failing requests for non-critical problems.
type Service interface {
	Publish(ctx context.Context, input PublishParams) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, itemID uuid.UUID) error
}

// PublishParams describes one alert to surface to operators.
type PublishParams struct {
	Severity enums.InboxSeverity
	Kind     enums.InboxKind
	Title    string
	Body     string
	OrderID  *uuid.UUID
}

// ListParams configures pagination and filtering for the inbox.
type ListParams struct {
	Limit      int
	Cursor     string
	UnreadOnly bool
	Severity   string
}

// ListResult wraps returned items and the cursor for the next page.
type ListResult struct {
	Items  []models.InboxItem `json:"items"`
	Cursor string             `json:"cursor"`
}

type service struct {
	repo Repository
	logg *logger.Logger
}

// NewService wires inbox dependencies.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "inbox repository required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func (s *service) Publish(ctx context.Context, input PublishParams) error {
	if !input.Severity.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid inbox severity")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid inbox kind")
	}
	if input.Title == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "inbox title required")
	}

	item := &models.InboxItem{
		ID:       uuid.New(),
		Severity: input.Severity,
		Kind:     input.Kind,
		Title:    input.Title,
		Body:     input.Body,
		OrderID:  input.OrderID,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create inbox item")
	}

	if input.Severity == enums.InboxSeverityCritical {
		fields := map[string]any{"kind": input.Kind.String(), "title": input.Title}
		if input.OrderID != nil {
			fields["orderId"] = input.OrderID.String()
		}
		s.logg.Warn(s.logg.WithFields(ctx, fields), "critical inbox item published")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	query := listInboxParams{
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Severity != "" {
		severity, err := enums.ParseInboxSeverity(params.Severity)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid severity filter")
		}
		query.Severity = severity
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inbox items")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *service) MarkRead(ctx context.Context, itemID uuid.UUID) error {
	if itemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "inbox item id required")
	}

	result, err := s.repo.MarkRead(ctx, itemID, time.Now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark inbox item read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inbox item not found")
	}
	return nil
}
