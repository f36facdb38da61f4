package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/api/responses"
	"github.com/riverstonegoods/storefront-backend/api/validators"
	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

// ListInbox pages through operator alerts, newest first.
func ListInbox(svc inbox.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", 25, 1, 100)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		unreadOnly := strings.EqualFold(r.URL.Query().Get("unread"), "true")

		result, err := svc.List(ctx, inbox.ListParams{
			Limit:      limit,
			Cursor:     r.URL.Query().Get("cursor"),
			UnreadOnly: unreadOnly,
			Severity:   r.URL.Query().Get("severity"),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// MarkInboxRead acknowledges one alert.
func MarkInboxRead(svc inbox.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		itemID, err := uuid.Parse(chi.URLParam(r, "inboxId"))
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "inbox item id must be a uuid"))
			return
		}
		if err := svc.MarkRead(ctx, itemID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "read"})
	}
}
