package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/riverstonegoods/storefront-backend/api/responses"
	"github.com/riverstonegoods/storefront-backend/api/validators"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	pkgerrors "github.com/riverstonegoods/storefront-backend/pkg/errors"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

const actorHeader = "X-Actor"

type cancelOrderBody struct {
	Reason          string `json:"reason" validate:"omitempty,max=500"`
	StripeSecretKey string `json:"stripeSecretKey" validate:"omitempty,max=200"`
}

// GetOrder returns one order with its items.
func GetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid"))
			return
		}
		order, err := svc.GetOrder(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// CancelOrder runs the operator cancellation flow. The actor comes from the
// X-Actor header so the audit log always names who asked.
func CancelOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid"))
			return
		}

		actor := validators.SanitizeString(r.Header.Get(actorHeader), 120)
		if actor == "" {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "X-Actor header required"))
			return
		}

		var body cancelOrderBody
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &body); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}

		result, err := svc.CancelOrder(ctx, orders.CancelOrderInput{
			OrderID:         orderID,
			Reason:          validators.SanitizeString(body.Reason, 500),
			Actor:           actor,
			StripeSecretKey: body.StripeSecretKey,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// ListOrderHistory returns the status transition trail for an order.
func ListOrderHistory(repo orders.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "order id must be a uuid"))
			return
		}
		history, err := repo.ListStatusHistory(ctx, orderID)
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load status history"))
			return
		}
		responses.WriteSuccess(w, history)
	}
}
