package controllers

import (
	"net/http"

	"github.com/riverstonegoods/storefront-backend/api/responses"
	"github.com/riverstonegoods/storefront-backend/api/validators"
	"github.com/riverstonegoods/storefront-backend/internal/checkout"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
)

// Checkout places an order and reserves its stock. A 409 means the cart
// lost a stock race; the payload names the shortfalls.
func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var input checkout.CheckoutInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := svc.Execute(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if !result.Reserved {
			responses.WriteSuccessStatus(w, http.StatusConflict, result)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
