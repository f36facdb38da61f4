package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/riverstonegoods/storefront-backend/api/controllers"
	webhookcontrollers "github.com/riverstonegoods/storefront-backend/api/controllers/webhooks"
	"github.com/riverstonegoods/storefront-backend/api/middleware"
	checkoutsvc "github.com/riverstonegoods/storefront-backend/internal/checkout"
	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	stripewebhook "github.com/riverstonegoods/storefront-backend/internal/webhooks/stripe"
	"github.com/riverstonegoods/storefront-backend/pkg/config"
	"github.com/riverstonegoods/storefront-backend/pkg/db"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
	"github.com/riverstonegoods/storefront-backend/pkg/redis"
	"github.com/riverstonegoods/storefront-backend/pkg/stripe"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	StripeClient  *stripe.Client
	WebhookSvc    *stripewebhook.Service
	WebhookGuard  *stripewebhook.IdempotencyGuard
	CheckoutSvc   checkoutsvc.Service
	OrdersSvc     orders.Service
	OrdersRepo    orders.Repository
	InboxSvc      inbox.Service
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps(params)))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			params.WebhookSvc, params.StripeClient, params.WebhookGuard, logg))
	})

	r.Group(func(r chi.Router) {
		if params.Redis != nil {
			r.Use(middleware.Idempotency(params.Redis, logg))
		}

		r.Post("/api/v1/checkout", controllers.Checkout(params.CheckoutSvc, logg))

		r.Route("/api/v1/orders/{orderId}", func(r chi.Router) {
			r.Get("/", controllers.GetOrder(params.OrdersSvc, logg))
			r.Get("/history", controllers.ListOrderHistory(params.OrdersRepo, logg))
			r.Post("/cancel", controllers.CancelOrder(params.OrdersSvc, logg))
		})

		r.Route("/api/v1/inbox", func(r chi.Router) {
			r.Get("/", controllers.ListInbox(params.InboxSvc, logg))
			r.Post("/{inboxId}/read", controllers.MarkInboxRead(params.InboxSvc, logg))
		})
	})

	return r
}

func readinessDeps(params RouterParams) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if params.DB != nil {
		deps["database"] = params.DB
	}
	if params.Redis != nil {
		deps["redis"] = params.Redis
	}
	return deps
}
