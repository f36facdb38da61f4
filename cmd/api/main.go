package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/riverstonegoods/storefront-backend/api/routes"
	"github.com/riverstonegoods/storefront-backend/internal/checkout"
	"github.com/riverstonegoods/storefront-backend/internal/coupons"
	"github.com/riverstonegoods/storefront-backend/internal/events"
	"github.com/riverstonegoods/storefront-backend/internal/inbox"
	"github.com/riverstonegoods/storefront-backend/internal/inventory"
	"github.com/riverstonegoods/storefront-backend/internal/mail"
	"github.com/riverstonegoods/storefront-backend/internal/orders"
	"github.com/riverstonegoods/storefront-backend/internal/payments"
	"github.com/riverstonegoods/storefront-backend/internal/refunds"
	stripewebhook "github.com/riverstonegoods/storefront-backend/internal/webhooks/stripe"
	"github.com/riverstonegoods/storefront-backend/pkg/config"
	"github.com/riverstonegoods/storefront-backend/pkg/db"
	"github.com/riverstonegoods/storefront-backend/pkg/logger"
	"github.com/riverstonegoods/storefront-backend/pkg/metrics"
	"github.com/riverstonegoods/storefront-backend/pkg/migrate"
	"github.com/riverstonegoods/storefront-backend/pkg/redis"
	"github.com/riverstonegoods/storefront-backend/pkg/stripe"
)

const webhookGuardTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	var mailer mail.Mailer
	if cfg.Sendgrid.APIKey != "" {
		mailer, err = mail.NewSendgridMailer(cfg.Sendgrid)
		if err != nil {
			logg.Error(context.Background(), "failed to create mailer", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "sendgrid not configured, using logging mailer")
		mailer = mail.NewLoggingMailer(logg)
	}

	gdb := dbClient.DB()
	ordersRepo := orders.NewRepository(gdb)
	paymentsRepo := payments.NewRepository(gdb)
	eventsRepo := events.NewRepository(gdb)
	couponsRepo := coupons.NewRepository(gdb)

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Repo:   inventory.NewRepository(gdb),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}
	inboxSvc, err := inbox.NewService(inbox.NewRepository(gdb), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create inbox service", err)
		os.Exit(1)
	}
	ordersSvc, err := orders.NewService(orders.ServiceParams{
		Repo:          ordersRepo,
		Inventory:     inventorySvc,
		Inbox:         inboxSvc,
		Mailer:        mailer,
		Gateway:       stripeClient,
		GatewayHasKey: cfg.Stripe.APIKey != "",
		Logger:        logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)
	refundsSvc, err := refunds.NewService(refunds.ServiceParams{
		OrdersRepo:   ordersRepo,
		PaymentsRepo: paymentsRepo,
		Inbox:        inboxSvc,
		Metrics:      webhookMetrics,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}
	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:             ordersSvc,
		Refunds:            refundsSvc,
		Inventory:          inventorySvc,
		Payments:           paymentsRepo,
		Events:             eventsRepo,
		Coupons:            couponsRepo,
		Inbox:              inboxSvc,
		Mailer:             mailer,
		Metrics:            webhookMetrics,
		Logger:             logg,
		LegacyStockSupport: cfg.FeatureFlags.LegacyStockSupport,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, webhookGuardTTL, "stripe_webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	checkoutSvc, err := checkout.NewService(checkout.ServiceParams{
		Orders:    ordersRepo,
		Inventory: inventorySvc,
		Coupons:   couponsRepo,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           dbClient,
			Redis:        redisClient,
			StripeClient: stripeClient,
			WebhookSvc:   webhookSvc,
			WebhookGuard: webhookGuard,
			CheckoutSvc:  checkoutSvc,
			OrdersSvc:    ordersSvc,
			OrdersRepo:   ordersRepo,
			InboxSvc:     inboxSvc,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
