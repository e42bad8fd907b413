package main

import (
	"net/http"
	"time"

	"github.com/banglalekha/backend/docs"
	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/config"
	"github.com/banglalekha/backend/internal/handlers"
	"github.com/banglalekha/backend/internal/ledger"
	mW "github.com/banglalekha/backend/internal/middleware"
	"github.com/banglalekha/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type routerDeps struct {
	cfg       *config.Config
	engine    *ledger.Engine
	store     handlers.Pinger
	catalog   catalog.Catalog
	payments  *services.PaymentService
	usage     *services.UsageService
	extractor handlers.TextExtractor
	refiner   handlers.TextRefiner
	optional  map[string]handlers.Pinger
}

func newRouter(d routerDeps) http.Handler {
	creditsHandler := handlers.NewCreditsHandler(d.engine, d.catalog, d.usage.Costs(), d.cfg.Ledger.LowBalanceThreshold)
	purchaseHandler := handlers.NewPurchaseHandler(d.payments)
	featuresHandler := handlers.NewFeaturesHandler(d.usage, d.extractor, d.refiner)

	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(mW.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", handlers.IdempotencyKeyHeader, mW.RequestIDHeader},
		ExposedHeaders:   []string{mW.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", handlers.Health(d.store, d.optional))
	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	docs.SwaggerInfo.Host = d.cfg.Server.PublicHost
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Get("/credits/packages", creditsHandler.Packages)
		r.With(mW.VerifySignature(d.cfg.Payments.WebhookSecret)).
			Post("/payments/callback", purchaseHandler.Callback)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(d.cfg.JWT.SecretKey, d.cfg.JWT.Issuer))
			r.Use(handlers.EnsureAccount(d.engine, d.cfg.Ledger.WelcomeGrant))

			r.Get("/credits/balance", creditsHandler.Balance)
			r.Get("/credits/dashboard", creditsHandler.Dashboard)
			r.Get("/credits/history", creditsHandler.History)
			r.Get("/credits/usage", creditsHandler.Usage)

			r.Post("/credits/purchases", purchaseHandler.StartPurchase)
			r.Get("/credits/purchases/{paymentId}", purchaseHandler.PurchaseStatus)

			r.Post("/features/ocr", featuresHandler.ExtractText)
			r.Post("/features/refine", featuresHandler.RefineText)
		})
	})

	return r
}
