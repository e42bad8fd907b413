package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/banglalekha/backend/internal/cache"
	"github.com/banglalekha/backend/internal/config"
	"github.com/banglalekha/backend/internal/database"
	"github.com/banglalekha/backend/internal/handlers"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/providers/ocr"
	"github.com/banglalekha/backend/internal/providers/refine"
	"github.com/banglalekha/backend/internal/services"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply schema migrations on startup")
}

func runServer(ctx context.Context, cfg *config.Config) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	if autoMigrate {
		if err := b.migrate(ctx); err != nil {
			return err
		}
	}

	var (
		balanceCache ledger.BalanceCache
		pending      services.PendingStore
		optional     = map[string]handlers.Pinger{}
	)
	redisClient := database.InitRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
		balanceCache = cache.NewRedisBalanceCache(redisClient, cfg.Ledger.CacheTTL)
		pending = services.NewRedisPendingStore(redisClient)
		optional["redis"] = &redisPinger{client: redisClient}
	} else {
		balanceCache = cache.NewLRUBalanceCache(cfg.Ledger.CacheSize, cfg.Ledger.CacheTTL)
		pending = services.NewMemoryPendingStore()
	}

	engine := ledger.NewEngine(b.store,
		ledger.WithCache(balanceCache),
		ledger.WithConflictRetries(cfg.Ledger.ConflictRetries),
	)

	retry := services.RetryConfig{
		MaxAttempts:     cfg.Payments.Retry.MaxAttempts,
		InitialInterval: cfg.Payments.Retry.InitialInterval,
		MaxInterval:     cfg.Payments.Retry.MaxInterval,
		MaxElapsed:      cfg.Payments.Retry.MaxElapsed,
	}
	payments := services.NewPaymentService(engine, b.catalog, pending,
		services.NewHTTPGateway(services.GatewayConfig{
			BaseURL:  cfg.Gateway.BaseURL,
			AppKey:   cfg.Gateway.AppKey,
			Username: cfg.Gateway.Username,
			Password: cfg.Gateway.Password,
			Timeout:  cfg.Gateway.Timeout,
		}),
		services.PaymentConfig{
			CallbackURL: cfg.Payments.CallbackURL,
			PendingTTL:  cfg.Payments.PendingTTL,
			Retry:       retry,
		})
	usage := services.NewUsageService(engine, cfg.Pricing.Costs(), retry)

	router := newRouter(routerDeps{
		cfg:      cfg,
		engine:   engine,
		store:    b.store,
		catalog:  b.catalog,
		payments: payments,
		usage:    usage,
		extractor: ocr.NewTesseractExtractor(ocr.Config{
			Languages:   cfg.OCR.Languages,
			MaxParallel: cfg.OCR.MaxParallel,
		}),
		refiner: refine.NewClient(refine.Config{
			APIKey:  cfg.Refine.APIKey,
			Model:   cfg.Refine.Model,
			BaseURL: cfg.Refine.BaseURL,
			Timeout: cfg.Refine.Timeout,
		}),
		optional: optional,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("storage", cfg.Storage.Driver).Bool("redis", redisClient != nil).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return payments.RunSweeper(gctx, cfg.Payments.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

type redisPinger struct{ client *redis.Client }

func (p *redisPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx).Err() }
