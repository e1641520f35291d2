package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meterline/billingd/pkg/api"
	"github.com/meterline/billingd/pkg/auth"
	"github.com/meterline/billingd/pkg/billing"
	"github.com/meterline/billingd/pkg/config"
	"github.com/meterline/billingd/pkg/observability"
	"github.com/meterline/billingd/pkg/orgs"
	"github.com/meterline/billingd/pkg/users"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).WithField("service", "billingd")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(ctx); err != nil {
		cancel()
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}
	cancel()

	if err := billing.RunMigrations(context.Background(), db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	gateway := billing.NewStripeGateway(cfg.Stripe.APIKey, metrics)

	var prices billing.PriceSource = billing.NewGatewayPriceSource(gateway)
	var priceCache *billing.CachedPriceSource
	if cfg.Redis.URL != "" {
		priceCache, err = billing.NewCachedPriceSource(prices, cfg.Redis.URL, cfg.Redis.PriceTTL, metrics)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		prices = priceCache
		logger.Info("Price cache enabled")
	}

	svc := billing.NewService(
		billing.NewPostgresStore(db),
		gateway,
		prices,
		users.NewPostgresService(db),
		orgs.NewPostgresService(db),
		billing.NewCatalog(cfg.Stripe.PriceRefs),
		billing.ServiceConfig{
			CheckoutSuccessURL: cfg.Stripe.CheckoutSuccessURL,
			CheckoutCancelURL:  cfg.Stripe.CheckoutCancelURL,
			PortalReturnURL:    cfg.Stripe.PortalReturnURL,
		},
		logger,
		metrics,
	)

	server := api.NewServer(api.ServerOptions{
		BillingService: svc,
		Sessions:       auth.NewPostgresStore(db),
		DB:             db,
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
	})

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if priceCache != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return priceCache.Close()
		})
	}

	go func() {
		logger.WithField("addr", addr).Info("billingd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	if err := shutdown.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
		os.Exit(1)
	}
}
