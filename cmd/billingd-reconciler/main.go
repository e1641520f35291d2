// billingd-reconciler periodically re-syncs every team billing record
// against the payment provider. Individual records self-heal on read,
// but team subscriptions also drift when members join or leave without
// anyone opening a billing page, so the sweep keeps seat counts and
// subscription state current.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/meterline/billingd/pkg/apierrors"
	"github.com/meterline/billingd/pkg/billing"
	"github.com/meterline/billingd/pkg/config"
	"github.com/meterline/billingd/pkg/observability"
	"github.com/meterline/billingd/pkg/orgs"
	"github.com/meterline/billingd/pkg/users"
)

var runOnce = flag.Bool("run-once", false, "Run one sweep and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).WithField("service", "billingd-reconciler")

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	gateway := billing.NewStripeGateway(cfg.Stripe.APIKey, metrics)
	var prices billing.PriceSource = billing.NewGatewayPriceSource(gateway)
	if cfg.Redis.URL != "" {
		cached, err := billing.NewCachedPriceSource(prices, cfg.Redis.URL, cfg.Redis.PriceTTL, metrics)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer cached.Close()
		prices = cached
	}

	store := billing.NewPostgresStore(db)
	svc := billing.NewService(
		store,
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

	reconciler := &reconciler{
		store:       store,
		service:     svc,
		logger:      logger,
		concurrency: cfg.Reconciler.Concurrency,
	}

	if *runOnce {
		if err := reconciler.sweep(context.Background()); err != nil {
			logger.WithError(err).Error("sweep failed")
			os.Exit(1)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(cfg.Reconciler.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := reconciler.sweep(ctx); err != nil {
			logger.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		logger.WithError(err).Error("failed to schedule reconciliation sweep")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", cfg.Reconciler.Schedule).Info("billingd-reconciler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	<-c.Stop().Done()
	logger.Info("Reconciler stopped")
}

type reconciler struct {
	store       billing.Store
	service     *billing.Service
	logger      *observability.Logger
	concurrency int
}

// sweep re-syncs every team record, bounded by the configured
// concurrency. Per-record failures are logged and counted but do not
// stop the sweep; only listing failures abort it.
func (r *reconciler) sweep(ctx context.Context) error {
	start := time.Now()
	records, err := r.store.ListTeamRecords(ctx)
	if err != nil {
		return err
	}

	var group errgroup.Group
	group.SetLimit(r.concurrency)
	failures := make([]error, len(records))
	for i, record := range records {
		i := i
		subject := record.Subject()
		group.Go(func() error {
			failures[i] = r.syncOne(ctx, subject)
			return nil
		})
	}
	group.Wait()

	var failed int
	for _, err := range failures {
		if err != nil {
			failed++
		}
	}
	r.logger.WithFields(map[string]interface{}{
		"records":  len(records),
		"failed":   failed,
		"duration": time.Since(start).String(),
	}).Info("reconciliation sweep complete")
	return nil
}

func (r *reconciler) syncOne(ctx context.Context, subject billing.Subject) error {
	log := r.logger.WithFields(map[string]interface{}{
		"user_id": subject.UserID,
		"org_id":  subject.OrgID,
	})

	if _, err := r.service.SyncSubscription(ctx, subject); err != nil {
		log.WithError(err).Error("subscription sync failed")
		return err
	}

	if _, err := r.service.SyncSeatCount(ctx, subject); err != nil {
		// Records without a live subscription have no seats to sync,
		// and ownership may have moved since the record was written.
		switch apierrors.CodeOf(err) {
		case apierrors.CodeBadRequest, apierrors.CodeForbidden:
			log.WithError(err).Debug("skipping seat sync")
			return nil
		}
		log.WithError(err).Error("seat sync failed")
		return err
	}
	return nil
}
