// The api binary serves the billing HTTP surface: checkout, free
// activation, the webhook ingress, entitlement reads, and the customer
// portal redirect. It also runs the expiration sweep in-process.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stablebook/billing/modules/billing"
	"github.com/stablebook/billing/pkg/config"
	"github.com/stablebook/billing/pkg/coupon"
	"github.com/stablebook/billing/pkg/email"
	"github.com/stablebook/billing/pkg/httpserver"
	"github.com/stablebook/billing/pkg/logger"
	"github.com/stablebook/billing/pkg/pg"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/quota"
	"github.com/stablebook/billing/pkg/subscription"
	"github.com/stablebook/billing/pkg/sweeper"
)

type appConfig struct {
	BillingProvider string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	SuccessURL      string        `env:"CHECKOUT_SUCCESS_URL,required"`
	CancelURL       string        `env:"CHECKOUT_CANCEL_URL,required"`
	FreeTierHorses  int64         `env:"QUOTA_FREE_TIER_HORSES" envDefault:"0"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatchSize  int32         `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	ProviderTimeout time.Duration `env:"BILLING_PROVIDER_TIMEOUT" envDefault:"15s"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.NewFromConfig(logCfg, logger.WithService("billing-api"))
	slog.SetDefault(log)

	var appCfg appConfig
	config.MustLoad(&appCfg)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		return fmt.Errorf("database migration: %w", err)
	}

	plans, err := plan.NewInMemSource(plan.DefaultCatalog()...).Load(ctx)
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}
	if err := plan.Validate(plans); err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	provider, err := newProvider(appCfg.BillingProvider)
	if err != nil {
		return err
	}

	horseStore := quota.NewPgHorseStore(pool)
	enforcer := quota.NewEnforcer(
		horseStore,
		quota.NewPgAuditStore(pool),
		quota.WithFreeTierLimit(appCfg.FreeTierHorses),
		quota.WithLogger(log),
	)

	svc := subscription.NewService(
		plans,
		subscription.NewPgStore(pool),
		coupon.NewValidator(coupon.NewPgStore(pool)),
		provider,
		enforcer,
		subscription.WithRedirectURLs(appCfg.SuccessURL, appCfg.CancelURL),
		subscription.WithFreeTierLimit(appCfg.FreeTierHorses),
		subscription.WithProviderTimeout(appCfg.ProviderTimeout),
		subscription.WithHorseCounter(horseStore),
		subscription.WithServiceLogger(log),
	)

	sw := sweeper.New(
		subscription.NewPgStore(pool),
		enforcer,
		plans,
		sweeper.WithInterval(appCfg.SweepInterval),
		sweeper.WithBatchSize(appCfg.SweepBatchSize),
		sweeper.WithNotifier(newMailer(log), sweeper.NewPgDirectory(pool)),
		sweeper.WithLogger(log),
	)
	go func() {
		if err := sw.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("sweep loop stopped", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	router.Mount("/billing", billing.Router(billing.RouterOptions{
		Service:         svc,
		SignatureHeader: signatureHeader(provider.Name()),
		Sweeper:         sw,
		Healthcheck:     pg.Healthcheck(pool),
		Logger:          log,
	}))

	var srvCfg httpserver.Config
	config.MustLoad(&srvCfg)

	return httpserver.New(srvCfg, log).Run(ctx, router)
}

func newProvider(name string) (subscription.BillingProvider, error) {
	switch name {
	case "stripe":
		var cfg subscription.StripeConfig
		config.MustLoad(&cfg)
		return subscription.NewStripeProvider(cfg)
	case "paddle":
		var cfg subscription.PaddleConfig
		config.MustLoad(&cfg)
		return subscription.NewPaddleProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown billing provider %q", name)
	}
}

// newMailer picks Postmark when a server token is configured and falls
// back to the log-only sender for development.
func newMailer(log *slog.Logger) email.Sender {
	var cfg email.Config
	config.MustLoad(&cfg)

	if cfg.PostmarkServerToken == "" {
		log.Warn("no postmark token configured, using dev email sender")
		return email.NewDevSender(log)
	}

	sender, err := email.NewPostmarkClient(cfg)
	if err != nil {
		log.Error("postmark client unavailable, using dev email sender", slog.Any("error", err))
		return email.NewDevSender(log)
	}
	return sender
}

func signatureHeader(providerName string) string {
	if providerName == "paddle" {
		return "Paddle-Signature"
	}
	return "Stripe-Signature"
}
