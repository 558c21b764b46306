// The sweep binary runs the subscription expiration sweep, either once
// (for cron) or on an interval.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stablebook/billing/pkg/config"
	"github.com/stablebook/billing/pkg/email"
	"github.com/stablebook/billing/pkg/logger"
	"github.com/stablebook/billing/pkg/pg"
	"github.com/stablebook/billing/pkg/plan"
	"github.com/stablebook/billing/pkg/quota"
	"github.com/stablebook/billing/pkg/subscription"
	"github.com/stablebook/billing/pkg/sweeper"
)

type sweepConfig struct {
	FreeTierHorses int64         `env:"QUOTA_FREE_TIER_HORSES" envDefault:"0"`
	Interval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	BatchSize      int32         `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
}

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	if err := run(*once); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(once bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.NewFromConfig(logCfg, logger.WithService("billing-sweep"))
	slog.SetDefault(log)

	var cfg sweepConfig
	config.MustLoad(&cfg)

	var pgCfg pg.Config
	config.MustLoad(&pgCfg)

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer pool.Close()

	plans, err := plan.NewInMemSource(plan.DefaultCatalog()...).Load(ctx)
	if err != nil {
		return fmt.Errorf("plan catalog: %w", err)
	}

	enforcer := quota.NewEnforcer(
		quota.NewPgHorseStore(pool),
		quota.NewPgAuditStore(pool),
		quota.WithFreeTierLimit(cfg.FreeTierHorses),
		quota.WithLogger(log),
	)

	sw := sweeper.New(
		subscription.NewPgStore(pool),
		enforcer,
		plans,
		sweeper.WithInterval(cfg.Interval),
		sweeper.WithBatchSize(cfg.BatchSize),
		sweeper.WithNotifier(newMailer(log), sweeper.NewPgDirectory(pool)),
		sweeper.WithLogger(log),
	)

	if once {
		sum, err := sw.Run(ctx)
		if err != nil {
			return err
		}
		log.Info("sweep complete",
			slog.Int("scanned", sum.Scanned),
			slog.Int("deactivated", sum.Deactivated),
		)
		return nil
	}

	if err := sw.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

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
