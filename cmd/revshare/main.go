package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/railzwaylabs/revshare/internal/bootstrap"
	"github.com/railzwaylabs/revshare/internal/clock"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/jobs"
	"github.com/railzwaylabs/revshare/internal/ledger"
	"github.com/railzwaylabs/revshare/internal/metrics"
	"github.com/railzwaylabs/revshare/internal/migration"
	"github.com/railzwaylabs/revshare/internal/observability"
	"github.com/railzwaylabs/revshare/internal/payout"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	"github.com/railzwaylabs/revshare/internal/redis"
	"github.com/railzwaylabs/revshare/internal/server"
	"github.com/railzwaylabs/revshare/internal/settlement"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/railzwaylabs/revshare/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "revshare",
		Short:         "Revenue-share settlement and investor payouts",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCmd(),
		newServeCmd(),
		newWorkerCmd(),
		newAllCmd(),
		newCloseDayCmd(),
		newLedgerCmd(),
		newSeedCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and workers when WORKER_ENABLED is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run settlement and payout queue workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			runWorker()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			runMonolith()
			return nil
		},
	}
}

// coreModules is the graph shared by every command that touches settlement
// or payouts.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		db.Module,
		migration.AutoModule,
		bootstrap.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),
		clock.Module,
		redis.Module,
		metrics.Module,
		jobs.Module,
		disbursement.Module,
		ledger.Module,
		settlement.Module,
		payout.Module,
	)
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runServe() {
	app := fx.New(
		coreModules(),
		server.Module,
		fx.Invoke(startEmbeddedWorkers),
	)
	app.Run()
}

func runWorker() {
	app := fx.New(
		coreModules(),
		fx.Invoke(settlement.RegisterJobs),
		fx.Invoke(payout.RegisterJobs),
		fx.Invoke(jobs.RunLifecycle),
	)
	app.Run()
}

func runMonolith() {
	app := fx.New(
		coreModules(),
		server.Module,
		fx.Invoke(settlement.RegisterJobs),
		fx.Invoke(payout.RegisterJobs),
		fx.Invoke(jobs.RunLifecycle),
	)
	app.Run()
}

func startEmbeddedWorkers(
	lc fx.Lifecycle,
	cfg config.Config,
	log *zap.Logger,
	runner *jobs.Runner,
	settlements settlementdomain.Service,
	payouts payoutdomain.Service,
) {
	if !cfg.WorkerEnabled {
		log.Info("queue workers disabled for this process")
		return
	}
	settlement.RegisterJobs(runner, cfg, settlements)
	payout.RegisterJobs(runner, cfg, payouts)
	jobs.RunLifecycle(lc, runner)
}

// runOnce starts the graph, runs action, and stops the graph whatever
// action returns. Services are pulled out of the graph with fx.Populate.
func runOnce(action func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(append(opts, fx.NopLogger)...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	return action(ctx)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
