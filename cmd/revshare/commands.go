package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/revshare/internal/clock"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/ledger"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	"github.com/railzwaylabs/revshare/internal/migration"
	"github.com/railzwaylabs/revshare/internal/observability"
	"github.com/railzwaylabs/revshare/internal/seed"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/railzwaylabs/revshare/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func newCloseDayCmd() *cobra.Command {
	var (
		start   string
		end     string
		dryRun  bool
		enqueue bool
	)
	cmd := &cobra.Command{
		Use:   "close-day",
		Short: "Settle one period (defaults to the previous UTC day)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := settlementdomain.CloseDayRequest{DryRun: dryRun}
			var err error
			if req.PeriodStart, err = parseDay(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if req.PeriodEnd, err = parseDay(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			var svc settlementdomain.Service
			return runOnce(func(ctx context.Context) error {
				if enqueue {
					resp, err := svc.RequestCloseDay(ctx, req)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), resp)
				}
				periodStart, periodEnd := settlementdomain.ResolvePeriod(req.PeriodStart, req.PeriodEnd, time.Now())
				result, err := svc.CloseDay(ctx, settlementdomain.Job{
					PeriodStart: periodStart,
					PeriodEnd:   periodEnd,
					DryRun:      req.DryRun,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}, coreModules(), fx.Populate(&svc))
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD or RFC3339, UTC)")
	cmd.Flags().StringVar(&end, "end", "", "period end, exclusive (YYYY-MM-DD or RFC3339, UTC)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute and record a draft run without ledger postings or disbursements")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "queue the settlement for a worker instead of running it here")
	return cmd
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Ledger maintenance",
	}

	var runID string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check that debits equal credits; exits non-zero on imbalance",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter *snowflake.ID
			if strings.TrimSpace(runID) != "" {
				id, err := snowflake.ParseString(strings.TrimSpace(runID))
				if err != nil {
					return fmt.Errorf("--run-id: %w", err)
				}
				filter = &id
			}

			var svc ledgerdomain.Service
			return runOnce(func(ctx context.Context) error {
				balanced, err := svc.VerifyLedgerBalance(ctx, filter)
				if err != nil {
					return err
				}
				summary, err := svc.Summarize(ctx, filter)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if !balanced {
					return fmt.Errorf("%w: difference %s", ledgerdomain.ErrLedgerImbalance, summary.Difference.String())
				}
				return nil
			},
				config.Module,
				observability.Module,
				db.Module,
				migration.AutoModule,
				clock.Module,
				ledger.Module,
				fx.Populate(&svc),
			)
		},
	}
	verify.Flags().StringVar(&runID, "run-id", "", "restrict the check to one settlement run")
	cmd.AddCommand(verify)
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo investors, agreements and today's revenue snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				node *snowflake.Node
				cfg  config.Config
			)
			return runOnce(func(ctx context.Context) error {
				res, err := seed.EnsureDemoData(ctx, conn, node, cfg.Settlement.Currency, time.Now())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			},
				config.Module,
				observability.Module,
				db.Module,
				migration.AutoModule,
				fx.Populate(&conn, &node, &cfg),
			)
		},
	}
}

// parseDay accepts a calendar date or an RFC3339 instant. Empty input means
// "use the default".
func parseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, raw, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
