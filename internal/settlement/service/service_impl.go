package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/revshare/internal/clock"
	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/jobs"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	"github.com/railzwaylabs/revshare/internal/metrics"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	"github.com/railzwaylabs/revshare/internal/settlement/compute"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultLockTTL   = 10 * time.Minute

	reasonKYC       = "KYC not verified"
	reasonInvestor  = "Investor not found"
	reasonFrequency = "Payout frequency not reached"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Config   config.Config
	Repo     settlementdomain.Repository
	Payouts  payoutdomain.Repository
	Ledger   ledgerdomain.Service
	Registry *disbursement.Registry
	Enqueuer jobs.Enqueuer
	Locker   *redislock.Client `optional:"true"`
	Metrics  *metrics.Metrics  `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.SettlementConfig
	repo     settlementdomain.Repository
	payouts  payoutdomain.Repository
	ledger   ledgerdomain.Service
	registry *disbursement.Registry
	enqueuer jobs.Enqueuer
	locker   *redislock.Client
	metrics  *metrics.Metrics
}

func NewService(p Params) settlementdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("settlement.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Config.Settlement,
		repo:     p.Repo,
		payouts:  p.Payouts,
		ledger:   p.Ledger,
		registry: p.Registry,
		enqueuer: p.Enqueuer,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}
}

// RequestCloseDay validates the period and queues the close. The period
// defaults to the previous UTC day.
func (s *Service) RequestCloseDay(ctx context.Context, req settlementdomain.CloseDayRequest) (*settlementdomain.CloseDayResponse, error) {
	start, end := settlementdomain.ResolvePeriod(req.PeriodStart, req.PeriodEnd, s.clock.Now(ctx))
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}

	resp := &settlementdomain.CloseDayResponse{
		PeriodStart: start,
		PeriodEnd:   end,
		DryRun:      req.DryRun,
	}

	existing, err := s.repo.FindClosedRun(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		resp.ExistingRunID = &existing.ID
		return resp, settlementdomain.ErrRunAlreadyExists
	}

	jobID, err := s.enqueuer.Enqueue(ctx, settlementdomain.QueueName, settlementdomain.JobTypeCloseDay, settlementdomain.Job{
		PeriodStart: start,
		PeriodEnd:   end,
		DryRun:      req.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue close day: %w", err)
	}
	resp.JobID = jobID

	s.log.Info("close day requested",
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Bool("dry_run", req.DryRun),
		zap.String("job_id", jobID),
	)
	return resp, nil
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() || !end.After(start) {
		return settlementdomain.ErrInvalidPeriod
	}
	return nil
}

// plannedPayout is an eligible entitlement waiting to be enqueued.
type plannedPayout struct {
	id      snowflake.ID
	enqueue bool
}

// CloseDay closes one period. It is safe to run again for the same period:
// a closed run is not recomputed, only its PENDING instructions are queued
// again. Enqueue failures after commit are returned so the job is retried.
func (s *Service) CloseDay(ctx context.Context, job settlementdomain.Job) (*settlementdomain.CloseDayResult, error) {
	start, end := job.PeriodStart.UTC(), job.PeriodEnd.UTC()
	if err := validatePeriod(start, end); err != nil {
		return nil, err
	}

	log := s.log.With(
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Bool("dry_run", job.DryRun),
	)

	if s.locker != nil {
		ttl := s.cfg.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		key := fmt.Sprintf("lock:settlement:%s:%s", start.Format(time.RFC3339), end.Format(time.RFC3339))
		lock, err := s.locker.Obtain(ctx, key, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			log.Warn("settlement period is being closed elsewhere")
			return nil, settlementdomain.ErrSettlementLocked
		}
		if err != nil {
			return nil, fmt.Errorf("obtain settlement lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.Warn("failed to release settlement lock", zap.Error(err))
			}
		}()
	}

	existing, err := s.repo.FindClosedRun(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log = log.With(zap.String("run_id", existing.ID.String()))
		log.Warn("settlement run already closed")
		requeued, err := s.requeuePending(ctx, log, existing.ID)
		if err != nil {
			return nil, err
		}
		return &settlementdomain.CloseDayResult{
			RunID:         existing.ID,
			Status:        existing.Status,
			AlreadyClosed: true,
			Requeued:      requeued,
		}, nil
	}

	snapshot, err := s.snapshotFor(ctx, start, end)
	if err != nil {
		return nil, err
	}

	agreements, err := s.repo.ListActiveAgreements(ctx, s.db)
	if err != nil {
		return nil, err
	}
	if len(agreements) == 0 {
		log.Warn("no active investor agreements")
		return nil, settlementdomain.ErrNoActiveAgreement
	}

	calc := compute.ComputeSettlement(*snapshot, agreements, s.payoutPct())

	totalsJSON, err := json.Marshal(calc.Totals)
	if err != nil {
		return nil, err
	}
	investorsJSON, err := json.Marshal(calc.Investors)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now(ctx)
	status := settlementdomain.RunStatusFinalized
	if job.DryRun {
		status = settlementdomain.RunStatusDraft
	}
	run := &settlementdomain.SettlementRun{
		ID:            s.genID.Generate(),
		PeriodStart:   start,
		PeriodEnd:     end,
		Status:        status,
		SnapshotID:    snapshot.ID,
		DryRun:        job.DryRun,
		TotalsJSON:    datatypes.JSON(totalsJSON),
		InvestorsJSON: datatypes.JSON(investorsJSON),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	log = log.With(zap.String("run_id", run.ID.String()))

	result := &settlementdomain.CloseDayResult{
		RunID:     run.ID,
		Totals:    calc.Totals,
		PayoutIDs: []snowflake.ID{},
		Skipped:   []settlementdomain.SkippedInvestor{},
	}
	var planned []plannedPayout

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertRun(ctx, tx, run); err != nil {
			return err
		}

		ledger := s.ledger.WithTx(tx)
		if !job.DryRun {
			if _, err := ledger.PostSettlementLedgers(ctx, ledgerdomain.SettlementPosting{
				RunID:      run.ID,
				Currency:   s.cfg.Currency,
				NGR:        calc.Totals.NGR,
				Taxes:      calc.Totals.Taxes,
				Marketing:  calc.Totals.Marketing,
				PayoutFees: calc.Totals.PayoutFees,
				FXFees:     calc.Totals.FXFees,
			}); err != nil {
				return err
			}
		}

		for _, inv := range calc.Investors {
			skip := func(reason string) {
				result.Skipped = append(result.Skipped, settlementdomain.SkippedInvestor{InvestorID: inv.InvestorID, Reason: reason})
				log.Info("investor skipped",
					zap.String("investor_id", inv.InvestorID.String()),
					zap.String("reason", reason),
				)
			}

			if !inv.Eligible {
				skip(inv.Reason)
				continue
			}
			investor := inv.Agreement.Investor
			if investor == nil {
				skip(reasonInvestor)
				continue
			}
			if !investor.KYCVerified() {
				skip(reasonKYC)
				continue
			}

			last, err := s.payouts.FindLatestSettledForInvestor(ctx, tx, investor.ID)
			if err != nil {
				return err
			}
			var lastAt *time.Time
			if last != nil {
				lastAt = &last.CreatedAt
			}
			if !compute.ShouldExecutePayout(inv.PayoutFrequency, lastAt, end) {
				skip(fmt.Sprintf("%s (%s)", reasonFrequency, inv.PayoutFrequency))
				continue
			}

			p, created, err := s.createPayout(ctx, tx, run.ID, *investor, inv, now)
			if err != nil {
				return err
			}
			if created && !job.DryRun {
				if err := ledger.PostInvestorPayoutLedger(ctx, run.ID, investor.ID, p.Amount, p.Currency); err != nil {
					return err
				}
			}
			result.PayoutIDs = append(result.PayoutIDs, p.ID)
			planned = append(planned, plannedPayout{id: p.ID, enqueue: !job.DryRun})
		}

		if !job.DryRun {
			if err := s.repo.UpdateRunStatus(ctx, tx, run.ID, settlementdomain.RunStatusPaid, now); err != nil {
				return err
			}
			run.Status = settlementdomain.RunStatusPaid
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close day: %w", err)
	}
	result.Status = run.Status

	// Workers must only see committed instructions.
	var enqueueFailures int
	for _, p := range planned {
		if !p.enqueue {
			continue
		}
		if err := s.enqueuePayout(ctx, log, p.id); err != nil {
			enqueueFailures++
		}
	}

	s.refreshPending(ctx)

	if enqueueFailures > 0 {
		// The run stays closed; the retried job queues what is still PENDING.
		return nil, fmt.Errorf("%w: %d of %d payouts for run %s", settlementdomain.ErrPayoutEnqueue, enqueueFailures, len(planned), run.ID)
	}

	log.Info("settlement run closed",
		zap.String("status", string(result.Status)),
		zap.String("ngr", calc.Totals.NGR.String()),
		zap.String("total_investor_payout", calc.Totals.TotalInvestorPayout.String()),
		zap.Int("payouts", len(result.PayoutIDs)),
		zap.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (s *Service) enqueuePayout(ctx context.Context, log *zap.Logger, id snowflake.ID) error {
	jobID, err := s.enqueuer.Enqueue(ctx, payoutdomain.QueueName, payoutdomain.JobTypeSubmit, payoutdomain.Job{PayoutInstructionID: id})
	if err != nil {
		log.Error("failed to enqueue payout", zap.String("payout_id", id.String()), zap.Error(err))
		return err
	}
	log.Debug("payout enqueued", zap.String("payout_id", id.String()), zap.String("job_id", jobID))
	return nil
}

// requeuePending queues every PENDING instruction of a closed run. Submit
// skips instructions that already reached the provider, so a spare job is
// harmless.
func (s *Service) requeuePending(ctx context.Context, log *zap.Logger, runID snowflake.ID) (int, error) {
	items, err := s.payouts.ListByRun(ctx, s.db, runID)
	if err != nil {
		return 0, err
	}
	var requeued, failures int
	for _, item := range items {
		if item.Status != payoutdomain.StatusPending {
			continue
		}
		if err := s.enqueuePayout(ctx, log, item.ID); err != nil {
			failures++
			continue
		}
		requeued++
	}
	if failures > 0 {
		return requeued, fmt.Errorf("%w: %d payouts for run %s", settlementdomain.ErrPayoutEnqueue, failures, runID)
	}
	if requeued > 0 {
		log.Info("pending payouts queued again", zap.Int("count", requeued))
	}
	return requeued, nil
}

// createPayout inserts the PENDING instruction unless one already exists for
// the same idempotency key.
func (s *Service) createPayout(ctx context.Context, tx *gorm.DB, runID snowflake.ID, investor settlementdomain.Investor, inv settlementdomain.InvestorResult, now time.Time) (*payoutdomain.PayoutInstruction, bool, error) {
	currency := strings.ToUpper(strings.TrimSpace(investor.Currency))
	if currency == "" {
		currency = strings.ToUpper(s.cfg.Currency)
	}
	key := signing.IdempotencyKey(runID.String(), investor.ID.String(), inv.NetAmount.String(), currency)

	existing, err := s.payouts.FindByIdempotencyKey(ctx, tx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	p := &payoutdomain.PayoutInstruction{
		ID:             s.genID.Generate(),
		RunID:          runID,
		InvestorID:     investor.ID,
		Provider:       s.registry.Active().Name(),
		Amount:         inv.NetAmount,
		Currency:       currency,
		Fee:            inv.PayoutFee,
		FXRate:         decimal.NewFromInt(1),
		Status:         payoutdomain.StatusPending,
		IdempotencyKey: key,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.payouts.Insert(ctx, tx, p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// snapshotFor returns the newest snapshot of the period or records one built
// from configured defaults.
func (s *Service) snapshotFor(ctx context.Context, start, end time.Time) (*settlementdomain.RevenueSnapshot, error) {
	snapshot, err := s.repo.FindLatestSnapshot(ctx, s.db, start, end)
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		return snapshot, nil
	}

	snapshot = &settlementdomain.RevenueSnapshot{
		ID:               s.genID.Generate(),
		PeriodStart:      start,
		PeriodEnd:        end,
		Stake:            s.cfg.DefaultStake,
		FeesPct:          s.cfg.FeesPct,
		BonusesPct:       s.cfg.BonusesPct,
		TaxesPct:         s.cfg.TaxesPct,
		MarketingPct:     s.cfg.MarketingPct,
		PayoutFeesPct:    s.cfg.PayoutFeesPct,
		FXPct:            s.cfg.FXPct,
		MarketMultiplier: s.cfg.MarketMultiplier,
		CreatedAt:        s.clock.Now(ctx),
	}
	totals := compute.ComputeSettlement(*snapshot, nil, s.payoutPct()).Totals
	snapshot.GGR = totals.GGR
	snapshot.NGR = totals.NGR

	if err := s.repo.InsertSnapshot(ctx, s.db, snapshot); err != nil {
		return nil, err
	}
	s.log.Info("revenue snapshot created from defaults",
		zap.String("snapshot_id", snapshot.ID.String()),
		zap.String("stake", snapshot.Stake.String()),
		zap.Int("market_multiplier", snapshot.MarketMultiplier),
	)
	return snapshot, nil
}

func (s *Service) payoutPct() decimal.Decimal {
	if s.cfg.PayoutPct.IsPositive() {
		return s.cfg.PayoutPct
	}
	return compute.DefaultPayoutPct
}

func (s *Service) refreshPending(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.repo.CountRunsByStatus(ctx, s.db, settlementdomain.RunStatusFinalized)
	if err != nil {
		s.log.Warn("failed to count pending settlements", zap.Error(err))
		return
	}
	s.metrics.SetPendingSettlements(n)
}

func (s *Service) GetRun(ctx context.Context, id snowflake.ID) (*settlementdomain.RunDetail, error) {
	run, err := s.repo.FindRunByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, settlementdomain.ErrRunNotFound
	}

	detail := &settlementdomain.RunDetail{Run: *run}
	if err := json.Unmarshal(run.TotalsJSON, &detail.Totals); err != nil {
		return nil, fmt.Errorf("decode run totals: %w", err)
	}
	if len(run.InvestorsJSON) > 0 {
		if err := json.Unmarshal(run.InvestorsJSON, &detail.Investors); err != nil {
			return nil, fmt.Errorf("decode run investors: %w", err)
		}
	}

	if detail.Snapshot, err = s.repo.FindSnapshotByID(ctx, s.db, run.SnapshotID); err != nil {
		return nil, err
	}
	if detail.LedgerCount, err = s.ledger.CountByRun(ctx, run.ID); err != nil {
		return nil, err
	}
	if detail.Payouts, err = s.payouts.ListByRun(ctx, s.db, run.ID); err != nil {
		return nil, err
	}
	if detail.Payouts == nil {
		detail.Payouts = []payoutdomain.PayoutInstruction{}
	}
	return detail, nil
}

func (s *Service) ListRuns(ctx context.Context, req settlementdomain.ListRunsRequest) (*settlementdomain.ListRunsResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.repo.ListRuns(ctx, s.db, settlementdomain.ListRunsFilter{
		Status: req.Status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}

	out := make([]settlementdomain.RunSummary, 0, len(runs))
	for _, run := range runs {
		payouts, err := s.payouts.ListByRun(ctx, s.db, run.ID)
		if err != nil {
			return nil, err
		}
		ledgerCount, err := s.ledger.CountByRun(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, settlementdomain.RunSummary{
			SettlementRun: run,
			PayoutCount:   len(payouts),
			LedgerCount:   ledgerCount,
		})
	}

	return &settlementdomain.ListRunsResponse{
		Runs:   out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}
