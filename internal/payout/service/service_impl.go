package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/revshare/internal/clock"
	"github.com/railzwaylabs/revshare/internal/jobs"
	"github.com/railzwaylabs/revshare/internal/metrics"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var tracer = otel.Tracer("revshare/payout")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     payoutdomain.Repository
	Runs     settlementdomain.Repository
	Registry *disbursement.Registry
	Enqueuer jobs.Enqueuer
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     payoutdomain.Repository
	runs     settlementdomain.Repository
	registry *disbursement.Registry
	enqueuer jobs.Enqueuer
	metrics  *metrics.Metrics
}

func NewService(p Params) payoutdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payout.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		runs:     p.Runs,
		registry: p.Registry,
		enqueuer: p.Enqueuer,
		metrics:  p.Metrics,
	}
}

// Submit hands the instruction to the provider recorded on it. Errors are
// returned unchanged in kind so the job layer decides whether to retry.
func (s *Service) Submit(ctx context.Context, job payoutdomain.Job) error {
	p, err := s.repo.FindByID(ctx, s.db, job.PayoutInstructionID)
	if err != nil {
		return err
	}
	if p == nil {
		return jobs.Permanent(fmt.Errorf("%w: %s", payoutdomain.ErrNotFound, job.PayoutInstructionID))
	}

	log := s.log.With(
		zap.String("payout_id", p.ID.String()),
		zap.String("run_id", p.RunID.String()),
		zap.Int("retry_attempt", job.RetryAttempt),
	)

	switch {
	case p.Status == payoutdomain.StatusSettled:
		log.Info("payout already settled, skipping submission")
		return nil
	case p.Status == payoutdomain.StatusSubmitted && p.HasExternalID():
		log.Info("payout already submitted, awaiting confirmation", zap.String("external_id", *p.ExternalID))
		return nil
	}

	investor, err := s.runs.FindInvestorByID(ctx, s.db, p.InvestorID)
	if err != nil {
		return err
	}
	if investor == nil {
		return jobs.Permanent(fmt.Errorf("%w: %s", settlementdomain.ErrInvestorNotFound, p.InvestorID))
	}

	provider, err := s.registry.Lookup(p.Provider)
	if err != nil {
		log.Error("payout provider unavailable in this process", zap.String("provider", p.Provider), zap.Error(err))
		return jobs.Permanent(fmt.Errorf("submit payout %s: %w", p.ID, err))
	}

	ctx, span := tracer.Start(ctx, "payout.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("payout.id", p.ID.String()),
		attribute.String("payout.provider", provider.Name()),
		attribute.String("payout.amount", p.Amount.String()),
	)

	result, err := provider.SubmitPayout(ctx, disbursementdomain.SubmitRequest{
		IdempotencyKey: p.IdempotencyKey,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Beneficiary: disbursementdomain.Beneficiary{
			Name:        investor.Name,
			PhoneOrIBAN: investor.PhoneOrIBAN,
			WalletType:  string(investor.WalletType),
			Country:     investor.Country,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if recErr := s.repo.RecordFailure(ctx, s.db, p.ID, err.Error(), s.clock.Now(ctx)); recErr != nil {
			log.Error("failed to record submission failure", zap.Error(recErr))
		}
		s.metrics.PayoutProcessed("ERROR", provider.Name())
		log.Warn("payout submission failed",
			zap.String("provider", provider.Name()),
			zap.String("beneficiary", signing.MaskSensitive(investor.PhoneOrIBAN)),
			zap.Error(err),
		)
		return fmt.Errorf("submit payout %s: %w", p.ID, err)
	}

	fxRate := decimal.NewFromInt(1)
	if result.FXRate != nil {
		fxRate = *result.FXRate
	}
	if err := s.repo.MarkSubmitted(ctx, s.db, p.ID, result.ExternalID, result.Fee, fxRate, s.clock.Now(ctx)); err != nil {
		if errors.Is(err, payoutdomain.ErrInvalidTransition) {
			// Settled concurrently by a webhook.
			log.Info("payout changed state during submission", zap.String("external_id", result.ExternalID))
			return nil
		}
		return err
	}

	if observer, ok := provider.(disbursementdomain.SubmissionObserver); ok {
		observer.Submitted(result.ExternalID)
	}

	s.metrics.PayoutProcessed(string(payoutdomain.StatusSubmitted), provider.Name())
	log.Info("payout submitted",
		zap.String("provider", provider.Name()),
		zap.String("external_id", result.ExternalID),
		zap.String("amount", p.Amount.String()),
		zap.String("fee", result.Fee.String()),
	)
	return nil
}

// ApplyEvent reconciles a provider confirmation. Repeating an outcome is a
// no-op and a late FAILED never overwrites SETTLED.
func (s *Service) ApplyEvent(ctx context.Context, provider string, event disbursementdomain.WebhookEvent) (*payoutdomain.PayoutInstruction, error) {
	status := payoutdomain.Status(event.Status)
	if status != payoutdomain.StatusSettled && status != payoutdomain.StatusFailed {
		return nil, payoutdomain.ErrInvalidStatus
	}

	p, err := s.repo.FindByExternalID(ctx, s.db, event.ExternalID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		s.log.Warn("confirmation for unknown disbursement",
			zap.String("provider", provider),
			zap.String("external_id", event.ExternalID),
		)
		return nil, payoutdomain.ErrNotFound
	}

	log := s.log.With(
		zap.String("payout_id", p.ID.String()),
		zap.String("external_id", event.ExternalID),
		zap.String("status", string(status)),
	)

	if p.Status == status {
		log.Debug("duplicate confirmation ignored")
		return p, nil
	}
	if p.Status == payoutdomain.StatusSettled {
		log.Warn("late failure for settled payout ignored")
		return p, nil
	}
	if status == payoutdomain.StatusFailed && p.Status == payoutdomain.StatusPending {
		// A manual retry already reset this disbursement.
		log.Info("failure for payout queued for retry ignored")
		return p, nil
	}

	var message *string
	if event.ProviderMessage != "" {
		message = &event.ProviderMessage
	}
	now := s.clock.Now(ctx)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := s.runs.LockRunByID(ctx, tx, p.RunID)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, p.ID, status, message, now); err != nil {
			return err
		}
		return s.reconcileRun(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}

	p.Status = status
	p.ProviderMessage = message
	p.UpdatedAt = now

	s.metrics.PayoutProcessed(string(status), strings.ToUpper(provider))
	log.Info("payout reconciled", zap.String("provider", provider))
	return p, nil
}

// reconcileRun derives the run status from all of its instructions. Only
// runs that already paid out are touched. The caller holds the run lock.
func (s *Service) reconcileRun(ctx context.Context, tx *gorm.DB, run *settlementdomain.SettlementRun) error {
	if run == nil {
		return nil
	}
	runID := run.ID
	if run.Status != settlementdomain.RunStatusPaid && run.Status != settlementdomain.RunStatusPartial {
		return nil
	}

	items, err := s.repo.ListByRun(ctx, tx, runID)
	if err != nil {
		return err
	}

	allTerminal, anyFailed := true, false
	for _, item := range items {
		if !item.Status.Terminal() {
			allTerminal = false
		}
		if item.Status == payoutdomain.StatusFailed {
			anyFailed = true
		}
	}

	next := settlementdomain.RunStatusPaid
	if allTerminal && anyFailed {
		next = settlementdomain.RunStatusPartial
	}
	if next == run.Status {
		return nil
	}

	s.log.Info("settlement run status derived",
		zap.String("run_id", runID.String()),
		zap.String("from", string(run.Status)),
		zap.String("to", string(next)),
	)
	return s.runs.UpdateRunStatus(ctx, tx, runID, next, s.clock.Now(ctx))
}

// Retry re-enqueues an unsettled instruction. FAILED goes back to PENDING.
// The idempotency key never changes.
func (s *Service) Retry(ctx context.Context, id snowflake.ID) (*payoutdomain.RetryResponse, error) {
	p, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, payoutdomain.ErrNotFound
	}
	if p.Status == payoutdomain.StatusSettled {
		return nil, payoutdomain.ErrAlreadySettled
	}

	status := p.Status
	if status == payoutdomain.StatusFailed {
		status = payoutdomain.StatusPending
	}

	attempt, err := s.repo.ResetForRetry(ctx, s.db, id, status, s.clock.Now(ctx))
	if err != nil {
		return nil, err
	}

	jobID, err := s.enqueuer.Enqueue(ctx, payoutdomain.QueueName, payoutdomain.JobTypeSubmit, payoutdomain.Job{
		PayoutInstructionID: id,
		RetryAttempt:        attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue payout retry: %w", err)
	}

	s.log.Info("payout retry enqueued",
		zap.String("payout_id", id.String()),
		zap.String("job_id", jobID),
		zap.Int("retry_attempt", attempt),
	)
	return &payoutdomain.RetryResponse{
		PayoutID:     id,
		JobID:        jobID,
		RetryAttempt: attempt,
		Status:       string(status),
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*payoutdomain.PayoutInstruction, error) {
	p, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, payoutdomain.ErrNotFound
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, filter payoutdomain.ListFilter) (*payoutdomain.ListResponse, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, payoutdomain.ErrInvalidStatus
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Provider = strings.ToUpper(strings.TrimSpace(filter.Provider))

	items, total, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []payoutdomain.PayoutInstruction{}
	}
	return &payoutdomain.ListResponse{
		Payouts: items,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// ProviderStats aggregates instruction counts and amounts per status.
func (s *Service) ProviderStats(ctx context.Context, provider string) (*payoutdomain.ProviderStats, error) {
	name := strings.ToUpper(strings.TrimSpace(provider))
	if name == "" {
		name = s.registry.Active().Name()
	}
	active, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.ListAmountsByProvider(ctx, s.db, name)
	if err != nil {
		return nil, err
	}

	order := []payoutdomain.Status{
		payoutdomain.StatusPending,
		payoutdomain.StatusSubmitted,
		payoutdomain.StatusSettled,
		payoutdomain.StatusFailed,
	}
	byStatus := make(map[payoutdomain.Status]*payoutdomain.StatusStat, len(order))
	stats := make([]payoutdomain.StatusStat, len(order))
	for i, st := range order {
		stats[i] = payoutdomain.StatusStat{Status: st, TotalAmount: decimal.Zero}
		byStatus[st] = &stats[i]
	}
	for _, item := range items {
		stat, ok := byStatus[item.Status]
		if !ok {
			continue
		}
		stat.Count++
		stat.TotalAmount = stat.TotalAmount.Add(item.Amount)
	}

	return &payoutdomain.ProviderStats{
		Provider:   name,
		Kind:       string(active.Kind()),
		Statistics: stats,
	}, nil
}
