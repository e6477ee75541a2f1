package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/revshare/internal/clock"
	"github.com/railzwaylabs/revshare/internal/config"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	ledgerrepository "github.com/railzwaylabs/revshare/internal/ledger/repository"
	ledgerservice "github.com/railzwaylabs/revshare/internal/ledger/service"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	payoutrepository "github.com/railzwaylabs/revshare/internal/payout/repository"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement/simulation"
	"github.com/railzwaylabs/revshare/internal/security/signing"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	settlementrepository "github.com/railzwaylabs/revshare/internal/settlement/repository"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type enqueued struct {
	queue   string
	jobType string
	payload any
}

type recordingEnqueuer struct {
	items []enqueued
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, queue, jobType string, payload any) (string, error) {
	e.items = append(e.items, enqueued{queue: queue, jobType: jobType, payload: payload})
	return fmt.Sprintf("job-%d", len(e.items)), nil
}

var (
	periodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db       *gorm.DB
	svc      *Service
	node     *snowflake.Node
	enqueuer *recordingEnqueuer
	locker   *redislock.Client
	ledger   ledgerdomain.Service
}

func settlementConfig() config.SettlementConfig {
	return config.SettlementConfig{
		Currency:         "EUR",
		PayoutPct:        decimal.NewFromInt(70),
		DefaultStake:     decimal.NewFromInt(1_000_000),
		FeesPct:          decimal.NewFromInt(5),
		BonusesPct:       decimal.NewFromInt(10),
		TaxesPct:         decimal.NewFromInt(20),
		MarketingPct:     decimal.NewFromInt(20),
		PayoutFeesPct:    decimal.RequireFromString("1.2"),
		FXPct:            decimal.Zero,
		MarketMultiplier: 30,
		LockTTL:          time.Minute,
	}
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&settlementdomain.RevenueSnapshot{},
		&settlementdomain.Investor{},
		&settlementdomain.InvestorAgreement{},
		&settlementdomain.SettlementRun{},
		&payoutdomain.PayoutInstruction{},
		&ledgerdomain.Entry{},
	))

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := redislock.New(rdb)

	node, _ := snowflake.NewNode(1)
	clk := clock.NewFixed(periodEnd.Add(5 * time.Minute))
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: ledgerrepository.Provide(),
	})
	enqueuer := &recordingEnqueuer{}

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Config:   config.Config{Settlement: settlementConfig()},
		Repo:     settlementrepository.Provide(),
		Payouts:  payoutrepository.Provide(),
		Ledger:   ledger,
		Registry: disbursement.NewStaticRegistry(simulation.New("THUNES", simulation.Options{}, zap.NewNop())),
		Enqueuer: enqueuer,
		Locker:   locker,
	}).(*Service)

	return &fixture{db: db, svc: svc, node: node, enqueuer: enqueuer, locker: locker, ledger: ledger}
}

type investorOpts struct {
	share     string
	threshold string
	frequency settlementdomain.PayoutFrequency
	kyc       settlementdomain.KYCStatus
}

func (f *fixture) addInvestor(t *testing.T, code string, o investorOpts) settlementdomain.Investor {
	t.Helper()
	if o.frequency == "" {
		o.frequency = settlementdomain.FrequencyDaily
	}
	if o.kyc == "" {
		o.kyc = settlementdomain.KYCVerified
	}
	if o.threshold == "" {
		o.threshold = "100"
	}
	now := periodStart
	investor := settlementdomain.Investor{
		ID: f.node.Generate(), Code: code, Name: code, PhoneOrIBAN: "+243810000001",
		WalletType: settlementdomain.WalletMobileMoney, Country: "CD", Currency: "EUR",
		KYCStatus: o.kyc, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&investor).Error)
	agreement := settlementdomain.InvestorAgreement{
		ID: f.node.Generate(), InvestorID: investor.ID,
		SharePercent:       decimal.RequireFromString(o.share),
		Basis:              settlementdomain.BasisNGRNet,
		MinPayoutThreshold: decimal.RequireFromString(o.threshold),
		PayoutFrequency:    o.frequency,
		Active:             true,
		CreatedAt:          now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&agreement).Error)
	return investor
}

func closeJob(dryRun bool) settlementdomain.Job {
	return settlementdomain.Job{PeriodStart: periodStart, PeriodEnd: periodEnd, DryRun: dryRun}
}

func TestCloseDayPaysEligibleInvestor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	investor := f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	result, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	assert.Equal(t, settlementdomain.RunStatusPaid, result.Status)
	assert.False(t, result.AlreadyClosed)
	assert.True(t, result.Totals.NGRNet.Equal(decimal.NewFromInt(4_590_000)))
	require.Len(t, result.PayoutIDs, 1)
	assert.Empty(t, result.Skipped)

	var p payoutdomain.PayoutInstruction
	require.NoError(t, f.db.First(&p, "id = ?", result.PayoutIDs[0]).Error)
	assert.Equal(t, payoutdomain.StatusPending, p.Status)
	assert.Equal(t, investor.ID, p.InvestorID)
	assert.Equal(t, "THUNES", p.Provider)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1_133_730)))
	assert.Equal(t, signing.IdempotencyKey(result.RunID.String(), investor.ID.String(), "1133730", "EUR"), p.IdempotencyKey)

	var snapshot settlementdomain.RevenueSnapshot
	require.NoError(t, f.db.First(&snapshot).Error)
	assert.True(t, snapshot.GGR.Equal(decimal.NewFromInt(9_000_000)))
	assert.True(t, snapshot.NGR.Equal(decimal.NewFromInt(7_650_000)))

	// NGR, tax, marketing, payout fees and the investor payout.
	count, err := f.ledger.CountByRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, count)
	balanced, err := f.ledger.VerifyLedgerBalance(ctx, &result.RunID)
	require.NoError(t, err)
	assert.True(t, balanced)

	require.Len(t, f.enqueuer.items, 1)
	assert.Equal(t, payoutdomain.QueueName, f.enqueuer.items[0].queue)
	assert.Equal(t, payoutdomain.Job{PayoutInstructionID: p.ID}, f.enqueuer.items[0].payload)
}

func TestCloseDayIsIdempotentPerPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	first, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)

	second, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	assert.True(t, second.AlreadyClosed)
	assert.Equal(t, first.RunID, second.RunID)

	var runs, payouts int64
	require.NoError(t, f.db.Model(&settlementdomain.SettlementRun{}).Count(&runs).Error)
	require.NoError(t, f.db.Model(&payoutdomain.PayoutInstruction{}).Count(&payouts).Error)
	assert.EqualValues(t, 1, runs)
	assert.EqualValues(t, 1, payouts)

	// The payout was never picked up, so it is queued again with the same job.
	assert.Equal(t, 1, second.Requeued)
	require.Len(t, f.enqueuer.items, 2)
	assert.Equal(t, f.enqueuer.items[0].payload, f.enqueuer.items[1].payload)

	// Once submitted it is left to the provider.
	require.NoError(t, f.db.Model(&payoutdomain.PayoutInstruction{}).Where("id = ?", first.PayoutIDs[0]).
		Update("status", payoutdomain.StatusSubmitted).Error)
	third, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	assert.Zero(t, third.Requeued)
	assert.Len(t, f.enqueuer.items, 2)
}

// failingEnqueuer rejects the first failures calls, as a Redis outage would.
type failingEnqueuer struct {
	recordingEnqueuer
	failures int
}

func (e *failingEnqueuer) Enqueue(ctx context.Context, queue, jobType string, payload any) (string, error) {
	if e.failures > 0 {
		e.failures--
		return "", errors.New("redis: connection refused")
	}
	return e.recordingEnqueuer.Enqueue(ctx, queue, jobType, payload)
}

func TestCloseDayEnqueueFailureIsRetriedWithoutLosingPayouts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})
	enqueuer := &failingEnqueuer{failures: 1}
	f.svc.enqueuer = enqueuer

	_, err := f.svc.CloseDay(ctx, closeJob(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, settlementdomain.ErrPayoutEnqueue)
	assert.Empty(t, enqueuer.items)

	// The run committed and closes the period.
	var run settlementdomain.SettlementRun
	require.NoError(t, f.db.First(&run).Error)
	assert.Equal(t, settlementdomain.RunStatusPaid, run.Status)

	retried, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	assert.True(t, retried.AlreadyClosed)
	assert.Equal(t, run.ID, retried.RunID)
	assert.Equal(t, 1, retried.Requeued)

	require.Len(t, enqueuer.items, 1)
	job, ok := enqueuer.items[0].payload.(payoutdomain.Job)
	require.True(t, ok)
	var p payoutdomain.PayoutInstruction
	require.NoError(t, f.db.First(&p).Error)
	assert.Equal(t, p.ID, job.PayoutInstructionID)
	assert.Equal(t, payoutdomain.StatusPending, p.Status)

	// Ledger legs were posted once.
	count, err := f.ledger.CountByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, count)
}

func TestCloseDayRequeueFailureIsReported(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	_, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)

	f.svc.enqueuer = &failingEnqueuer{failures: 1}
	_, err = f.svc.CloseDay(ctx, closeJob(false))
	assert.ErrorIs(t, err, settlementdomain.ErrPayoutEnqueue)
}

func TestCloseDayDryRunLeavesNoSideEffects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	result, err := f.svc.CloseDay(ctx, closeJob(true))
	require.NoError(t, err)
	assert.Equal(t, settlementdomain.RunStatusDraft, result.Status)
	assert.Len(t, result.PayoutIDs, 1)
	assert.Empty(t, f.enqueuer.items)

	var entries int64
	require.NoError(t, f.db.Model(&ledgerdomain.Entry{}).Count(&entries).Error)
	assert.Zero(t, entries)

	// A draft does not close the period.
	live, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	assert.False(t, live.AlreadyClosed)
	assert.Equal(t, settlementdomain.RunStatusPaid, live.Status)
}

func TestCloseDaySkipsIneligibleInvestors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	pending := f.addInvestor(t, "inv-kyc", investorOpts{share: "10", kyc: settlementdomain.KYCPending})
	tiny := f.addInvestor(t, "inv-tiny", investorOpts{share: "0.001"})
	weekly := f.addInvestor(t, "inv-weekly", investorOpts{share: "5", frequency: settlementdomain.FrequencyWeekly})
	paid := f.addInvestor(t, "inv-paid", investorOpts{share: "15"})

	lastPaid := payoutdomain.PayoutInstruction{
		ID: f.node.Generate(), RunID: 1, InvestorID: weekly.ID, Provider: "THUNES",
		Amount: decimal.NewFromInt(10), Currency: "EUR", Fee: decimal.Zero, FXRate: decimal.NewFromInt(1),
		Status: payoutdomain.StatusSettled, IdempotencyKey: "previous",
		CreatedAt: periodEnd.AddDate(0, 0, -6), UpdatedAt: periodEnd.AddDate(0, 0, -6),
	}
	require.NoError(t, f.db.Create(&lastPaid).Error)

	result, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	require.Len(t, result.PayoutIDs, 1)

	reasons := map[snowflake.ID]string{}
	for _, s := range result.Skipped {
		reasons[s.InvestorID] = s.Reason
	}
	assert.Equal(t, reasonKYC, reasons[pending.ID])
	assert.Contains(t, reasons[tiny.ID], "Below threshold")
	assert.Contains(t, reasons[weekly.ID], reasonFrequency)
	assert.NotContains(t, reasons, paid.ID)

	var p payoutdomain.PayoutInstruction
	require.NoError(t, f.db.First(&p, "id = ?", result.PayoutIDs[0]).Error)
	assert.Equal(t, paid.ID, p.InvestorID)
}

func TestCloseDayWithoutAgreements(t *testing.T) {
	f := setup(t)
	_, err := f.svc.CloseDay(context.Background(), closeJob(false))
	assert.ErrorIs(t, err, settlementdomain.ErrNoActiveAgreement)
}

func TestCloseDayRejectsInvalidPeriod(t *testing.T) {
	f := setup(t)
	_, err := f.svc.CloseDay(context.Background(), settlementdomain.Job{PeriodStart: periodEnd, PeriodEnd: periodStart})
	assert.ErrorIs(t, err, settlementdomain.ErrInvalidPeriod)
}

func TestCloseDayHonoursLock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	key := fmt.Sprintf("lock:settlement:%s:%s", periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339))
	lock, err := f.locker.Obtain(ctx, key, time.Minute, nil)
	require.NoError(t, err)

	_, err = f.svc.CloseDay(ctx, closeJob(false))
	assert.ErrorIs(t, err, settlementdomain.ErrSettlementLocked)

	require.NoError(t, lock.Release(ctx))
	_, err = f.svc.CloseDay(ctx, closeJob(false))
	assert.NoError(t, err)
}

func TestRequestCloseDayDefaultsToPreviousDay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	resp, err := f.svc.RequestCloseDay(ctx, settlementdomain.CloseDayRequest{})
	require.NoError(t, err)
	assert.Equal(t, periodStart, resp.PeriodStart)
	assert.Equal(t, periodEnd, resp.PeriodEnd)
	assert.Equal(t, "job-1", resp.JobID)

	require.Len(t, f.enqueuer.items, 1)
	assert.Equal(t, settlementdomain.QueueName, f.enqueuer.items[0].queue)
	assert.Equal(t, settlementdomain.JobTypeCloseDay, f.enqueuer.items[0].jobType)
}

func TestRequestCloseDayRejectsClosedPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	closed, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)
	queued := len(f.enqueuer.items)

	start := periodStart
	resp, err := f.svc.RequestCloseDay(ctx, settlementdomain.CloseDayRequest{PeriodStart: &start})
	assert.ErrorIs(t, err, settlementdomain.ErrRunAlreadyExists)
	require.NotNil(t, resp.ExistingRunID)
	assert.Equal(t, closed.RunID, *resp.ExistingRunID)
	assert.Len(t, f.enqueuer.items, queued)
}

func TestGetRunAndListRuns(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.addInvestor(t, "inv-a", investorOpts{share: "25"})

	result, err := f.svc.CloseDay(ctx, closeJob(false))
	require.NoError(t, err)

	detail, err := f.svc.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, settlementdomain.RunStatusPaid, detail.Run.Status)
	assert.True(t, detail.Totals.NGR.Equal(decimal.NewFromInt(7_650_000)))
	require.Len(t, detail.Investors, 1)
	assert.True(t, detail.Investors[0].Eligible)
	require.NotNil(t, detail.Snapshot)
	assert.EqualValues(t, 10, detail.LedgerCount)
	assert.Len(t, detail.Payouts, 1)

	_, err = f.svc.GetRun(ctx, 42)
	assert.ErrorIs(t, err, settlementdomain.ErrRunNotFound)

	list, err := f.svc.ListRuns(ctx, settlementdomain.ListRunsRequest{Status: settlementdomain.RunStatusPaid})
	require.NoError(t, err)
	assert.EqualValues(t, 1, list.Total)
	assert.Equal(t, defaultListLimit, list.Limit)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, 1, list.Runs[0].PayoutCount)
	assert.EqualValues(t, 10, list.Runs[0].LedgerCount)
}
