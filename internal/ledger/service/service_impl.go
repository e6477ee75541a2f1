package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/revshare/internal/clock"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	"github.com/railzwaylabs/revshare/internal/money"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) WithTx(tx *gorm.DB) ledgerdomain.Service {
	clone := *s
	clone.db = tx
	return &clone
}

// PostDoubleEntry appends one DEBIT and one CREDIT leg atomically.
func (s *Service) PostDoubleEntry(ctx context.Context, req ledgerdomain.PostRequest) ([]ledgerdomain.Entry, error) {
	if !money.IsPositive(req.Amount) {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	if !req.Debit.Valid() || !req.Credit.Valid() {
		return nil, ledgerdomain.ErrInvalidAccount
	}

	now := s.clock.Now(ctx)
	pairID := s.genID.Generate()
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))

	leg := func(account ledgerdomain.Account, side ledgerdomain.Side) ledgerdomain.Entry {
		return ledgerdomain.Entry{
			ID:         s.genID.Generate(),
			PairID:     pairID,
			RunID:      req.RunID,
			Account:    account,
			Side:       side,
			Amount:     req.Amount,
			Currency:   currency,
			InvestorID: req.InvestorID,
			Ref:        req.Ref,
			CreatedAt:  now,
		}
	}
	entries := []ledgerdomain.Entry{
		leg(req.Debit, ledgerdomain.SideDebit),
		leg(req.Credit, ledgerdomain.SideCredit),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.InsertEntries(ctx, tx, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("post double entry: %w", err)
	}

	s.log.Debug("ledger pair posted",
		zap.String("run_id", req.RunID.String()),
		zap.String("debit", string(req.Debit)),
		zap.String("credit", string(req.Credit)),
		zap.String("amount", req.Amount.String()),
		zap.String("ref", req.Ref),
	)
	return entries, nil
}

// PostSettlementLedgers posts the strictly positive aggregate components of
// a run in a fixed order and returns the number of pairs written.
func (s *Service) PostSettlementLedgers(ctx context.Context, posting ledgerdomain.SettlementPosting) (int, error) {
	components := []struct {
		debit  ledgerdomain.Account
		credit ledgerdomain.Account
		amount decimal.Decimal
		ref    string
	}{
		{ledgerdomain.AccountNGR, ledgerdomain.AccountCompany, posting.NGR, ledgerdomain.RefNGRRevenue},
		{ledgerdomain.AccountCompany, ledgerdomain.AccountTax, posting.Taxes, ledgerdomain.RefTaxReserve},
		{ledgerdomain.AccountCompany, ledgerdomain.AccountMKT, posting.Marketing, ledgerdomain.RefMarketingReserve},
		{ledgerdomain.AccountCompany, ledgerdomain.AccountFees, posting.PayoutFees, ledgerdomain.RefPayoutFees},
		{ledgerdomain.AccountCompany, ledgerdomain.AccountFees, posting.FXFees, ledgerdomain.RefFXFees},
	}

	posted := 0
	for _, c := range components {
		if !money.IsPositive(c.amount) {
			continue
		}
		if _, err := s.PostDoubleEntry(ctx, ledgerdomain.PostRequest{
			Debit:    c.debit,
			Credit:   c.credit,
			Amount:   c.amount,
			RunID:    posting.RunID,
			Ref:      c.ref,
			Currency: posting.Currency,
		}); err != nil {
			return posted, err
		}
		posted++
	}

	s.log.Info("settlement ledgers posted",
		zap.String("run_id", posting.RunID.String()),
		zap.Int("pairs", posted),
	)
	return posted, nil
}

func (s *Service) PostInvestorPayoutLedger(ctx context.Context, runID, investorID snowflake.ID, amount decimal.Decimal, currency string) error {
	id := investorID
	_, err := s.PostDoubleEntry(ctx, ledgerdomain.PostRequest{
		Debit:      ledgerdomain.AccountCompany,
		Credit:     ledgerdomain.AccountInvestor,
		Amount:     amount,
		RunID:      runID,
		Ref:        ledgerdomain.InvestorPayoutRef(investorID),
		Currency:   currency,
		InvestorID: &id,
	})
	return err
}

// GetLedgerBalance returns credits minus debits for account.
func (s *Service) GetLedgerBalance(ctx context.Context, account ledgerdomain.Account, investorID *snowflake.ID) (decimal.Decimal, error) {
	if !account.Valid() {
		return decimal.Zero, ledgerdomain.ErrInvalidAccount
	}
	entries, err := s.repo.ListByAccount(ctx, s.db, account, investorID)
	if err != nil {
		return decimal.Zero, err
	}
	debits, credits := totals(entries)
	return credits.Sub(debits), nil
}

func (s *Service) Summarize(ctx context.Context, runID *snowflake.ID) (*ledgerdomain.Summary, error) {
	entries, err := s.repo.ListForVerification(ctx, s.db, runID)
	if err != nil {
		return nil, err
	}
	debits, credits := totals(entries)
	return &ledgerdomain.Summary{
		RunID:        runID,
		Entries:      int64(len(entries)),
		TotalDebits:  debits,
		TotalCredits: credits,
		Difference:   debits.Sub(credits),
		Balanced:     debits.Equal(credits),
	}, nil
}

// VerifyLedgerBalance reports whether debits equal credits. An imbalance is
// logged and never corrected.
func (s *Service) VerifyLedgerBalance(ctx context.Context, runID *snowflake.ID) (bool, error) {
	summary, err := s.Summarize(ctx, runID)
	if err != nil {
		return false, err
	}
	if !summary.Balanced {
		fields := []zap.Field{
			zap.String("total_debits", summary.TotalDebits.String()),
			zap.String("total_credits", summary.TotalCredits.String()),
			zap.String("difference", summary.Difference.String()),
		}
		if runID != nil {
			fields = append(fields, zap.String("run_id", runID.String()))
		}
		s.log.Error("ledger imbalance detected", fields...)
	}
	return summary.Balanced, nil
}

func (s *Service) CountByRun(ctx context.Context, runID snowflake.ID) (int64, error) {
	return s.repo.CountByRun(ctx, s.db, runID)
}

func totals(entries []ledgerdomain.Entry) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch e.Side {
		case ledgerdomain.SideDebit:
			debits = debits.Add(e.Amount)
		case ledgerdomain.SideCredit:
			credits = credits.Add(e.Amount)
		}
	}
	return debits, credits
}
