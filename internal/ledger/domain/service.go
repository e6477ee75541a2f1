package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service interface {
	PostDoubleEntry(ctx context.Context, req PostRequest) ([]Entry, error)
	PostSettlementLedgers(ctx context.Context, posting SettlementPosting) (int, error)
	PostInvestorPayoutLedger(ctx context.Context, runID, investorID snowflake.ID, amount decimal.Decimal, currency string) error
	GetLedgerBalance(ctx context.Context, account Account, investorID *snowflake.ID) (decimal.Decimal, error)
	VerifyLedgerBalance(ctx context.Context, runID *snowflake.ID) (bool, error)
	Summarize(ctx context.Context, runID *snowflake.ID) (*Summary, error)
	CountByRun(ctx context.Context, runID snowflake.ID) (int64, error)
	// WithTx binds postings to an outer transaction.
	WithTx(tx *gorm.DB) Service
}
