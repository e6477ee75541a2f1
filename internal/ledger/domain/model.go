package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Account string
type Side string

const (
	AccountNGR      Account = "NGR"
	AccountCompany  Account = "COMPANY"
	AccountTax      Account = "TAX"
	AccountMKT      Account = "MKT"
	AccountFees     Account = "FEES"
	AccountInvestor Account = "INVESTOR"

	SideDebit  Side = "DEBIT"
	SideCredit Side = "CREDIT"
)

const (
	RefNGRRevenue       = "NGR Revenue"
	RefTaxReserve       = "Tax Reserve"
	RefMarketingReserve = "Marketing Reserve"
	RefPayoutFees       = "Payout Provider Fees"
	RefFXFees           = "FX Conversion Fees"
)

// InvestorPayoutRef labels the COMPANY→INVESTOR posting of one investor.
func InvestorPayoutRef(investorID snowflake.ID) string {
	return "Investor Payout - " + investorID.String()
}

func (a Account) Valid() bool {
	switch a {
	case AccountNGR, AccountCompany, AccountTax, AccountMKT, AccountFees, AccountInvestor:
		return true
	}
	return false
}

// Entry is one leg of a posting. Both legs of a pair share PairID, amount,
// currency, run, ref and timestamp. Entries are never updated.
type Entry struct {
	ID         snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PairID     snowflake.ID    `json:"pair_id" gorm:"not null;index"`
	RunID      snowflake.ID    `json:"run_id" gorm:"not null;index"`
	Account    Account         `json:"account" gorm:"type:varchar(20);not null;index:idx_ledger_account"`
	Side       Side            `json:"side" gorm:"type:varchar(10);not null"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:numeric(24,8);not null"`
	Currency   string          `json:"currency" gorm:"type:varchar(3);not null"`
	InvestorID *snowflake.ID   `json:"investor_id,omitempty" gorm:"index:idx_ledger_account"`
	Ref        string          `json:"ref" gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time       `json:"created_at" gorm:"not null"`
}

func (Entry) TableName() string { return "ledger_entries" }

type PostRequest struct {
	Debit      Account
	Credit     Account
	Amount     decimal.Decimal
	RunID      snowflake.ID
	Ref        string
	Currency   string
	InvestorID *snowflake.ID
}

// SettlementPosting carries the aggregate components of a run. Zero
// components are skipped when posting.
type SettlementPosting struct {
	RunID      snowflake.ID
	Currency   string
	NGR        decimal.Decimal
	Taxes      decimal.Decimal
	Marketing  decimal.Decimal
	PayoutFees decimal.Decimal
	FXFees     decimal.Decimal
}

type Summary struct {
	RunID        *snowflake.ID   `json:"run_id,omitempty"`
	Entries      int64           `json:"entries"`
	TotalDebits  decimal.Decimal `json:"total_debits"`
	TotalCredits decimal.Decimal `json:"total_credits"`
	// Difference is debits minus credits.
	Difference decimal.Decimal `json:"difference"`
	Balanced   bool            `json:"balanced"`
}
