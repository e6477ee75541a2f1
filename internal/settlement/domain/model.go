package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type CalculationBasis string
type PayoutFrequency string
type RunStatus string
type KYCStatus string
type WalletType string

const (
	BasisNGR    CalculationBasis = "NGR"
	BasisNGRNet CalculationBasis = "NGR_NET"

	FrequencyDaily   PayoutFrequency = "DAILY"
	FrequencyWeekly  PayoutFrequency = "WEEKLY"
	FrequencyMonthly PayoutFrequency = "MONTHLY"

	RunStatusDraft     RunStatus = "DRAFT"
	RunStatusFinalized RunStatus = "FINALIZED"
	RunStatusPaid      RunStatus = "PAID"
	RunStatusPartial   RunStatus = "PARTIAL"

	KYCPending  KYCStatus = "PENDING"
	KYCVerified KYCStatus = "VERIFIED"
	KYCRejected KYCStatus = "REJECTED"

	WalletMobileMoney WalletType = "MOBILE_MONEY"
	WalletBank        WalletType = "BANK"
)

// RevenueSnapshot is the immutable revenue picture of one accounting period.
// The period is the half-open UTC interval [PeriodStart, PeriodEnd).
type RevenueSnapshot struct {
	ID               snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PeriodStart      time.Time        `json:"period_start" gorm:"not null;index:idx_snapshot_period"`
	PeriodEnd        time.Time        `json:"period_end" gorm:"not null;index:idx_snapshot_period"`
	Stake            decimal.Decimal  `json:"stake" gorm:"type:numeric(24,8);not null"`
	GGR              decimal.Decimal  `json:"ggr" gorm:"column:ggr;type:numeric(24,8);not null"`
	NGR              decimal.Decimal  `json:"ngr" gorm:"column:ngr;type:numeric(24,8);not null"`
	FeesPct          decimal.Decimal  `json:"fees_pct" gorm:"type:numeric(9,4);not null"`
	BonusesPct       decimal.Decimal  `json:"bonuses_pct" gorm:"type:numeric(9,4);not null"`
	TaxesPct         decimal.Decimal  `json:"taxes_pct" gorm:"type:numeric(9,4);not null"`
	MarketingPct     decimal.Decimal  `json:"marketing_pct" gorm:"column:marketing_pct;type:numeric(9,4);not null"`
	PayoutFeesPct    decimal.Decimal  `json:"payout_fees_pct" gorm:"type:numeric(9,4);not null"`
	FXPct            decimal.Decimal  `json:"fx_pct" gorm:"column:fx_pct;type:numeric(9,4);not null"`
	MarketMultiplier int              `json:"market_multiplier" gorm:"not null;default:1"`
	FixedOpex        *decimal.Decimal `json:"fixed_opex,omitempty" gorm:"type:numeric(24,8)"`
	CapexAmort       *decimal.Decimal `json:"capex_amort,omitempty" gorm:"type:numeric(24,8)"`
	CreatedAt        time.Time        `json:"created_at" gorm:"not null"`
}

func (RevenueSnapshot) TableName() string { return "revenue_snapshots" }

// Investor is owned by an external onboarding process. Only the KYC flag and
// the disbursement fields are read here.
type Investor struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Code        string       `json:"code" gorm:"type:varchar(64);uniqueIndex"`
	Name        string       `json:"name" gorm:"type:varchar(255);not null"`
	PhoneOrIBAN string       `json:"phone_or_iban" gorm:"column:phone_or_iban;type:varchar(64);not null"`
	WalletType  WalletType   `json:"wallet_type" gorm:"type:varchar(20);not null"`
	Country     string       `json:"country" gorm:"type:varchar(2);not null;default:'CD'"`
	Currency    string       `json:"currency" gorm:"type:varchar(3);not null"`
	KYCStatus   KYCStatus    `json:"kyc_status" gorm:"column:kyc_status;type:varchar(20);not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Investor) TableName() string { return "investors" }

func (i Investor) KYCVerified() bool { return i.KYCStatus == KYCVerified }

type InvestorAgreement struct {
	ID                 snowflake.ID     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	InvestorID         snowflake.ID     `json:"investor_id" gorm:"not null;index"`
	SharePercent       decimal.Decimal  `json:"share_percent" gorm:"type:numeric(9,4);not null"`
	Basis              CalculationBasis `json:"basis" gorm:"type:varchar(10);not null"`
	MinPayoutThreshold decimal.Decimal  `json:"min_payout_threshold" gorm:"type:numeric(24,8);not null"`
	PayoutFrequency    PayoutFrequency  `json:"payout_frequency" gorm:"type:varchar(10);not null"`
	Active             bool             `json:"active" gorm:"not null;default:true"`
	CreatedAt          time.Time        `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time        `json:"updated_at" gorm:"not null"`

	Investor *Investor `json:"investor,omitempty" gorm:"foreignKey:InvestorID"`
}

func (InvestorAgreement) TableName() string { return "investor_agreements" }

type SettlementRun struct {
	ID            snowflake.ID   `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PeriodStart   time.Time      `json:"period_start" gorm:"not null;index:idx_run_period"`
	PeriodEnd     time.Time      `json:"period_end" gorm:"not null;index:idx_run_period"`
	Status        RunStatus      `json:"status" gorm:"type:varchar(20);not null;index"`
	SnapshotID    snowflake.ID   `json:"snapshot_id" gorm:"not null"`
	DryRun        bool           `json:"dry_run" gorm:"not null;default:false"`
	TotalsJSON    datatypes.JSON `json:"totals" gorm:"column:totals_json;not null"`
	InvestorsJSON datatypes.JSON `json:"investors" gorm:"column:investors_json"`
	CreatedAt     time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time      `json:"updated_at" gorm:"not null"`
}

func (SettlementRun) TableName() string { return "settlement_runs" }

// Totals are the aggregate figures of one computation. Amounts serialize as
// decimal strings.
type Totals struct {
	Stake               decimal.Decimal `json:"stake"`
	GGR                 decimal.Decimal `json:"ggr"`
	NGR                 decimal.Decimal `json:"ngr"`
	Bonuses             decimal.Decimal `json:"bonuses"`
	Fees                decimal.Decimal `json:"fees"`
	Taxes               decimal.Decimal `json:"taxes"`
	Marketing           decimal.Decimal `json:"marketing"`
	NGRNet              decimal.Decimal `json:"ngr_net"`
	TotalInvestorPayout decimal.Decimal `json:"total_investor_payout"`
	CompanyTake         decimal.Decimal `json:"company_take"`
	PayoutFees          decimal.Decimal `json:"payout_fees"`
	FXFees              decimal.Decimal `json:"fx_fees"`
}

// InvestorResult is the entitlement of one agreement, eligible or not.
type InvestorResult struct {
	InvestorID      snowflake.ID      `json:"investor_id"`
	AgreementID     snowflake.ID      `json:"agreement_id"`
	Basis           CalculationBasis  `json:"basis"`
	PayoutFrequency PayoutFrequency   `json:"payout_frequency"`
	GrossAmount     decimal.Decimal   `json:"gross_amount"`
	PayoutFee       decimal.Decimal   `json:"payout_fee"`
	FXFee           decimal.Decimal   `json:"fx_fee"`
	NetAmount       decimal.Decimal   `json:"net_amount"`
	Eligible        bool              `json:"eligible"`
	Reason          string            `json:"reason,omitempty"`
	Agreement       InvestorAgreement `json:"-"`
}

type Calculation struct {
	Totals    Totals           `json:"totals"`
	Investors []InvestorResult `json:"investors"`
}
