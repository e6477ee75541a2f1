package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type demoInvestor struct {
	name        string
	phoneOrIBAN string
	walletType  settlementdomain.WalletType
	share       string
	threshold   string
	frequency   settlementdomain.PayoutFrequency
}

var demoInvestors = []demoInvestor{
	{
		name:        "Jean Dupont",
		phoneOrIBAN: "+243812345678",
		walletType:  settlementdomain.WalletMobileMoney,
		share:       "15",
		threshold:   "100",
		frequency:   settlementdomain.FrequencyDaily,
	},
	{
		name:        "Marie Martin",
		phoneOrIBAN: "CD89370400440532013000",
		walletType:  settlementdomain.WalletBank,
		share:       "10",
		threshold:   "500",
		frequency:   settlementdomain.FrequencyWeekly,
	},
}

// Result counts the rows created by one seed pass. Rows that already existed
// are not counted.
type Result struct {
	Investors  int
	Agreements int
	Snapshots  int
}

// EnsureDemoData seeds two verified investors with active agreements and a
// revenue snapshot for the UTC day containing now. It is safe to run
// repeatedly; investors are keyed by a slug of their name.
func EnsureDemoData(ctx context.Context, db *gorm.DB, node *snowflake.Node, currency string, now time.Time) (Result, error) {
	var res Result
	if db == nil {
		return res, errors.New("seed database handle is required")
	}
	if node == nil {
		return res, errors.New("seed id generator is required")
	}
	if currency == "" {
		currency = "EUR"
	}
	now = now.UTC()

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, demo := range demoInvestors {
			investor, created, err := ensureInvestorTx(ctx, tx, node, demo, currency, now)
			if err != nil {
				return err
			}
			if created {
				res.Investors++
			}
			created, err = ensureAgreementTx(ctx, tx, node, investor.ID, demo, now)
			if err != nil {
				return err
			}
			if created {
				res.Agreements++
			}
		}

		created, err := ensureSnapshotTx(ctx, tx, node, now)
		if err != nil {
			return err
		}
		if created {
			res.Snapshots++
		}
		return nil
	})
	return res, err
}

func ensureInvestorTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, demo demoInvestor, currency string, now time.Time) (settlementdomain.Investor, bool, error) {
	code := slug.Make(demo.name)

	var investor settlementdomain.Investor
	err := tx.WithContext(ctx).Where("code = ?", code).First(&investor).Error
	if err == nil {
		return investor, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return investor, false, err
	}

	investor = settlementdomain.Investor{
		ID:          node.Generate(),
		Code:        code,
		Name:        demo.name,
		PhoneOrIBAN: demo.phoneOrIBAN,
		WalletType:  demo.walletType,
		Country:     "CD",
		Currency:    currency,
		KYCStatus:   settlementdomain.KYCVerified,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := tx.WithContext(ctx).Create(&investor).Error; err != nil {
		return investor, false, err
	}
	return investor, true, nil
}

func ensureAgreementTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, investorID snowflake.ID, demo demoInvestor, now time.Time) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&settlementdomain.InvestorAgreement{}).
		Where("investor_id = ? AND active = ?", investorID, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	agreement := settlementdomain.InvestorAgreement{
		ID:                 node.Generate(),
		InvestorID:         investorID,
		SharePercent:       decimal.RequireFromString(demo.share),
		Basis:              settlementdomain.BasisNGRNet,
		MinPayoutThreshold: decimal.RequireFromString(demo.threshold),
		PayoutFrequency:    demo.frequency,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.WithContext(ctx).Create(&agreement).Error; err != nil {
		return false, err
	}
	return true, nil
}

func ensureSnapshotTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) (bool, error) {
	start := now.Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var count int64
	if err := tx.WithContext(ctx).
		Model(&settlementdomain.RevenueSnapshot{}).
		Where("period_start = ? AND period_end = ?", start, end).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	snapshot := settlementdomain.RevenueSnapshot{
		ID:               node.Generate(),
		PeriodStart:      start,
		PeriodEnd:        end,
		Stake:            decimal.NewFromInt(1_500_000),
		GGR:              decimal.NewFromInt(450_000),
		NGR:              decimal.NewFromInt(400_000),
		FeesPct:          decimal.NewFromInt(5),
		BonusesPct:       decimal.NewFromInt(10),
		TaxesPct:         decimal.NewFromInt(20),
		MarketingPct:     decimal.NewFromInt(20),
		PayoutFeesPct:    decimal.RequireFromString("1.2"),
		FXPct:            decimal.Zero,
		MarketMultiplier: 30,
		CreatedAt:        now,
	}
	if err := tx.WithContext(ctx).Create(&snapshot).Error; err != nil {
		return false, err
	}
	return true, nil
}
