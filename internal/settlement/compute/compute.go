// Package compute turns a revenue snapshot and investor agreements into
// totals and per-investor entitlements. Everything here is pure and exact.
package compute

import (
	"fmt"
	"time"

	"github.com/railzwaylabs/revshare/internal/money"
	"github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/shopspring/decimal"
)

// DefaultPayoutPct is the share of adjusted stake returned to players.
var DefaultPayoutPct = decimal.NewFromInt(70)

const reasonInactive = "Agreement inactive"

// ComputeSettlement applies the revenue waterfall to snapshot and splits the
// result across agreements. Agreement order is preserved in the output.
func ComputeSettlement(snapshot domain.RevenueSnapshot, agreements []domain.InvestorAgreement, payoutPct decimal.Decimal) domain.Calculation {
	multiplier := int64(snapshot.MarketMultiplier)
	if multiplier == 0 {
		multiplier = 1
	}

	adjustedStake := snapshot.Stake.Mul(decimal.NewFromInt(multiplier))
	ggr := adjustedStake.Sub(money.Percent(adjustedStake, payoutPct))

	bonuses := money.Percent(ggr, snapshot.BonusesPct)
	fees := money.Percent(ggr, snapshot.FeesPct)
	ngr := ggr.Sub(bonuses).Sub(fees)

	taxes := money.Percent(ngr, snapshot.TaxesPct)
	marketing := money.Percent(ngr, snapshot.MarketingPct)
	ngrNet := ngr.Sub(taxes).Sub(marketing).Sub(money.OrZero(snapshot.FixedOpex))

	totalInvestorPayout := decimal.Zero
	totalPayoutFees := decimal.Zero
	totalFXFees := decimal.Zero

	investors := make([]domain.InvestorResult, 0, len(agreements))
	for _, agreement := range agreements {
		result := domain.InvestorResult{
			InvestorID:      agreement.InvestorID,
			AgreementID:     agreement.ID,
			Basis:           agreement.Basis,
			PayoutFrequency: agreement.PayoutFrequency,
			GrossAmount:     decimal.Zero,
			PayoutFee:       decimal.Zero,
			FXFee:           decimal.Zero,
			NetAmount:       decimal.Zero,
			Agreement:       agreement,
		}
		if !agreement.Active {
			result.Reason = reasonInactive
			investors = append(investors, result)
			continue
		}

		base := ngrNet
		if agreement.Basis == domain.BasisNGR {
			base = ngr
		}

		result.GrossAmount = money.Percent(base, agreement.SharePercent)
		result.PayoutFee = money.Percent(result.GrossAmount, snapshot.PayoutFeesPct)
		result.FXFee = money.Percent(result.GrossAmount, snapshot.FXPct)
		result.NetAmount = result.GrossAmount.Sub(result.PayoutFee).Sub(result.FXFee)

		result.Eligible = result.NetAmount.GreaterThanOrEqual(agreement.MinPayoutThreshold)
		if result.Eligible {
			totalInvestorPayout = totalInvestorPayout.Add(result.NetAmount)
			totalPayoutFees = totalPayoutFees.Add(result.PayoutFee)
			totalFXFees = totalFXFees.Add(result.FXFee)
		} else {
			result.Reason = fmt.Sprintf("Below threshold (%s)", agreement.MinPayoutThreshold.String())
		}
		investors = append(investors, result)
	}

	companyTake := ngrNet.
		Sub(totalInvestorPayout).
		Sub(money.OrZero(snapshot.CapexAmort)).
		Sub(totalPayoutFees).
		Sub(totalFXFees)

	return domain.Calculation{
		Totals: domain.Totals{
			Stake:               adjustedStake,
			GGR:                 ggr,
			NGR:                 ngr,
			Bonuses:             bonuses,
			Fees:                fees,
			Taxes:               taxes,
			Marketing:           marketing,
			NGRNet:              ngrNet,
			TotalInvestorPayout: totalInvestorPayout,
			CompanyTake:         companyTake,
			PayoutFees:          totalPayoutFees,
			FXFees:              totalFXFees,
		},
		Investors: investors,
	}
}

// ShouldExecutePayout gates payouts by frequency, counting whole elapsed days
// between the last settled payout and now. No prior payout is always eligible.
func ShouldExecutePayout(frequency domain.PayoutFrequency, lastPayout *time.Time, now time.Time) bool {
	if lastPayout == nil {
		return true
	}

	days := int64(now.Sub(*lastPayout) / (24 * time.Hour))
	switch frequency {
	case domain.FrequencyDaily:
		return days >= 1
	case domain.FrequencyWeekly:
		return days >= 7
	case domain.FrequencyMonthly:
		return days >= 30
	default:
		return false
	}
}
