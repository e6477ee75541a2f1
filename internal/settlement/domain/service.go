package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
)

const (
	QueueName       = "settlement"
	JobTypeCloseDay = "close-day"
)

// Job is the payload of a settlement queue job.
type Job struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	DryRun      bool      `json:"dry_run"`
}

type CloseDayRequest struct {
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	DryRun      bool
}

// ResolvePeriod fills in a missing bound with a one day span. With neither
// bound it returns the previous UTC day relative to now.
func ResolvePeriod(start, end *time.Time, now time.Time) (time.Time, time.Time) {
	switch {
	case start != nil && end != nil:
		return start.UTC(), end.UTC()
	case start != nil:
		return start.UTC(), start.UTC().Add(24 * time.Hour)
	case end != nil:
		return end.UTC().Add(-24 * time.Hour), end.UTC()
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return today.AddDate(0, 0, -1), today
}

type CloseDayResponse struct {
	JobID         string        `json:"job_id,omitempty"`
	PeriodStart   time.Time     `json:"period_start"`
	PeriodEnd     time.Time     `json:"period_end"`
	DryRun        bool          `json:"dry_run"`
	ExistingRunID *snowflake.ID `json:"existing_run_id,omitempty"`
}

// SkippedInvestor records a normal non-payout outcome.
type SkippedInvestor struct {
	InvestorID snowflake.ID `json:"investor_id"`
	Reason     string       `json:"reason"`
}

type CloseDayResult struct {
	RunID         snowflake.ID      `json:"run_id"`
	Status        RunStatus         `json:"status"`
	Totals        Totals            `json:"totals"`
	PayoutIDs     []snowflake.ID    `json:"payout_ids"`
	Skipped       []SkippedInvestor `json:"skipped"`
	AlreadyClosed bool              `json:"already_closed"`
	Requeued      int               `json:"requeued,omitempty"`
}

type RunDetail struct {
	Run         SettlementRun                    `json:"run"`
	Totals      Totals                           `json:"totals"`
	Investors   []InvestorResult                 `json:"investors"`
	Snapshot    *RevenueSnapshot                 `json:"snapshot,omitempty"`
	LedgerCount int64                            `json:"ledger_count"`
	Payouts     []payoutdomain.PayoutInstruction `json:"payouts"`
}

type ListRunsRequest struct {
	Status RunStatus
	Limit  int
	Offset int
}

type RunSummary struct {
	SettlementRun
	PayoutCount int   `json:"payout_count"`
	LedgerCount int64 `json:"ledger_count"`
}

type ListRunsResponse struct {
	Runs   []RunSummary `json:"runs"`
	Total  int64        `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

type Service interface {
	RequestCloseDay(ctx context.Context, req CloseDayRequest) (*CloseDayResponse, error)
	CloseDay(ctx context.Context, job Job) (*CloseDayResult, error)
	GetRun(ctx context.Context, id snowflake.ID) (*RunDetail, error)
	ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error)
}
