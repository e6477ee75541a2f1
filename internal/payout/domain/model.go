package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusSettled   Status = "SETTLED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether a provider has given a final answer.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSubmitted, StatusSettled, StatusFailed:
		return true
	}
	return false
}

// PayoutInstruction drives one investor's entitlement for one run from owed to paid.
type PayoutInstruction struct {
	ID              snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	RunID           snowflake.ID    `json:"run_id" gorm:"not null;index"`
	InvestorID      snowflake.ID    `json:"investor_id" gorm:"not null;index"`
	Provider        string          `json:"provider" gorm:"type:varchar(20);not null;index"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:numeric(24,8);not null"`
	Currency        string          `json:"currency" gorm:"type:varchar(3);not null"`
	Fee             decimal.Decimal `json:"fee" gorm:"type:numeric(24,8);not null"`
	FXRate          decimal.Decimal `json:"fx_rate" gorm:"column:fx_rate;type:numeric(18,8);not null"`
	Status          Status          `json:"status" gorm:"type:varchar(20);not null;index"`
	ExternalID      *string         `json:"external_id,omitempty" gorm:"type:varchar(128);uniqueIndex"`
	IdempotencyKey  string          `json:"idempotency_key" gorm:"type:varchar(64);not null;uniqueIndex"`
	RetryCount      int             `json:"retry_count" gorm:"not null;default:0"`
	ProviderMessage *string         `json:"provider_message,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"not null"`
}

func (PayoutInstruction) TableName() string { return "payout_instructions" }

func (p PayoutInstruction) HasExternalID() bool {
	return p.ExternalID != nil && *p.ExternalID != ""
}

// Job is the payload of a payout queue job.
type Job struct {
	PayoutInstructionID snowflake.ID `json:"payout_instruction_id"`
	RetryAttempt        int          `json:"retry_attempt"`
}

const (
	QueueName     = "payout"
	JobTypeSubmit = "submit"
)

type ListFilter struct {
	InvestorID *snowflake.ID
	RunID      *snowflake.ID
	Status     Status
	Provider   string
	Limit      int
	Offset     int
}

type StatusStat struct {
	Status      Status          `json:"status"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ProviderStats struct {
	Provider   string       `json:"provider"`
	Kind       string       `json:"kind"`
	Statistics []StatusStat `json:"statistics"`
}

type RetryResponse struct {
	PayoutID     snowflake.ID `json:"payout_id"`
	JobID        string       `json:"job_id"`
	RetryAttempt int          `json:"retry_attempt"`
	Status       string       `json:"status"`
}

type ListResponse struct {
	Payouts []PayoutInstruction `json:"payouts"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}
