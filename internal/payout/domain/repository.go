package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *PayoutInstruction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PayoutInstruction, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*PayoutInstruction, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*PayoutInstruction, error)
	FindLatestSettledForInvestor(ctx context.Context, db *gorm.DB, investorID snowflake.ID) (*PayoutInstruction, error)
	ListByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]PayoutInstruction, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PayoutInstruction, int64, error)
	ListAmountsByProvider(ctx context.Context, db *gorm.DB, provider string) ([]PayoutInstruction, error)

	MarkSubmitted(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, fee, fxRate decimal.Decimal, at time.Time) error
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, message *string, at time.Time) error
	ResetForRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) (int, error)
}
