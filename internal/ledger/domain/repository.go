package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertEntries(ctx context.Context, db *gorm.DB, entries []Entry) error
	ListByAccount(ctx context.Context, db *gorm.DB, account Account, investorID *snowflake.ID) ([]Entry, error)
	ListForVerification(ctx context.Context, db *gorm.DB, runID *snowflake.ID) ([]Entry, error)
	CountByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) (int64, error)
}
