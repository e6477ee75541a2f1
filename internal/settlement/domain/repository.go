package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListRunsFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}

type Repository interface {
	InsertSnapshot(ctx context.Context, db *gorm.DB, s *RevenueSnapshot) error
	FindLatestSnapshot(ctx context.Context, db *gorm.DB, start, end time.Time) (*RevenueSnapshot, error)
	FindSnapshotByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*RevenueSnapshot, error)

	InsertRun(ctx context.Context, db *gorm.DB, run *SettlementRun) error
	FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SettlementRun, error)
	LockRunByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*SettlementRun, error)
	FindClosedRun(ctx context.Context, db *gorm.DB, start, end time.Time) (*SettlementRun, error)
	UpdateRunStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status RunStatus, at time.Time) error
	ListRuns(ctx context.Context, db *gorm.DB, filter ListRunsFilter) ([]SettlementRun, int64, error)
	CountRunsByStatus(ctx context.Context, db *gorm.DB, status RunStatus) (int64, error)

	ListActiveAgreements(ctx context.Context, db *gorm.DB) ([]InvestorAgreement, error)
	FindInvestorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Investor, error)
}
