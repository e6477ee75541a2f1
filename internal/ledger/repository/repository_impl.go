package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/railzwaylabs/revshare/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

func (r *repo) InsertEntries(ctx context.Context, db *gorm.DB, entries []ledgerdomain.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&entries).Error
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, account ledgerdomain.Account, investorID *snowflake.ID) ([]ledgerdomain.Entry, error) {
	query := db.WithContext(ctx).Model(&ledgerdomain.Entry{}).Where("account = ?", account)
	if investorID != nil {
		query = query.Where("investor_id = ?", *investorID)
	}
	var entries []ledgerdomain.Entry
	if err := query.Order("created_at ASC, id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) ListForVerification(ctx context.Context, db *gorm.DB, runID *snowflake.ID) ([]ledgerdomain.Entry, error) {
	query := db.WithContext(ctx).Model(&ledgerdomain.Entry{})
	if runID != nil {
		query = query.Where("run_id = ?", *runID)
	}
	var entries []ledgerdomain.Entry
	if err := query.Select("id", "side", "amount").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) CountByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&ledgerdomain.Entry{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}
