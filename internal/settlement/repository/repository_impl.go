package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() settlementdomain.Repository {
	return &repo{}
}

func (r *repo) InsertSnapshot(ctx context.Context, db *gorm.DB, s *settlementdomain.RevenueSnapshot) error {
	return db.WithContext(ctx).Create(s).Error
}

func (r *repo) FindLatestSnapshot(ctx context.Context, db *gorm.DB, start, end time.Time) (*settlementdomain.RevenueSnapshot, error) {
	var snapshot settlementdomain.RevenueSnapshot
	err := db.WithContext(ctx).
		Where("period_start = ? AND period_end = ?", start, end).
		Order("created_at DESC, id DESC").
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repo) FindSnapshotByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*settlementdomain.RevenueSnapshot, error) {
	var snapshot settlementdomain.RevenueSnapshot
	err := db.WithContext(ctx).Where("id = ?", id).Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repo) InsertRun(ctx context.Context, db *gorm.DB, run *settlementdomain.SettlementRun) error {
	return db.WithContext(ctx).Create(run).Error
}

func (r *repo) FindRunByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*settlementdomain.SettlementRun, error) {
	var run settlementdomain.SettlementRun
	err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LockRunByID loads the run holding a row lock until the transaction ends, so
// status derivations for the same run serialize.
func (r *repo) LockRunByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*settlementdomain.SettlementRun, error) {
	var run settlementdomain.SettlementRun
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindClosedRun returns the FINALIZED, PAID or PARTIAL run of a period, if any.
// PARTIAL is a demoted PAID run and still closes the period.
func (r *repo) FindClosedRun(ctx context.Context, db *gorm.DB, start, end time.Time) (*settlementdomain.SettlementRun, error) {
	var run settlementdomain.SettlementRun
	err := db.WithContext(ctx).
		Where("period_start = ? AND period_end = ?", start, end).
		Where("status IN ?", []settlementdomain.RunStatus{
			settlementdomain.RunStatusFinalized,
			settlementdomain.RunStatusPaid,
			settlementdomain.RunStatusPartial,
		}).
		Order("created_at DESC").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repo) UpdateRunStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status settlementdomain.RunStatus, at time.Time) error {
	return db.WithContext(ctx).
		Model(&settlementdomain.SettlementRun{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": at}).Error
}

func (r *repo) ListRuns(ctx context.Context, db *gorm.DB, filter settlementdomain.ListRunsFilter) ([]settlementdomain.SettlementRun, int64, error) {
	query := db.WithContext(ctx).Model(&settlementdomain.SettlementRun{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []settlementdomain.SettlementRun
	err := query.
		Order("period_start DESC, created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&runs).Error
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

func (r *repo) CountRunsByStatus(ctx context.Context, db *gorm.DB, status settlementdomain.RunStatus) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&settlementdomain.SettlementRun{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

func (r *repo) ListActiveAgreements(ctx context.Context, db *gorm.DB) ([]settlementdomain.InvestorAgreement, error) {
	var agreements []settlementdomain.InvestorAgreement
	err := db.WithContext(ctx).
		Preload("Investor").
		Where("active = ?", true).
		Order("created_at ASC, id ASC").
		Find(&agreements).Error
	if err != nil {
		return nil, err
	}
	return agreements, nil
}

func (r *repo) FindInvestorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*settlementdomain.Investor, error) {
	var investor settlementdomain.Investor
	err := db.WithContext(ctx).Where("id = ?", id).Take(&investor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &investor, nil
}
