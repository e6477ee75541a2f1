package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() payoutdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *payoutdomain.PayoutInstruction) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*payoutdomain.PayoutInstruction, error) {
	var p payoutdomain.PayoutInstruction
	err := db.WithContext(ctx).Where(query, args...).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*payoutdomain.PayoutInstruction, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*payoutdomain.PayoutInstruction, error) {
	return r.findOne(ctx, db, "external_id = ?", externalID)
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*payoutdomain.PayoutInstruction, error) {
	return r.findOne(ctx, db, "idempotency_key = ?", key)
}

func (r *repo) FindLatestSettledForInvestor(ctx context.Context, db *gorm.DB, investorID snowflake.ID) (*payoutdomain.PayoutInstruction, error) {
	var p payoutdomain.PayoutInstruction
	err := db.WithContext(ctx).
		Where("investor_id = ? AND status = ?", investorID, payoutdomain.StatusSettled).
		Order("created_at DESC").
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]payoutdomain.PayoutInstruction, error) {
	var items []payoutdomain.PayoutInstruction
	err := db.WithContext(ctx).Where("run_id = ?", runID).Order("created_at ASC, id ASC").Find(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter payoutdomain.ListFilter) ([]payoutdomain.PayoutInstruction, int64, error) {
	query := db.WithContext(ctx).Model(&payoutdomain.PayoutInstruction{})
	if filter.InvestorID != nil {
		query = query.Where("investor_id = ?", *filter.InvestorID)
	}
	if filter.RunID != nil {
		query = query.Where("run_id = ?", *filter.RunID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []payoutdomain.PayoutInstruction
	err := query.Order("created_at DESC, id DESC").Limit(filter.Limit).Offset(filter.Offset).Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repo) ListAmountsByProvider(ctx context.Context, db *gorm.DB, provider string) ([]payoutdomain.PayoutInstruction, error) {
	var items []payoutdomain.PayoutInstruction
	err := db.WithContext(ctx).
		Select("id", "status", "amount").
		Where("provider = ?", provider).
		Find(&items).Error
	return items, err
}

func (r *repo) MarkSubmitted(ctx context.Context, db *gorm.DB, id snowflake.ID, externalID string, fee, fxRate decimal.Decimal, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&payoutdomain.PayoutInstruction{}).
		Where("id = ? AND status IN ?", id, []payoutdomain.Status{payoutdomain.StatusPending, payoutdomain.StatusFailed, payoutdomain.StatusSubmitted}).
		Updates(map[string]any{
			"status":           payoutdomain.StatusSubmitted,
			"external_id":      externalID,
			"fee":              fee,
			"fx_rate":          fxRate,
			"provider_message": nil,
			"updated_at":       at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return payoutdomain.ErrInvalidTransition
	}
	return nil
}

// RecordFailure bumps retry_count in place so concurrent attempts never
// lose an increment.
func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&payoutdomain.PayoutInstruction{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count":      gorm.Expr("retry_count + 1"),
			"provider_message": message,
			"updated_at":       at,
		}).Error
}

// UpdateStatus never rewrites a SETTLED instruction.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status payoutdomain.Status, message *string, at time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if message != nil {
		updates["provider_message"] = *message
	}
	res := db.WithContext(ctx).
		Model(&payoutdomain.PayoutInstruction{}).
		Where("id = ? AND status <> ?", id, payoutdomain.StatusSettled).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return payoutdomain.ErrInvalidTransition
	}
	return nil
}

func (r *repo) ResetForRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, status payoutdomain.Status, at time.Time) (int, error) {
	res := db.WithContext(ctx).
		Model(&payoutdomain.PayoutInstruction{}).
		Where("id = ? AND status <> ?", id, payoutdomain.StatusSettled).
		Updates(map[string]any{
			"status":      status,
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, payoutdomain.ErrAlreadySettled
	}

	var p payoutdomain.PayoutInstruction
	if err := db.WithContext(ctx).Select("retry_count").Where("id = ?", id).Take(&p).Error; err != nil {
		return 0, err
	}
	return p.RetryCount, nil
}
