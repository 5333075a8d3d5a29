package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		now,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// ChargeUsage increments only while under the limit. Zero rows means the
// customer is missing, misconfigured, or out of quota; callers re-read
// to tell which.
func (r *repo) ChargeUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET usage_count = usage_count + 1, updated_at = ?
		  WHERE id = ? AND monthly_limit > 0 AND usage_count < monthly_limit`,
		now,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) GetUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UsageRow, error) {
	var row domain.UsageRow
	err := db.WithContext(ctx).Raw(
		`SELECT id, plan, usage_count, monthly_limit, usage_reset_at, billing_cycle_start_at
		 FROM customers WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ResetUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, reset domain.ResetParams) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET usage_count = ?, usage_reset_at = ?, billing_cycle_start_at = ?, updated_at = ?
		 WHERE id = ?`,
		reset.Value,
		reset.ResetAt,
		reset.CycleStartAt,
		reset.UpdatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// DowngradeToFree captures previous_plan inside the statement; the
// assignment order matters on MySQL, where later assignments see new
// values.
func (r *repo) DowngradeToFree(ctx context.Context, db *gorm.DB, id snowflake.ID, params domain.DowngradeParams) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET previous_plan = plan,
		     plan = 'FREE',
		     monthly_limit = ?,
		     usage_count = 0,
		     usage_reset_at = ?,
		     billing_cycle_start_at = ?,
		     downgraded_at = ?,
		     subscription_status = 'EXPIRED',
		     updated_at = ?
		 WHERE id = ? AND plan <> 'FREE'`,
		params.MonthlyLimit,
		params.ResetAt,
		params.CycleStartAt,
		params.DowngradedAt,
		params.UpdatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ClaimDueForReset(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	query := `SELECT id FROM customers
		 WHERE is_active = ? AND usage_reset_at <= ?
		 ORDER BY usage_reset_at, id
		 LIMIT ?`
	if supportsSkipLocked(db) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var ids []snowflake.ID
	if err := db.WithContext(ctx).Raw(query, true, now, limit).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ClaimDueForDowngrade(ctx context.Context, db *gorm.DB, limit int) ([]domain.DowngradeCandidate, error) {
	query := `SELECT id, plan, subscription_status FROM customers
		 WHERE plan <> 'FREE' AND subscription_status IN (?, ?)
		 ORDER BY id
		 LIMIT ?`
	if supportsSkipLocked(db) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var candidates []domain.DowngradeCandidate
	err := db.WithContext(ctx).Raw(query,
		customerdomain.SubscriptionPastDue,
		customerdomain.SubscriptionExpired,
		limit,
	).Scan(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

func supportsSkipLocked(db *gorm.DB) bool {
	return !strings.EqualFold(db.Dialector.Name(), "sqlite")
}
