package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const customerColumns = `id, slug, display_name, plan, previous_plan, monthly_limit,
	usage_count, usage_reset_at, billing_cycle_start_at, is_active, subscription_status,
	downgraded_at, sendgrid_api_key, sending_domain, domain_verified, domain_provider_id,
	domain_dns_records, domain_requested_at, domain_checked_at, domain_verified_at,
	feature_overrides, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (`+customerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.Slug,
		customer.DisplayName,
		customer.Plan,
		customer.PreviousPlan,
		customer.MonthlyLimit,
		customer.UsageCount,
		customer.UsageResetAt,
		customer.BillingCycleStartAt,
		customer.IsActive,
		customer.SubscriptionStatus,
		customer.DowngradedAt,
		customer.SendgridAPIKey,
		customer.SendingDomain,
		customer.DomainVerified,
		customer.DomainProviderID,
		customer.DomainDNSRecords,
		customer.DomainRequestedAt,
		customer.DomainCheckedAt,
		customer.DomainVerifiedAt,
		customer.FeatureOverrides,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`,
		id,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM customers WHERE slug = ?`,
		slug,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM customers WHERE slug = ?`,
		slug,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, change domain.PlanChange) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET plan = ?, previous_plan = ?, monthly_limit = ?, subscription_status = ?, updated_at = ?
		 WHERE id = ?`,
		change.Plan,
		change.PreviousPlan,
		change.MonthlyLimit,
		change.SubscriptionStatus,
		change.UpdatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) UpdateMonthlyLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit int64, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET monthly_limit = ?, updated_at = ? WHERE id = ?`,
		limit,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) UpdateSendCredential(ctx context.Context, db *gorm.DB, id snowflake.ID, ciphertext *string, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET sendgrid_api_key = ?, updated_at = ? WHERE id = ?`,
		ciphertext,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, updatedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customers SET subscription_status = ?, updated_at = ? WHERE id = ?`,
		status,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
