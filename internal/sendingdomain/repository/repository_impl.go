package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/internal/sendingdomain/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) VerifiedHolderExists(ctx context.Context, db *gorm.DB, hostname string, excludeID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM customers
		 WHERE sending_domain = ? AND domain_verified = ? AND id <> ?`,
		hostname, true, excludeID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) SaveRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID, params domain.RegistrationParams) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET sending_domain = ?,
		     domain_provider_id = ?,
		     domain_dns_records = ?,
		     domain_requested_at = ?,
		     domain_checked_at = NULL,
		     domain_verified = ?,
		     domain_verified_at = ?,
		     updated_at = ?
		 WHERE id = ?`,
		params.Domain,
		params.ProviderID,
		params.DNSRecords,
		params.RequestedAt,
		params.Verified,
		params.VerifiedAt,
		params.UpdatedAt,
		id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) MarkChecked(ctx context.Context, db *gorm.DB, id snowflake.ID, checkedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers SET domain_checked_at = ?, updated_at = ? WHERE id = ?`,
		checkedAt, checkedAt, id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, verifiedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET domain_verified = ?, domain_checked_at = ?, domain_verified_at = ?, updated_at = ?
		 WHERE id = ?`,
		true, verifiedAt, verifiedAt, verifiedAt, id,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) ClearDomain(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (int64, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET sending_domain = NULL,
		     domain_verified = ?,
		     domain_provider_id = NULL,
		     domain_dns_records = NULL,
		     domain_requested_at = NULL,
		     domain_checked_at = NULL,
		     domain_verified_at = NULL,
		     updated_at = ?
		 WHERE id = ?`,
		false, updatedAt, id,
	)
	return result.RowsAffected, result.Error
}
