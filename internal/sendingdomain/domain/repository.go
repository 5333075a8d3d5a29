package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RegistrationParams is everything persisted when a domain is
// (re)registered. The checked-at stamp always resets to NULL: a fresh
// registration has never been polled.
type RegistrationParams struct {
	Domain      string
	ProviderID  string
	DNSRecords  datatypes.JSON
	RequestedAt time.Time
	Verified    bool
	VerifiedAt  *time.Time
	UpdatedAt   time.Time
}

type Repository interface {
	VerifiedHolderExists(ctx context.Context, db *gorm.DB, domain string, excludeID snowflake.ID) (bool, error)
	SaveRegistration(ctx context.Context, db *gorm.DB, id snowflake.ID, params RegistrationParams) (int64, error)
	MarkChecked(ctx context.Context, db *gorm.DB, id snowflake.ID, checkedAt time.Time) (int64, error)
	MarkVerified(ctx context.Context, db *gorm.DB, id snowflake.ID, verifiedAt time.Time) (int64, error)
	ClearDomain(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (int64, error)
}
