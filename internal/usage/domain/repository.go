package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository owns the usage-cycle columns of the customers table. The
// claim queries lock with FOR UPDATE SKIP LOCKED where the dialect
// supports it so replicas never sweep the same rows.
type Repository interface {
	IncrementUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)
	ChargeUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (int64, error)
	GetUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageRow, error)
	ResetUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, reset ResetParams) (int64, error)
	DowngradeToFree(ctx context.Context, db *gorm.DB, id snowflake.ID, params DowngradeParams) (int64, error)
	ClaimDueForReset(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	ClaimDueForDowngrade(ctx context.Context, db *gorm.DB, limit int) ([]DowngradeCandidate, error)
}
