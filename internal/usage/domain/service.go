package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service is the usage tracker. Increment is the send-path hot spot and
// stays a single UPDATE; it never consults limits, which belong to the
// gate and to callers reading Stats.
type Service interface {
	IncrementUsage(ctx context.Context, tenantID snowflake.ID) error
	// TryCharge spends one send against the monthly limit. The guard is
	// part of the UPDATE, so concurrent callers cannot overshoot. The
	// returned Stats reflect the row after the attempt.
	TryCharge(ctx context.Context, tenantID snowflake.ID) (Stats, bool, error)
	GetUsageStats(ctx context.Context, tenantID snowflake.ID) (Stats, error)
	ResetMonthlyUsage(ctx context.Context, tenantID snowflake.ID) error
	ResetMonthlyUsageTo(ctx context.Context, tenantID snowflake.ID, value int64) error
	DowngradeToFreePlan(ctx context.Context, tenantID snowflake.ID, reason DowngradeReason) error

	// SweepDueResets resets every active customer whose window has
	// elapsed and returns how many rows it touched. A completed run
	// self-clears, so retries are observably idempotent.
	SweepDueResets(ctx context.Context, batchSize int) (int, error)
	// SweepDowngrades moves delinquent paid customers to FREE. Rows
	// already on FREE match nothing, so the sweep self-clears too.
	SweepDowngrades(ctx context.Context, batchSize int) (int, error)
}

var (
	ErrInvalidTenant      = errors.New("invalid_tenant")
	ErrInvalidResetValue  = errors.New("invalid_reset_value")
	ErrLimitNotConfigured = errors.New("monthly_limit_not_configured")
)
