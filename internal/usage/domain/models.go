package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/internal/plan"
)

// DowngradeReason explains a forced move to the FREE plan. The two
// values map to the subscription states the downgrade sweep acts on.
type DowngradeReason string

const (
	DowngradeSubscriptionExpired DowngradeReason = "SUBSCRIPTION_EXPIRED"
	DowngradePaymentFailed       DowngradeReason = "PAYMENT_FAILED"
)

var ErrInvalidReason = errors.New("invalid_downgrade_reason")

func ParseDowngradeReason(s string) (DowngradeReason, error) {
	switch DowngradeReason(strings.ToUpper(strings.TrimSpace(s))) {
	case DowngradeSubscriptionExpired:
		return DowngradeSubscriptionExpired, nil
	case DowngradePaymentFailed:
		return DowngradePaymentFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidReason, s)
	}
}

// Stats is the usage payload handed to callers and serialized on the
// usage endpoint.
type Stats struct {
	Usage               int64     `json:"usage"`
	Limit               int64     `json:"limit"`
	Remaining           int64     `json:"remaining"`
	PercentageUsed      float64   `json:"percentageUsed"`
	ResetAt             time.Time `json:"resetAt"`
	BillingCycleStartAt time.Time `json:"billingCycleStartAt"`
}

// UsageRow is the stats projection of a customer row.
type UsageRow struct {
	ID                  snowflake.ID
	Plan                plan.Tier
	UsageCount          int64
	MonthlyLimit        int64
	UsageResetAt        time.Time
	BillingCycleStartAt time.Time
}

// ResetParams carries the timestamps a reset stamps onto the row.
type ResetParams struct {
	Value        int64
	ResetAt      time.Time
	CycleStartAt time.Time
	UpdatedAt    time.Time
}

// DowngradeParams carries everything the downgrade statement sets
// besides the plan itself; previous_plan is captured inside the SQL.
type DowngradeParams struct {
	MonthlyLimit int64
	ResetAt      time.Time
	CycleStartAt time.Time
	DowngradedAt time.Time
	UpdatedAt    time.Time
}

// DowngradeCandidate is a row the downgrade sweep claimed.
type DowngradeCandidate struct {
	ID                 snowflake.ID
	Plan               plan.Tier
	SubscriptionStatus string
}
