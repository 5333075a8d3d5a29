package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/sendora/internal/plan"
	"gorm.io/datatypes"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "ACTIVE"
	SubscriptionPastDue SubscriptionStatus = "PAST_DUE"
	SubscriptionExpired SubscriptionStatus = "EXPIRED"
)

var ErrInvalidStatus = errors.New("invalid_subscription_status")

func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case SubscriptionActive:
		return SubscriptionActive, nil
	case SubscriptionPastDue:
		return SubscriptionPastDue, nil
	case SubscriptionExpired:
		return SubscriptionExpired, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// CycleDuration is the fixed billing window. Resets and downgrades both
// roll the window forward by this much from the moment they run.
const CycleDuration = 30 * 24 * time.Hour

// Customer is the tenant row. Everything the gate, the tracker, and the
// domain workflow decide on lives here; there is no separate settings table.
type Customer struct {
	ID                  snowflake.ID       `gorm:"primaryKey" json:"id"`
	Slug                string             `gorm:"uniqueIndex;not null" json:"slug"`
	DisplayName         string             `gorm:"not null" json:"display_name"`
	Plan                plan.Tier          `gorm:"not null;default:FREE" json:"plan"`
	PreviousPlan        *plan.Tier         `json:"previous_plan,omitempty"`
	MonthlyLimit        int64              `gorm:"not null" json:"monthly_limit"`
	UsageCount          int64              `gorm:"not null;default:0" json:"usage_count"`
	UsageResetAt        time.Time          `gorm:"not null" json:"usage_reset_at"`
	BillingCycleStartAt time.Time          `gorm:"not null" json:"billing_cycle_start_at"`
	IsActive            bool               `gorm:"not null;default:true" json:"is_active"`
	SubscriptionStatus  SubscriptionStatus `gorm:"not null;default:ACTIVE" json:"subscription_status"`
	DowngradedAt        *time.Time         `json:"downgraded_at,omitempty"`

	// Ciphertext token only; the plaintext key never touches the row or
	// any API payload.
	SendgridAPIKey *string `gorm:"column:sendgrid_api_key" json:"-"`

	SendingDomain     *string        `json:"sending_domain,omitempty"`
	DomainVerified    bool           `gorm:"not null;default:false" json:"domain_verified"`
	DomainProviderID  *string        `gorm:"column:domain_provider_id" json:"domain_provider_id,omitempty"`
	DomainDNSRecords  datatypes.JSON `gorm:"column:domain_dns_records" json:"domain_dns_records,omitempty"`
	DomainRequestedAt *time.Time     `json:"domain_requested_at,omitempty"`
	DomainCheckedAt   *time.Time     `json:"domain_checked_at,omitempty"`
	DomainVerifiedAt  *time.Time     `json:"domain_verified_at,omitempty"`

	FeatureOverrides pq.StringArray `gorm:"type:text[]" json:"feature_overrides,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Customer) TableName() string {
	return "customers"
}

// HasFeatureOverride reports an explicit admin grant for the feature.
func (c Customer) HasFeatureOverride(feature string) bool {
	feature = strings.TrimSpace(feature)
	for _, name := range c.FeatureOverrides {
		if name == feature {
			return true
		}
	}
	return false
}

// PlanChange is the single-statement mutation ChangePlan applies.
type PlanChange struct {
	Plan               plan.Tier
	PreviousPlan       plan.Tier
	MonthlyLimit       int64
	SubscriptionStatus SubscriptionStatus
	UpdatedAt          time.Time
}
