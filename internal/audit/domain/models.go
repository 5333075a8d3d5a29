package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeAdmin  ActorType = "admin"
	ActorTypeTenant ActorType = "tenant"
)

// Entitlement lifecycle actions. One constant per mutation the engine audits.
const (
	ActionCustomerCreated    = "customer.created"
	ActionPlanChanged        = "plan.changed"
	ActionPlanDowngraded     = "plan.downgraded"
	ActionUsageReset         = "usage.reset"
	ActionLimitOverridden    = "limit.overridden"
	ActionCredentialStored   = "credential.stored"
	ActionCredentialCleared  = "credential.cleared"
	ActionSubscriptionStatus = "subscription.status_changed"
	ActionDomainRequested    = "domain.requested"
	ActionDomainChecked      = "domain.checked"
	ActionDomainVerified     = "domain.verified"
	ActionDomainRemoved      = "domain.removed"
)

// AuditEvent is an append-only record of an entitlement mutation.
type AuditEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	CustomerID    snowflake.ID      `gorm:"not null;index" json:"customer_id"`
	ActorType     string            `gorm:"not null" json:"actor_type"`
	ActorID       *string           `json:"actor_id,omitempty"`
	Action        string            `gorm:"not null;index" json:"action"`
	Reason        *string           `json:"reason,omitempty"`
	Metadata      datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CorrelationID string            `gorm:"column:correlation_id" json:"correlation_id,omitempty"`
	IPAddress     *string           `json:"ip_address,omitempty"`
	UserAgent     *string           `json:"user_agent,omitempty"`
	CreatedAt     time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// EventCursor resumes a descending (created_at, id) listing.
type EventCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CustomerID snowflake.ID
	Action     string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *EventCursor
	Limit      int
}
