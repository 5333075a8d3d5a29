package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository owns the customer rows that provisioning and administration
// touch. Usage counters and domain-verification fields have their own
// repositories; each concern keeps its own statements.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Customer, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Customer, error)
	SlugExists(ctx context.Context, db *gorm.DB, slug string) (bool, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, change PlanChange) (int64, error)
	UpdateMonthlyLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit int64, updatedAt time.Time) (int64, error)
	UpdateSendCredential(ctx context.Context, db *gorm.DB, id snowflake.ID, ciphertext *string, updatedAt time.Time) (int64, error)
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, updatedAt time.Time) (int64, error)
}
