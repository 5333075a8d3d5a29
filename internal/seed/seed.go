package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/plan"
	"gorm.io/gorm"
)

const (
	demoTenantName = "Demo Workspace"
	demoTenantSlug = "demo"
)

// EnsureDemoTenant seeds a FREE tenant for OSS bootstrap so a fresh
// install has something to poke at. Idempotent by slug.
func EnsureDemoTenant(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing customerdomain.Customer
		err := tx.WithContext(ctx).Where("slug = ?", demoTenantSlug).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		ent, ok := plan.Default().Lookup(plan.TierFree)
		if !ok {
			return plan.ErrInvalidCatalog
		}

		now := time.Now().UTC()
		customer := customerdomain.Customer{
			ID:                  node.Generate(),
			Slug:                demoTenantSlug,
			DisplayName:         demoTenantName,
			Plan:                plan.TierFree,
			MonthlyLimit:        ent.MonthlyLimit,
			UsageCount:          0,
			UsageResetAt:        now.Add(customerdomain.CycleDuration),
			BillingCycleStartAt: now,
			IsActive:            true,
			SubscriptionStatus:  customerdomain.SubscriptionActive,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return tx.WithContext(ctx).Create(&customer).Error
	})
}
