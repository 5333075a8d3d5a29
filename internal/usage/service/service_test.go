package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sendora/internal/audit/repository"
	auditservice "github.com/smallbiznis/sendora/internal/audit/service"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	"github.com/smallbiznis/sendora/internal/plan"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
	"github.com/smallbiznis/sendora/internal/usage/repository"
	"github.com/smallbiznis/sendora/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testBase = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker(t *testing.T) (usagedomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&customerdomain.Customer{}, &auditdomain.AuditEvent{}))

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	require.NoError(t, conn.Exec("PRAGMA busy_timeout = 5000").Error)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fake := clock.NewFakeClock(testBase)

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})

	svc := NewService(Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   fake,
		Catalog: config.NewStaticCatalogHolder(plan.Default()),
		Repo:    repository.Provide(),
		Audit:   auditSvc,
	})
	return svc, conn, fake
}

func seedCustomer(t *testing.T, conn *gorm.DB, c customerdomain.Customer) customerdomain.Customer {
	t.Helper()
	if c.Slug == "" {
		c.Slug = fmt.Sprintf("tenant-%d", c.ID)
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Slug
	}
	if c.SubscriptionStatus == "" {
		c.SubscriptionStatus = customerdomain.SubscriptionActive
	}
	if c.UsageResetAt.IsZero() {
		c.UsageResetAt = testBase.Add(customerdomain.CycleDuration)
	}
	if c.BillingCycleStartAt.IsZero() {
		c.BillingCycleStartAt = testBase
	}
	// The column's default:true tag makes GORM skip the zero value on
	// insert (and backfill the struct); force it so inactive seeds are
	// actually inactive.
	inactive := !c.IsActive
	require.NoError(t, conn.Create(&c).Error)
	if inactive {
		require.NoError(t, conn.Model(&customerdomain.Customer{}).
			Where("id = ?", c.ID).Update("is_active", false).Error)
		c.IsActive = false
	}
	return c
}

func fetchCustomer(t *testing.T, conn *gorm.DB, id snowflake.ID) customerdomain.Customer {
	t.Helper()
	var c customerdomain.Customer
	require.NoError(t, conn.First(&c, "id = ?", id).Error)
	return c
}

func TestIncrementUsage(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1001, Plan: plan.TierFree, MonthlyLimit: 100, IsActive: true,
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.IncrementUsage(context.Background(), seeded.ID))
	}

	require.EqualValues(t, 3, fetchCustomer(t, conn, seeded.ID).UsageCount)

	err := svc.IncrementUsage(context.Background(), snowflake.ID(999999))
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)

	err = svc.IncrementUsage(context.Background(), 0)
	require.ErrorIs(t, err, usagedomain.ErrInvalidTenant)
}

func TestConcurrentIncrementsSumExactly(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1002, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
	})

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.IncrementUsage(context.Background(), seeded.ID)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, workers, fetchCustomer(t, conn, seeded.ID).UsageCount)
}

func TestGetUsageStats(t *testing.T) {
	svc, conn, _ := newTestTracker(t)

	// The 2999-of-3000 INDIE case: one send left, 99.97% used.
	indie := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1003, Plan: plan.TierIndie, UsageCount: 2999, MonthlyLimit: 3000, IsActive: true,
	})
	stats, err := svc.GetUsageStats(context.Background(), indie.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2999, stats.Usage)
	require.EqualValues(t, 3000, stats.Limit)
	require.EqualValues(t, 1, stats.Remaining)
	require.InDelta(t, 99.97, stats.PercentageUsed, 1e-9)
	require.WithinDuration(t, indie.UsageResetAt, stats.ResetAt, time.Second)
	require.WithinDuration(t, indie.BillingCycleStartAt, stats.BillingCycleStartAt, time.Second)

	// Over the limit: remaining clamps to zero, percentage does not.
	over := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1004, Plan: plan.TierFree, UsageCount: 150, MonthlyLimit: 100, IsActive: true,
	})
	stats, err = svc.GetUsageStats(context.Background(), over.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Remaining)
	require.InDelta(t, 150.0, stats.PercentageUsed, 1e-9)

	fresh := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1005, Plan: plan.TierFree, UsageCount: 0, MonthlyLimit: 100, IsActive: true,
	})
	stats, err = svc.GetUsageStats(context.Background(), fresh.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, stats.PercentageUsed, 1e-9)

	_, err = svc.GetUsageStats(context.Background(), snowflake.ID(999999))
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)
}

func TestGetUsageStatsZeroLimitFailsFast(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1006, Plan: plan.TierFree, MonthlyLimit: 0, IsActive: true,
	})

	_, err := svc.GetUsageStats(context.Background(), seeded.ID)
	require.ErrorIs(t, err, usagedomain.ErrLimitNotConfigured)
}

func TestTryChargeStopsAtLimit(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1013, Plan: plan.TierIndie, UsageCount: 2999, MonthlyLimit: 3000, IsActive: true,
	})

	stats, charged, err := svc.TryCharge(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.True(t, charged)
	require.EqualValues(t, 3000, stats.Usage)
	require.EqualValues(t, 0, stats.Remaining)

	// Quota is gone; the next charge is refused but still reports stats.
	stats, charged, err = svc.TryCharge(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.False(t, charged)
	require.EqualValues(t, 3000, stats.Usage)
	require.EqualValues(t, 3000, fetchCustomer(t, conn, seeded.ID).UsageCount)

	_, _, err = svc.TryCharge(context.Background(), snowflake.ID(404404))
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)

	_, _, err = svc.TryCharge(context.Background(), 0)
	require.ErrorIs(t, err, usagedomain.ErrInvalidTenant)
}

func TestTryChargeZeroLimitFailsFast(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1014, Plan: plan.TierFree, MonthlyLimit: 0, IsActive: true,
	})

	_, _, err := svc.TryCharge(context.Background(), seeded.ID)
	require.ErrorIs(t, err, usagedomain.ErrLimitNotConfigured)
	require.EqualValues(t, 0, fetchCustomer(t, conn, seeded.ID).UsageCount)
}

func TestConcurrentTryChargesNeverOvershoot(t *testing.T) {
	svc, conn, _ := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1015, Plan: plan.TierFree, UsageCount: 95, MonthlyLimit: 100, IsActive: true,
	})

	const workers = 20
	var wg sync.WaitGroup
	var granted atomic.Int64
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, charged, err := svc.TryCharge(context.Background(), seeded.ID)
			if charged {
				granted.Add(1)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 5, granted.Load())
	require.EqualValues(t, 100, fetchCustomer(t, conn, seeded.ID).UsageCount)
}

func TestResetMonthlyUsage(t *testing.T) {
	svc, conn, fake := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1007, Plan: plan.TierIndie, UsageCount: 42, MonthlyLimit: 3000, IsActive: true,
		UsageResetAt: testBase.Add(-time.Hour),
	})

	fake.Advance(48 * time.Hour)
	require.NoError(t, svc.ResetMonthlyUsage(context.Background(), seeded.ID))

	after := fetchCustomer(t, conn, seeded.ID)
	require.Zero(t, after.UsageCount)
	require.WithinDuration(t, fake.Now().Add(customerdomain.CycleDuration), after.UsageResetAt, time.Second)
	require.WithinDuration(t, fake.Now(), after.BillingCycleStartAt, time.Second)

	var auditCount int64
	require.NoError(t, conn.Model(&auditdomain.AuditEvent{}).
		Where("action = ?", auditdomain.ActionUsageReset).Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)

	// A repeat run is not a no-op: the window restarts from now.
	fake.Advance(time.Hour)
	require.NoError(t, svc.ResetMonthlyUsage(context.Background(), seeded.ID))
	again := fetchCustomer(t, conn, seeded.ID)
	require.WithinDuration(t, fake.Now().Add(customerdomain.CycleDuration), again.UsageResetAt, time.Second)

	require.NoError(t, svc.ResetMonthlyUsageTo(context.Background(), seeded.ID, 5))
	require.EqualValues(t, 5, fetchCustomer(t, conn, seeded.ID).UsageCount)

	err := svc.ResetMonthlyUsageTo(context.Background(), seeded.ID, -1)
	require.ErrorIs(t, err, usagedomain.ErrInvalidResetValue)

	err = svc.ResetMonthlyUsage(context.Background(), snowflake.ID(999999))
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)
}

func TestDowngradeToFreePlan(t *testing.T) {
	svc, conn, fake := newTestTracker(t)
	seeded := seedCustomer(t, conn, customerdomain.Customer{
		ID: 1008, Plan: plan.TierIndie, UsageCount: 500, MonthlyLimit: 3000, IsActive: true,
		SubscriptionStatus: customerdomain.SubscriptionPastDue,
	})

	require.NoError(t, svc.DowngradeToFreePlan(context.Background(), seeded.ID, usagedomain.DowngradePaymentFailed))

	after := fetchCustomer(t, conn, seeded.ID)
	require.Equal(t, plan.TierFree, after.Plan)
	require.NotNil(t, after.PreviousPlan)
	require.Equal(t, plan.TierIndie, *after.PreviousPlan)
	require.EqualValues(t, 100, after.MonthlyLimit)
	require.Zero(t, after.UsageCount)
	require.Equal(t, customerdomain.SubscriptionExpired, after.SubscriptionStatus)
	require.NotNil(t, after.DowngradedAt)
	require.WithinDuration(t, fake.Now().Add(customerdomain.CycleDuration), after.UsageResetAt, time.Second)

	var event auditdomain.AuditEvent
	require.NoError(t, conn.First(&event, "action = ?", auditdomain.ActionPlanDowngraded).Error)
	require.NotNil(t, event.Reason)
	require.Equal(t, string(usagedomain.DowngradePaymentFailed), *event.Reason)
	require.Equal(t, "INDIE", event.Metadata["from"])

	// Already FREE: a second call is a quiet no-op.
	require.NoError(t, svc.DowngradeToFreePlan(context.Background(), seeded.ID, usagedomain.DowngradePaymentFailed))
	var downgrades int64
	require.NoError(t, conn.Model(&auditdomain.AuditEvent{}).
		Where("action = ?", auditdomain.ActionPlanDowngraded).Count(&downgrades).Error)
	require.EqualValues(t, 1, downgrades)

	err := svc.DowngradeToFreePlan(context.Background(), seeded.ID, usagedomain.DowngradeReason("BECAUSE"))
	require.ErrorIs(t, err, usagedomain.ErrInvalidReason)

	err = svc.DowngradeToFreePlan(context.Background(), snowflake.ID(999999), usagedomain.DowngradePaymentFailed)
	require.ErrorIs(t, err, customerdomain.ErrCustomerNotFound)
}

func TestSweepDueResets(t *testing.T) {
	svc, conn, fake := newTestTracker(t)

	due1 := seedCustomer(t, conn, customerdomain.Customer{
		ID: 2001, Plan: plan.TierFree, UsageCount: 10, MonthlyLimit: 100, IsActive: true,
		UsageResetAt: testBase.Add(-time.Hour),
	})
	due2 := seedCustomer(t, conn, customerdomain.Customer{
		ID: 2002, Plan: plan.TierIndie, UsageCount: 20, MonthlyLimit: 3000, IsActive: true,
		UsageResetAt: testBase,
	})
	notDue := seedCustomer(t, conn, customerdomain.Customer{
		ID: 2003, Plan: plan.TierFree, UsageCount: 30, MonthlyLimit: 100, IsActive: true,
		UsageResetAt: testBase.Add(24 * time.Hour),
	})
	inactive := seedCustomer(t, conn, customerdomain.Customer{
		ID: 2004, Plan: plan.TierFree, UsageCount: 40, MonthlyLimit: 100, IsActive: false,
		UsageResetAt: testBase.Add(-time.Hour),
	})

	count, err := svc.SweepDueResets(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.Zero(t, fetchCustomer(t, conn, due1.ID).UsageCount)
	require.Zero(t, fetchCustomer(t, conn, due2.ID).UsageCount)
	require.EqualValues(t, 30, fetchCustomer(t, conn, notDue.ID).UsageCount)
	require.EqualValues(t, 40, fetchCustomer(t, conn, inactive.ID).UsageCount)
	require.WithinDuration(t, fake.Now().Add(customerdomain.CycleDuration), fetchCustomer(t, conn, due1.ID).UsageResetAt, time.Second)

	// Completed rows fall out of the sweep.
	count, err = svc.SweepDueResets(context.Background(), 50)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSweepDowngrades(t *testing.T) {
	svc, conn, _ := newTestTracker(t)

	pastDue := seedCustomer(t, conn, customerdomain.Customer{
		ID: 3001, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
		SubscriptionStatus: customerdomain.SubscriptionPastDue,
	})
	expired := seedCustomer(t, conn, customerdomain.Customer{
		ID: 3002, Plan: plan.TierStartup, MonthlyLimit: 10000, IsActive: true,
		SubscriptionStatus: customerdomain.SubscriptionExpired,
	})
	healthy := seedCustomer(t, conn, customerdomain.Customer{
		ID: 3003, Plan: plan.TierIndie, MonthlyLimit: 3000, IsActive: true,
		SubscriptionStatus: customerdomain.SubscriptionActive,
	})
	alreadyFree := seedCustomer(t, conn, customerdomain.Customer{
		ID: 3004, Plan: plan.TierFree, MonthlyLimit: 100, IsActive: true,
		SubscriptionStatus: customerdomain.SubscriptionExpired,
	})

	count, err := svc.SweepDowngrades(context.Background(), 50)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.Equal(t, plan.TierFree, fetchCustomer(t, conn, pastDue.ID).Plan)
	require.Equal(t, plan.TierFree, fetchCustomer(t, conn, expired.ID).Plan)
	require.Equal(t, plan.TierIndie, fetchCustomer(t, conn, healthy.ID).Plan)
	require.Equal(t, plan.TierFree, fetchCustomer(t, conn, alreadyFree.ID).Plan)

	var event auditdomain.AuditEvent
	require.NoError(t, conn.First(&event, "customer_id = ?", pastDue.ID).Error)
	require.NotNil(t, event.Reason)
	require.Equal(t, string(usagedomain.DowngradePaymentFailed), *event.Reason)

	event = auditdomain.AuditEvent{}
	require.NoError(t, conn.First(&event, "customer_id = ?", expired.ID).Error)
	require.NotNil(t, event.Reason)
	require.Equal(t, string(usagedomain.DowngradeSubscriptionExpired), *event.Reason)

	count, err = svc.SweepDowngrades(context.Background(), 50)
	require.NoError(t, err)
	require.Zero(t, count)
}
