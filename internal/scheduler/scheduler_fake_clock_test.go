package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sendora/internal/audit/repository"
	auditservice "github.com/smallbiznis/sendora/internal/audit/service"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"github.com/smallbiznis/sendora/internal/plan"
	usagerepository "github.com/smallbiznis/sendora/internal/usage/repository"
	usageservice "github.com/smallbiznis/sendora/internal/usage/service"
	"github.com/smallbiznis/sendora/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestSchedulerRunOnceFakeClock32Days walks a simulated month of daily
// scheduler runs and verifies window resets, the delinquent downgrade,
// and per-plan audit retention along the way.
func TestSchedulerRunOnceFakeClock32Days(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "sendora", Environment: "test"})

	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&customerdomain.Customer{}, &auditdomain.AuditEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if err := conn.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}

	node, err := snowflake.NewNode(7)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(start)
	catalog := config.NewStaticCatalogHolder(plan.Default())

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepository.Provide(),
	})
	usageSvc := usageservice.NewService(usageservice.Params{
		DB:      conn,
		Log:     zap.NewNop(),
		Clock:   fake,
		Catalog: catalog,
		Repo:    usagerepository.Provide(),
		Audit:   auditSvc,
	})

	sched, err := New(Params{
		Log:      zap.NewNop(),
		Clock:    fake,
		Catalog:  catalog,
		UsageSvc: usageSvc,
		AuditSvc: auditSvc,
		Config: Config{
			RunInterval: time.Minute,
			BatchSize:   10,
			JobTimeout:  5 * time.Second,
			LeaseTTL:    time.Minute,
		},
	})
	if err != nil {
		t.Fatalf("New scheduler: %v", err)
	}

	const (
		freeID   = snowflake.ID(11)
		indieID  = snowflake.ID(12)
		lapsedID = snowflake.ID(13)
		steadyID = snowflake.ID(14)
	)

	seedCustomer(t, conn, customerdomain.Customer{
		ID: freeID, Plan: plan.TierFree, MonthlyLimit: 100, UsageCount: 40,
		UsageResetAt:        start.AddDate(0, 0, 10),
		BillingCycleStartAt: start.AddDate(0, 0, -20),
		IsActive:            true,
	})
	seedCustomer(t, conn, customerdomain.Customer{
		ID: indieID, Plan: plan.TierIndie, MonthlyLimit: 3000, UsageCount: 1500,
		UsageResetAt:        start.AddDate(0, 0, 5),
		BillingCycleStartAt: start.AddDate(0, 0, -25),
		IsActive:            true,
	})
	seedCustomer(t, conn, customerdomain.Customer{
		ID: lapsedID, Plan: plan.TierStartup, MonthlyLimit: 10000, UsageCount: 9000,
		UsageResetAt:        start.AddDate(0, 0, 40),
		BillingCycleStartAt: start.AddDate(0, 0, -10),
		IsActive:            true,
		SubscriptionStatus:  customerdomain.SubscriptionPastDue,
	})
	seedCustomer(t, conn, customerdomain.Customer{
		ID: steadyID, Plan: plan.TierStartup, MonthlyLimit: 10000, UsageCount: 10,
		UsageResetAt:        start.AddDate(0, 0, 100),
		BillingCycleStartAt: start,
		IsActive:            true,
	})

	seedEvent(t, conn, node, freeID, auditdomain.ActionPlanChanged, start.AddDate(0, 0, -10))
	seedEvent(t, conn, node, indieID, auditdomain.ActionPlanChanged, start.AddDate(0, 0, -10))
	seedEvent(t, conn, node, steadyID, auditdomain.ActionCustomerCreated, start.AddDate(0, 0, -100))

	ctx := context.Background()

	// Day 0: the PAST_DUE customer loses its paid plan, and the FREE
	// customer's 10-day-old event falls past the 7-day retention.
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce day 0: %v", err)
	}

	lapsed := fetchCustomer(t, conn, lapsedID)
	if lapsed.Plan != plan.TierFree {
		t.Fatalf("expected lapsed customer on FREE, got %s", lapsed.Plan)
	}
	if lapsed.PreviousPlan == nil || *lapsed.PreviousPlan != plan.TierStartup {
		t.Fatalf("expected previous plan STARTUP, got %v", lapsed.PreviousPlan)
	}
	if lapsed.UsageCount != 0 || lapsed.MonthlyLimit != 100 {
		t.Fatalf("expected zeroed usage on FREE limits, got %d/%d", lapsed.UsageCount, lapsed.MonthlyLimit)
	}
	if lapsed.SubscriptionStatus != customerdomain.SubscriptionExpired {
		t.Fatalf("expected EXPIRED after downgrade, got %s", lapsed.SubscriptionStatus)
	}
	if lapsed.DowngradedAt == nil {
		t.Fatal("expected DowngradedAt to be set")
	}
	if n := countEvents(t, conn, lapsedID, auditdomain.ActionPlanDowngraded); n != 1 {
		t.Fatalf("expected 1 downgrade audit event, got %d", n)
	}
	if n := countEvents(t, conn, freeID, auditdomain.ActionPlanChanged); n != 0 {
		t.Fatalf("expected FREE customer's stale event pruned, got %d", n)
	}
	if n := countEvents(t, conn, indieID, auditdomain.ActionPlanChanged); n != 1 {
		t.Fatalf("expected INDIE event inside 30d retention, got %d", n)
	}

	for day := 1; day <= 32; day++ {
		fake.Advance(24 * time.Hour)
		if err := sched.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce day %d: %v", day, err)
		}

		if day == 10 {
			free := fetchCustomer(t, conn, freeID)
			if free.UsageCount != 0 {
				t.Fatalf("day 10: expected FREE usage reset, got %d", free.UsageCount)
			}
			if !free.BillingCycleStartAt.Equal(start.AddDate(0, 0, 10)) {
				t.Fatalf("day 10: expected cycle start to roll, got %v", free.BillingCycleStartAt)
			}
		}
	}

	// Day 32 final state.
	free := fetchCustomer(t, conn, freeID)
	if free.UsageCount != 0 || !free.UsageResetAt.Equal(start.AddDate(0, 0, 40)) {
		t.Errorf("free: usage %d reset_at %v", free.UsageCount, free.UsageResetAt)
	}

	indie := fetchCustomer(t, conn, indieID)
	if indie.UsageCount != 0 || !indie.UsageResetAt.Equal(start.AddDate(0, 0, 35)) {
		t.Errorf("indie: usage %d reset_at %v", indie.UsageCount, indie.UsageResetAt)
	}
	if !indie.BillingCycleStartAt.Equal(start.AddDate(0, 0, 5)) {
		t.Errorf("indie: cycle start %v", indie.BillingCycleStartAt)
	}

	// The downgraded customer's window rolled again on day 30.
	lapsed = fetchCustomer(t, conn, lapsedID)
	if !lapsed.UsageResetAt.Equal(start.AddDate(0, 0, 60)) {
		t.Errorf("lapsed: reset_at %v", lapsed.UsageResetAt)
	}

	// Retention at day 32: the FREE customers keep only events younger
	// than 7 days, INDIE younger than 30, STARTUP everything.
	if n := countEvents(t, conn, freeID, ""); n != 0 {
		t.Errorf("free: expected all events pruned, got %d", n)
	}
	if n := countEvents(t, conn, indieID, ""); n != 1 {
		t.Errorf("indie: expected only the day-5 reset event, got %d", n)
	}
	if n := countEvents(t, conn, indieID, auditdomain.ActionUsageReset); n != 1 {
		t.Errorf("indie: expected reset event kept, got %d", n)
	}
	if n := countEvents(t, conn, lapsedID, auditdomain.ActionPlanDowngraded); n != 0 {
		t.Errorf("lapsed: expected downgrade event pruned under FREE retention, got %d", n)
	}
	if n := countEvents(t, conn, steadyID, auditdomain.ActionCustomerCreated); n != 1 {
		t.Errorf("steady: expected 100-day-old event kept on STARTUP, got %d", n)
	}

	runLabels := map[string]string{"service": "sendora", "env": "test", "job": jobUsageReset}
	if got := getCounterValue(t, registry, "sendora_scheduler_job_runs_total", runLabels); got != 33 {
		t.Errorf("expected 33 usage_reset runs, got %v", got)
	}
	processedLabels := map[string]string{"service": "sendora", "env": "test", "job": jobUsageReset, "resource": "customers"}
	if got := getCounterValue(t, registry, "sendora_scheduler_batch_processed_total", processedLabels); got != 3 {
		t.Errorf("expected 3 customers reset across the walk, got %v", got)
	}
}

func seedCustomer(t *testing.T, conn *gorm.DB, c customerdomain.Customer) {
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
	if err := conn.Create(&c).Error; err != nil {
		t.Fatalf("seed customer %d: %v", c.ID, err)
	}
}

func seedEvent(t *testing.T, conn *gorm.DB, node *snowflake.Node, customerID snowflake.ID, action string, createdAt time.Time) {
	t.Helper()
	event := auditdomain.AuditEvent{
		ID:         node.Generate(),
		CustomerID: customerID,
		ActorType:  string(auditdomain.ActorTypeSystem),
		Action:     action,
		CreatedAt:  createdAt,
	}
	if err := conn.Create(&event).Error; err != nil {
		t.Fatalf("seed event %s for %d: %v", action, customerID, err)
	}
}

func fetchCustomer(t *testing.T, conn *gorm.DB, id snowflake.ID) customerdomain.Customer {
	t.Helper()
	var c customerdomain.Customer
	if err := conn.First(&c, "id = ?", id).Error; err != nil {
		t.Fatalf("fetch customer %d: %v", id, err)
	}
	return c
}

func countEvents(t *testing.T, conn *gorm.DB, customerID snowflake.ID, action string) int64 {
	t.Helper()
	var n int64
	q := conn.Model(&auditdomain.AuditEvent{}).Where("customer_id = ?", customerID)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count events for %d: %v", customerID, err)
	}
	return n
}
