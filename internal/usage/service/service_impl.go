package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"github.com/smallbiznis/sendora/internal/plan"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSweepBatch = 100

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Catalog *config.CatalogHolder
	Repo    usagedomain.Repository
	Audit   auditdomain.Service
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	catalog *config.CatalogHolder
	repo    usagedomain.Repository
	audit   auditdomain.Service
	metrics *obsmetrics.Metrics
}

func NewService(p Params) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		clock:   p.Clock,
		catalog: p.Catalog,
		repo:    p.Repo,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

// IncrementUsage adds one send to the counter in a single UPDATE. No
// read-modify-write, no limit check: sends past the limit are the
// gate's business, not the counter's.
func (s *Service) IncrementUsage(ctx context.Context, tenantID snowflake.ID) error {
	if tenantID == 0 {
		return usagedomain.ErrInvalidTenant
	}

	rows, err := s.repo.IncrementUsage(ctx, s.db, tenantID, s.clock.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return customerdomain.ErrCustomerNotFound
	}

	s.metrics.RecordUsageIncrement(ctx)
	return nil
}

// TryCharge spends one send against the monthly limit. Two callers racing
// on the last send cannot both win: the limit check rides inside the
// UPDATE. A failed charge still returns current stats so the caller can
// report remaining quota.
func (s *Service) TryCharge(ctx context.Context, tenantID snowflake.ID) (usagedomain.Stats, bool, error) {
	if tenantID == 0 {
		return usagedomain.Stats{}, false, usagedomain.ErrInvalidTenant
	}

	rows, err := s.repo.ChargeUsage(ctx, s.db, tenantID, s.clock.Now())
	if err != nil {
		return usagedomain.Stats{}, false, err
	}

	// The re-read also disambiguates a zero-row charge: missing customer
	// and unconfigured limit surface as their usual errors here.
	stats, err := s.GetUsageStats(ctx, tenantID)
	if err != nil {
		return usagedomain.Stats{}, false, err
	}
	if rows == 0 {
		return stats, false, nil
	}

	s.metrics.RecordUsageIncrement(ctx)
	return stats, true, nil
}

func (s *Service) GetUsageStats(ctx context.Context, tenantID snowflake.ID) (usagedomain.Stats, error) {
	if tenantID == 0 {
		return usagedomain.Stats{}, usagedomain.ErrInvalidTenant
	}

	row, err := s.repo.GetUsage(ctx, s.db, tenantID)
	if err != nil {
		return usagedomain.Stats{}, err
	}
	if row == nil {
		return usagedomain.Stats{}, customerdomain.ErrCustomerNotFound
	}
	if row.MonthlyLimit <= 0 {
		return usagedomain.Stats{}, fmt.Errorf("%w: customer %s", usagedomain.ErrLimitNotConfigured, tenantID)
	}

	remaining := row.MonthlyLimit - row.UsageCount
	if remaining < 0 {
		remaining = 0
	}
	percentage := math.Round(float64(row.UsageCount)/float64(row.MonthlyLimit)*100*100) / 100

	return usagedomain.Stats{
		Usage:               row.UsageCount,
		Limit:               row.MonthlyLimit,
		Remaining:           remaining,
		PercentageUsed:      percentage,
		ResetAt:             row.UsageResetAt,
		BillingCycleStartAt: row.BillingCycleStartAt,
	}, nil
}

func (s *Service) ResetMonthlyUsage(ctx context.Context, tenantID snowflake.ID) error {
	return s.ResetMonthlyUsageTo(ctx, tenantID, 0)
}

// ResetMonthlyUsageTo starts a fresh 30-day window from now with the
// given counter value. Re-invocation is never a no-op: the window
// always restarts at invocation time.
func (s *Service) ResetMonthlyUsageTo(ctx context.Context, tenantID snowflake.ID, value int64) error {
	if tenantID == 0 {
		return usagedomain.ErrInvalidTenant
	}
	if value < 0 {
		return usagedomain.ErrInvalidResetValue
	}

	if err := s.applyReset(ctx, s.db, tenantID, value); err != nil {
		return err
	}
	s.auditReset(ctx, tenantID, value)
	return nil
}

func (s *Service) DowngradeToFreePlan(ctx context.Context, tenantID snowflake.ID, reason usagedomain.DowngradeReason) error {
	if tenantID == 0 {
		return usagedomain.ErrInvalidTenant
	}
	switch reason {
	case usagedomain.DowngradeSubscriptionExpired, usagedomain.DowngradePaymentFailed:
	default:
		return fmt.Errorf("%w: %q", usagedomain.ErrInvalidReason, reason)
	}

	row, err := s.repo.GetUsage(ctx, s.db, tenantID)
	if err != nil {
		return err
	}
	if row == nil {
		return customerdomain.ErrCustomerNotFound
	}
	if row.Plan == plan.TierFree {
		return nil
	}

	rows, err := s.applyDowngrade(ctx, s.db, tenantID)
	if err != nil {
		return err
	}
	if rows == 0 {
		// Lost a race with another downgrade; the row is FREE now.
		return nil
	}

	s.finishDowngrade(ctx, tenantID, row.Plan, reason)
	return nil
}

func (s *Service) SweepDueResets(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimStart := time.Now()
		claimed, err := s.repo.ClaimDueForReset(ctx, tx, s.clock.Now(), batchSize)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceCustomersForReset, time.Since(claimStart))
		if err != nil {
			return err
		}
		for _, id := range claimed {
			if err := s.applyReset(ctx, tx, id, 0); err != nil {
				return err
			}
		}
		ids = claimed
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		s.auditReset(ctx, id, 0)
	}
	return len(ids), nil
}

func (s *Service) SweepDowngrades(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}

	var candidates []usagedomain.DowngradeCandidate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimStart := time.Now()
		claimed, err := s.repo.ClaimDueForDowngrade(ctx, tx, batchSize)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceCustomersForDowngrade, time.Since(claimStart))
		if err != nil {
			return err
		}
		for _, candidate := range claimed {
			if _, err := s.applyDowngrade(ctx, tx, candidate.ID); err != nil {
				return err
			}
		}
		candidates = claimed
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, candidate := range candidates {
		s.finishDowngrade(ctx, candidate.ID, candidate.Plan, reasonForStatus(candidate.SubscriptionStatus))
	}
	return len(candidates), nil
}

func (s *Service) applyReset(ctx context.Context, db *gorm.DB, id snowflake.ID, value int64) error {
	now := s.clock.Now()
	rows, err := s.repo.ResetUsage(ctx, db, id, usagedomain.ResetParams{
		Value:        value,
		ResetAt:      now.Add(customerdomain.CycleDuration),
		CycleStartAt: now,
		UpdatedAt:    now,
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return customerdomain.ErrCustomerNotFound
	}
	return nil
}

func (s *Service) auditReset(ctx context.Context, id snowflake.ID, value int64) {
	s.log.Info("monthly usage reset",
		zap.String("customer_id", id.String()),
		zap.Int64("usage_count", value),
	)
	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionUsageReset,
		Metadata: map[string]any{
			"usage_count": value,
		},
	})
}

func (s *Service) applyDowngrade(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	ent, ok := s.catalog.Get().Lookup(plan.TierFree)
	if !ok {
		return 0, plan.ErrInvalidCatalog
	}
	now := s.clock.Now()
	return s.repo.DowngradeToFree(ctx, db, id, usagedomain.DowngradeParams{
		MonthlyLimit: ent.MonthlyLimit,
		ResetAt:      now.Add(customerdomain.CycleDuration),
		CycleStartAt: now,
		DowngradedAt: now,
		UpdatedAt:    now,
	})
}

// finishDowngrade logs, audits, and counts a committed downgrade. Warn,
// not error: delinquency is an expected business event.
func (s *Service) finishDowngrade(ctx context.Context, id snowflake.ID, from plan.Tier, reason usagedomain.DowngradeReason) {
	s.log.Warn("customer downgraded to free plan",
		zap.String("customer_id", id.String()),
		zap.String("previous_plan", string(from)),
		zap.String("reason", string(reason)),
	)
	s.audit.Record(ctx, auditdomain.Event{
		CustomerID: id,
		Action:     auditdomain.ActionPlanDowngraded,
		Reason:     string(reason),
		Metadata: map[string]any{
			"from": string(from),
			"to":   string(plan.TierFree),
		},
	})
	s.metrics.RecordPlanDowngrade(ctx, string(reason))
}

func reasonForStatus(status string) usagedomain.DowngradeReason {
	if status == string(customerdomain.SubscriptionPastDue) {
		return usagedomain.DowngradePaymentFailed
	}
	return usagedomain.DowngradeSubscriptionExpired
}
