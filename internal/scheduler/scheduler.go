package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/config"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"github.com/smallbiznis/sendora/internal/plan"
	"github.com/smallbiznis/sendora/internal/ratelimit"
	"github.com/smallbiznis/sendora/internal/tenantcontext"
	usagedomain "github.com/smallbiznis/sendora/internal/usage/domain"
)

const (
	jobUsageReset            = "usage_reset"
	jobSubscriptionDowngrade = "subscription_downgrade"
	jobAuditRetention        = "audit_retention"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Catalog  *config.CatalogHolder
	UsageSvc usagedomain.Service
	AuditSvc auditdomain.Service
	Leases   *ratelimit.Leases
	Config   Config `optional:"true"`
}

// Scheduler drives the periodic entitlement sweeps: usage window resets,
// delinquent downgrades, and audit retention pruning.
type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	catalog  *config.CatalogHolder
	usageSvc usagedomain.Service
	auditSvc auditdomain.Service
	leases   *ratelimit.Leases
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Catalog == nil || p.UsageSvc == nil || p.AuditSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		catalog:  p.Catalog,
		usageSvc: p.UsageSvc,
		auditSvc: p.AuditSvc,
		leases:   p.Leases,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = tenantcontext.WithActor(ctx, "system", "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	sched := obsmetrics.Scheduler()
	sched.IncJobRun(name)

	err := fn(ctx)
	sched.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: the sweep picks the remainder up on the
	// next tick, so it degrades to lag rather than failure.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		sched.IncJobTimeout(name)
	}
	sched.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// withLease guards fn with a cross-replica job lease. A Redis outage runs
// the job anyway: every sweep is idempotent, and skipping would stall
// resets for as long as Redis is down.
func (s *Scheduler) withLease(name string, fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		lease, ok, err := s.leases.Acquire(ctx, name, s.cfg.LeaseTTL)
		if err != nil {
			s.logger(ctx).Warn("job lease unavailable, running without it",
				zap.String("job", name),
				zap.Error(err),
			)
		} else if !ok {
			s.logger(ctx).Debug("job lease held elsewhere",
				zap.String("job", name),
			)
			return nil
		}
		defer func() { _ = lease.Release(ctx) }()
		return fn(ctx)
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{jobUsageReset, func(ctx context.Context) error {
			return s.runJob(ctx, jobUsageReset, s.cfg.BatchSize, s.cfg.JobTimeout, s.withLease(jobUsageReset, s.UsageResetJob))
		}},
		{jobSubscriptionDowngrade, func(ctx context.Context) error {
			return s.runJob(ctx, jobSubscriptionDowngrade, s.cfg.BatchSize, s.cfg.JobTimeout, s.withLease(jobSubscriptionDowngrade, s.SubscriptionDowngradeJob))
		}},
		{jobAuditRetention, func(ctx context.Context) error {
			return s.runJob(ctx, jobAuditRetention, s.cfg.BatchSize, s.cfg.JobTimeout, s.withLease(jobAuditRetention, s.AuditRetentionJob))
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)
	sched := obsmetrics.Scheduler()

	for {
		lag := time.Since(nextRun)
		if lag > 0 {
			sched.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, name) {
			return true
		}
	}
	return false
}

// UsageResetJob drains the backlog of customers whose monthly window has
// elapsed, batch by batch, until a sweep comes back empty.
func (s *Scheduler) UsageResetJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobUsageReset, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	sched := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		processed, err := s.usageSvc.SweepDueResets(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.usage_reset.failed", jobUsageReset, err)
			return errors.Join(jobErr, err)
		}
		if processed == 0 {
			sched.IncBatchDeferred(jobUsageReset, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}
		run.AddProcessed(processed)
		sched.AddBatchProcessed(jobUsageReset, "customers", processed)
	}

	return jobErr
}

// SubscriptionDowngradeJob moves delinquent paid customers to FREE.
func (s *Scheduler) SubscriptionDowngradeJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobSubscriptionDowngrade, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	sched := obsmetrics.Scheduler()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		processed, err := s.usageSvc.SweepDowngrades(ctx, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.downgrade.failed", jobSubscriptionDowngrade, err)
			return errors.Join(jobErr, err)
		}
		if processed == 0 {
			sched.IncBatchDeferred(jobSubscriptionDowngrade, obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty)
			break
		}
		run.AddProcessed(processed)
		sched.AddBatchProcessed(jobSubscriptionDowngrade, "customers", processed)
	}

	return jobErr
}

// AuditRetentionJob prunes audit events past each plan's retention days.
// Plans with unlimited retention are skipped.
func (s *Scheduler) AuditRetentionJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, jobAuditRetention, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	sched := obsmetrics.Scheduler()
	now := s.clock.Now()
	catalog := s.catalog.Get()
	var jobErr error

	for _, tier := range plan.Tiers() {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		ent, ok := catalog.Lookup(tier)
		if !ok {
			continue
		}
		if ent.LogRetentionDays == plan.RetentionUnlimited {
			continue
		}

		cutoff := now.AddDate(0, 0, -ent.LogRetentionDays)
		pruneStart := time.Now()
		removed, err := s.auditSvc.PruneOlderThan(ctx, string(tier), cutoff)
		sched.ObserveDBLockWait(obsmetrics.LockResourceAuditForRetention, time.Since(pruneStart))
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.audit_retention.failed", jobAuditRetention, err,
				zap.String("plan", string(tier)),
			)
			continue
		}
		if removed > 0 {
			run.AddProcessed(int(removed))
			sched.AddBatchProcessed(jobAuditRetention, "audit_events", int(removed))
		}
	}

	return jobErr
}
