package cloudmetrics

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/sendora/internal/config"
	"github.com/smallbiznis/sendora/internal/plan"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, pusher Pusher, logger *zap.Logger) *CloudMetrics {
		if pusher == nil {
			return nil
		}
		instance := strings.TrimSpace(cfg.Cloud.OrganizationID)
		if instance == "" {
			instance = "oss"
		}
		return New(prometheus.NewRegistry(), pusher, instance, cfg.AppVersion, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, c *CloudMetrics, cfg config.Config, logger *zap.Logger, db *gorm.DB) {
		if c == nil {
			return
		}

		if logger == nil {
			logger = zap.NewNop()
		}

		interval := cfg.Cloud.Metrics.PushInterval
		if interval <= 0 {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting cloud metrics background worker")
				go pushLoop(ctx, c, db, interval, logger)
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)

func pushLoop(ctx context.Context, c *CloudMetrics, db *gorm.DB, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snapshotAndPush(ctx, c, db, logger)
	for {
		select {
		case <-ticker.C:
			snapshotAndPush(ctx, c, db, logger)
		case <-ctx.Done():
			logger.Info("stopping cloud metrics background worker")
			return
		}
	}
}

func snapshotAndPush(ctx context.Context, c *CloudMetrics, db *gorm.DB, logger *zap.Logger) {
	updateSystemMetrics(c)
	updateTenantCounts(ctx, c, db)
	if err := c.Push(ctx); err != nil {
		logger.Warn("cloud metrics push failed", zap.Error(err))
	}
}

func updateSystemMetrics(c *CloudMetrics) {
	if c == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	c.SetMemoryUsage(m.Sys)
}

// updateTenantCounts refreshes the accounting gauges from a DB
// snapshot. Query failures leave the previous values in place.
func updateTenantCounts(ctx context.Context, c *CloudMetrics, db *gorm.DB) {
	if c == nil || db == nil {
		return
	}

	for _, tier := range plan.Tiers() {
		var count int64
		err := db.WithContext(ctx).Table("customers").
			Where("plan = ? AND is_active", tier).
			Count(&count).Error
		if err != nil {
			return
		}
		c.SetTenantsForPlan(string(tier), count)
	}

	var verified int64
	if err := db.WithContext(ctx).Table("customers").
		Where("domain_verified AND is_active").
		Count(&verified).Error; err != nil {
		return
	}
	c.SetVerifiedDomains(verified)

	var pending int64
	if err := db.WithContext(ctx).Table("customers").
		Where("sending_domain IS NOT NULL AND NOT domain_verified AND is_active").
		Count(&pending).Error; err != nil {
		return
	}
	c.SetPendingDomains(pending)

	var usage struct{ Total int64 }
	if err := db.WithContext(ctx).Table("customers").
		Select("COALESCE(SUM(usage_count), 0) AS total").
		Where("is_active").
		Scan(&usage).Error; err != nil {
		return
	}
	c.SetUsageTotal(usage.Total)
}
