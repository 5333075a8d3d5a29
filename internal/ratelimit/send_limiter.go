package ratelimit

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/sendora/internal/config"
	customerdomain "github.com/smallbiznis/sendora/internal/customer/domain"
	obsmetrics "github.com/smallbiznis/sendora/internal/observability/metrics"
	"github.com/smallbiznis/sendora/internal/plan"
)

const sendBucketKey = "sendora:ratelimit:%s"

// SendLimiter throttles outbound sends per tenant at the plan's per-minute
// rate. Burst capacity equals the per-minute rate, so a quiet tenant can
// flush a full minute's worth at once and then settles to a steady drip.
type SendLimiter struct {
	bucket   *TokenBucket
	catalog  *config.CatalogHolder
	failOpen bool
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

type SendLimiterParams struct {
	fx.In

	Client  *redis.Client
	Config  config.Config
	Catalog *config.CatalogHolder
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// NewSendLimiter returns nil when Redis is not configured; callers treat a
// nil limiter as always-allow.
func NewSendLimiter(p SendLimiterParams) *SendLimiter {
	if p.Client == nil {
		return nil
	}
	return &SendLimiter{
		bucket:   NewTokenBucket(p.Client),
		catalog:  p.Catalog,
		failOpen: p.Config.RateLimit.FailOpenOnOutage,
		log:      p.Log.Named("ratelimit.send"),
		metrics:  p.Metrics,
	}
}

func (l *SendLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow spends one send token for the customer. When Redis is unreachable
// and fail-open is configured the send is allowed with a warning; monthly
// quota enforcement still applies downstream.
func (l *SendLimiter) Allow(ctx context.Context, customer customerdomain.Customer) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	ent, ok := l.catalog.Get().Lookup(customer.Plan)
	if !ok {
		return Decision{}, fmt.Errorf("%w: no rate limit for plan %q", plan.ErrInvalidCatalog, customer.Plan)
	}

	key := fmt.Sprintf(sendBucketKey, customer.ID)
	perSecond := float64(ent.RateLimitPerMinute) / 60
	decision, err := l.bucket.Allow(ctx, key, perSecond, ent.RateLimitPerMinute)
	if err != nil {
		if !l.failOpen {
			return Decision{}, fmt.Errorf("send rate limiter: %w", err)
		}
		l.log.Warn("send rate limiter unreachable, allowing send",
			zap.String("tenant_id", customer.ID.String()),
			zap.Error(err),
		)
		l.metrics.RecordSendAllowed(ctx, string(customer.Plan))
		return Decision{Allowed: true, Limit: ent.RateLimitPerMinute, Remaining: -1}, nil
	}

	if decision.Allowed {
		l.metrics.RecordSendAllowed(ctx, string(customer.Plan))
	} else {
		l.metrics.RecordSendDenied(ctx, string(customer.Plan), "rate_limited")
	}
	return decision, nil
}
