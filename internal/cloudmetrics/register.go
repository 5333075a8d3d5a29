package cloudmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CloudMetrics is the fleet accounting snapshot an OSS install reports
// to the hosted control plane: tenant counts per plan, domain
// verification adoption and aggregate send volume. It deliberately
// carries no per-tenant identifiers.
type CloudMetrics struct {
	registry *prometheus.Registry
	pusher   Pusher
	logger   *zap.Logger

	tenantsTotal    *prometheus.GaugeVec
	verifiedDomains prometheus.Gauge
	pendingDomains  prometheus.Gauge
	usageTotal      prometheus.Gauge
	memorySys       prometheus.Gauge
}

// New registers the accounting gauges on a private registry so they
// never leak onto the public /metrics endpoint.
func New(registry *prometheus.Registry, pusher Pusher, instanceID, version string, logger *zap.Logger) *CloudMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	constLabels := prometheus.Labels{
		"instance_id": instanceID,
		"version":     version,
	}

	c := &CloudMetrics{
		registry: registry,
		pusher:   pusher,
		logger:   logger,
		tenantsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "sendora_tenants_total",
			Help:        "Tenants grouped by plan tier.",
			ConstLabels: constLabels,
		}, []string{"plan"}),
		verifiedDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sendora_verified_domains_total",
			Help:        "Tenants with a verified sending domain.",
			ConstLabels: constLabels,
		}),
		pendingDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sendora_pending_domains_total",
			Help:        "Tenants with a requested but unverified sending domain.",
			ConstLabels: constLabels,
		}),
		usageTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sendora_cycle_usage_total",
			Help:        "Sum of send counters across all tenants in the current cycle.",
			ConstLabels: constLabels,
		}),
		memorySys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sendora_process_memory_sys_bytes",
			Help:        "Memory obtained from the OS by the process.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(c.tenantsTotal, c.verifiedDomains, c.pendingDomains, c.usageTotal, c.memorySys)
	return c
}

func (c *CloudMetrics) SetTenantsForPlan(plan string, count int64) {
	if c == nil {
		return
	}
	c.tenantsTotal.WithLabelValues(plan).Set(float64(count))
}

func (c *CloudMetrics) SetVerifiedDomains(count int64) {
	if c == nil {
		return
	}
	c.verifiedDomains.Set(float64(count))
}

func (c *CloudMetrics) SetPendingDomains(count int64) {
	if c == nil {
		return
	}
	c.pendingDomains.Set(float64(count))
}

func (c *CloudMetrics) SetUsageTotal(count int64) {
	if c == nil {
		return
	}
	c.usageTotal.Set(float64(count))
}

func (c *CloudMetrics) SetMemoryUsage(bytes uint64) {
	if c == nil {
		return
	}
	c.memorySys.Set(float64(bytes))
}

// Push sends the current snapshot. A nil pusher turns it into a no-op
// so OSS installs without an endpoint configured pay nothing.
func (c *CloudMetrics) Push(ctx context.Context) error {
	if c == nil || c.pusher == nil {
		return nil
	}
	return c.pusher.Push(ctx, c.registry)
}
