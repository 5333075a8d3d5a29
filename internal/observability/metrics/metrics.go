package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	usageIncrements     metric.Int64Counter
	featureChecks       metric.Int64Counter
	featureDenials      metric.Int64Counter
	domainVerifications metric.Int64Counter
	planDowngrades      metric.Int64Counter
	providerCalls       metric.Int64Counter
	sendAllowed         metric.Int64Counter
	sendDenied          metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sendora"
	}
	meter := provider.Meter(name)

	usageIncrements, err := meter.Int64Counter("sendora_usage_increments_total")
	if err != nil {
		return nil, err
	}
	featureChecks, err := meter.Int64Counter("sendora_feature_checks_total")
	if err != nil {
		return nil, err
	}
	featureDenials, err := meter.Int64Counter("sendora_feature_denials_total")
	if err != nil {
		return nil, err
	}
	domainVerifications, err := meter.Int64Counter("sendora_domain_verifications_total")
	if err != nil {
		return nil, err
	}
	planDowngrades, err := meter.Int64Counter("sendora_plan_downgrades_total")
	if err != nil {
		return nil, err
	}
	providerCalls, err := meter.Int64Counter("sendora_provider_calls_total")
	if err != nil {
		return nil, err
	}
	sendAllowed, err := meter.Int64Counter("sendora_send_rate_allowed_total")
	if err != nil {
		return nil, err
	}
	sendDenied, err := meter.Int64Counter("sendora_send_rate_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageIncrements:     usageIncrements,
		featureChecks:       featureChecks,
		featureDenials:      featureDenials,
		domainVerifications: domainVerifications,
		planDowngrades:      planDowngrades,
		providerCalls:       providerCalls,
		sendAllowed:         sendAllowed,
		sendDenied:          sendDenied,
	}, nil
}

// RecordUsageIncrement counts successful usage increments. The hot path
// never reads the row back, so there is deliberately no plan label here.
func (m *Metrics) RecordUsageIncrement(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageIncrements.Add(ctx, 1)
}

// RecordFeatureCheck counts gate evaluations by feature and plan.
func (m *Metrics) RecordFeatureCheck(ctx context.Context, feature, plan string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature", strings.TrimSpace(feature)),
		attribute.String("plan", strings.TrimSpace(plan)),
	)
	m.featureChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFeatureDenial counts gate denials by feature and reason.
func (m *Metrics) RecordFeatureDenial(ctx context.Context, feature, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("feature", strings.TrimSpace(feature)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.featureDenials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDomainVerification counts domain workflow outcomes.
func (m *Metrics) RecordDomainVerification(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.domainVerifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPlanDowngrade counts downgrades by reason.
func (m *Metrics) RecordPlanDowngrade(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.planDowngrades.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderCall counts domain-auth provider calls by operation and outcome.
func (m *Metrics) RecordProviderCall(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.providerCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSendAllowed counts sends admitted by the per-minute limiter.
func (m *Metrics) RecordSendAllowed(ctx context.Context, plan string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("plan", strings.TrimSpace(plan)))
	m.sendAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSendDenied counts sends rejected by the per-minute limiter.
func (m *Metrics) RecordSendDenied(ctx context.Context, plan, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("plan", strings.TrimSpace(plan)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.sendDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Tenant identifiers are deliberately absent: plans and features are the
// only dimensions with bounded cardinality.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"plan":        {},
	"feature":     {},
	"reason":      {},
	"result":      {},
	"operation":   {},
	"outcome":     {},
	"endpoint":    {},
	"status_code": {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
