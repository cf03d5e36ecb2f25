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

// Metrics exposes application-level instruments for the credit pipeline.
type Metrics struct {
	creditsAdded      metric.Int64Counter
	creditsConsumed   metric.Int64Counter
	versionConflicts  metric.Int64Counter
	limitRejections   metric.Int64Counter
	lowCreditWarnings metric.Int64Counter
	balancePushes     metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditflow"
	}
	meter := provider.Meter(name)

	creditsAdded, err := meter.Int64Counter("creditflow_credits_added_total")
	if err != nil {
		return nil, err
	}
	creditsConsumed, err := meter.Int64Counter("creditflow_credits_consumed_total")
	if err != nil {
		return nil, err
	}
	versionConflicts, err := meter.Int64Counter("creditflow_version_conflicts_total")
	if err != nil {
		return nil, err
	}
	limitRejections, err := meter.Int64Counter("creditflow_limit_rejections_total")
	if err != nil {
		return nil, err
	}
	lowCreditWarnings, err := meter.Int64Counter("creditflow_low_credit_warnings_total")
	if err != nil {
		return nil, err
	}
	balancePushes, err := meter.Int64Counter("creditflow_balance_pushes_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		creditsAdded:      creditsAdded,
		creditsConsumed:   creditsConsumed,
		versionConflicts:  versionConflicts,
		limitRejections:   limitRejections,
		lowCreditWarnings: lowCreditWarnings,
		balancePushes:     balancePushes,
	}, nil
}

// RecordCreditsAdded counts granted credits.
func (m *Metrics) RecordCreditsAdded(ctx context.Context, amount int64) {
	if m == nil {
		return
	}
	m.creditsAdded.Add(ctx, amount)
}

// RecordCreditsConsumed counts deducted credits per resource type.
func (m *Metrics) RecordCreditsConsumed(ctx context.Context, resourceType string, amount int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("resource_type", strings.TrimSpace(resourceType)))
	m.creditsConsumed.Add(ctx, amount, metric.WithAttributes(attrs...))
}

// RecordConflict counts optimistic-concurrency conflicts per operation.
func (m *Metrics) RecordConflict(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.versionConflicts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLimitRejection counts rolling-window cap rejections per category.
func (m *Metrics) RecordLimitRejection(ctx context.Context, category string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("category", strings.TrimSpace(category)))
	m.limitRejections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLowCreditWarning counts low-balance warnings emitted.
func (m *Metrics) RecordLowCreditWarning(ctx context.Context) {
	if m == nil {
		return
	}
	m.lowCreditWarnings.Add(ctx, 1)
}

// RecordBalancePush counts realtime balance updates delivered.
func (m *Metrics) RecordBalancePush(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.balancePushes.Add(ctx, 1, metric.WithAttributes(attrs...))
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"resource_type": {},
	"operation":     {},
	"category":      {},
	"kind":          {},
	"endpoint":      {},
	"status_code":   {},
	"reason":        {},
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
