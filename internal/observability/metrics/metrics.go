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
	consumeRequests metric.Int64Counter
	ledgerEntries   metric.Int64Counter
	transfers       metric.Int64Counter
	expirySweeps    metric.Int64Counter
	cacheLookups    metric.Int64Counter
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
		name = "tally"
	}
	meter := provider.Meter(name)

	consumeRequests, err := meter.Int64Counter("tally_consume_requests_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("tally_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	transfers, err := meter.Int64Counter("tally_transfers_total")
	if err != nil {
		return nil, err
	}
	expirySweeps, err := meter.Int64Counter("tally_expiry_sweeps_total")
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("tally_balance_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		consumeRequests: consumeRequests,
		ledgerEntries:   ledgerEntries,
		transfers:       transfers,
		expirySweeps:    expirySweeps,
		cacheLookups:    cacheLookups,
	}, nil
}

// RecordConsume counts a consumption attempt by outcome.
func (m *Metrics) RecordConsume(ctx context.Context, outcome string) {
	if m == nil || m.consumeRequests == nil {
		return
	}
	m.consumeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordLedgerEntry counts an appended ledger transaction by type.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, txType string) {
	if m == nil || m.ledgerEntries == nil {
		return
	}
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("type", txType)))
}

// RecordTransfer counts a transfer attempt by outcome.
func (m *Metrics) RecordTransfer(ctx context.Context, outcome string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordExpirySweep counts processed rows for one sweep run.
func (m *Metrics) RecordExpirySweep(ctx context.Context, expired int64) {
	if m == nil || m.expirySweeps == nil {
		return
	}
	m.expirySweeps.Add(ctx, expired)
}

// RecordCacheLookup counts a balance cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}
