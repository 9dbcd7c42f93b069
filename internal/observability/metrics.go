package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/identity-core/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "identity-core"

type AppMetrics struct {
	repositoryOps       metric.Int64Counter
	sessionValidations  metric.Int64Counter
	sessionsIssued      metric.Int64Counter
	sessionsSwept       metric.Int64Counter
	oauthCallbacks      metric.Int64Counter
	rateLimitDecisions  metric.Int64Counter
	rateLimitRetryAfter metric.Float64Histogram
	authAttempts        metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	var mp *sdkmetric.MeterProvider
	if !cfg.OTELMetricsEnabled {
		mp = sdkmetric.NewMeterProvider()
		logger.Info("otel metrics disabled")
	} else {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create metric resource: %w", err)
		}
		reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	}
	otel.SetMeterProvider(mp)
	if err := registerMetrics(mp.Meter(meterName)); err != nil {
		return nil, err
	}
	return mp, nil
}

func registerMetrics(meter metric.Meter) error {
	var (
		m   AppMetrics
		err error
	)
	if m.repositoryOps, err = meter.Int64Counter("repository.operations"); err != nil {
		return err
	}
	if m.sessionValidations, err = meter.Int64Counter("session.validations"); err != nil {
		return err
	}
	if m.sessionsIssued, err = meter.Int64Counter("session.issued"); err != nil {
		return err
	}
	if m.sessionsSwept, err = meter.Int64Counter("session.swept"); err != nil {
		return err
	}
	if m.oauthCallbacks, err = meter.Int64Counter("auth.oauth.callbacks"); err != nil {
		return err
	}
	if m.rateLimitDecisions, err = meter.Int64Counter("ratelimit.decisions"); err != nil {
		return err
	}
	if m.rateLimitRetryAfter, err = meter.Float64Histogram("ratelimit.retry_after", metric.WithUnit("s")); err != nil {
		return err
	}
	if m.authAttempts, err = meter.Int64Counter("auth.attempts"); err != nil {
		return err
	}
	metricsMu.Lock()
	appMetrics = &m
	metricsMu.Unlock()
	return nil
}

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordRepositoryOperation(ctx context.Context, entity, op, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.repositoryOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionValidation(ctx context.Context, kind, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionValidations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func RecordSessionIssued(ctx context.Context, kind string) {
	m := current()
	if m == nil {
		return
	}
	m.sessionsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordSessionsSwept(ctx context.Context, kind string, count int64) {
	m := current()
	if m == nil || count <= 0 {
		return
	}
	m.sessionsSwept.Add(ctx, count, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordOAuthCallback(ctx context.Context, provider, intent, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.oauthCallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("intent", intent),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, scope, decision, mode string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("decision", decision),
		attribute.String("mode", mode),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, scope string, retryAfter time.Duration) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitRetryAfter.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(attribute.String("scope", scope)))
}

func RecordAuthAttempt(ctx context.Context, method, status string) {
	m := current()
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}
