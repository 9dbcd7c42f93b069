package config

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	loadCounterOnce sync.Once
	loadCounter     metric.Int64Counter
)

// recordConfigValidationEvent counts Load outcomes so a bad rollout shows up before the
// first request fails.
func recordConfigValidationEvent(ctx context.Context, appEnv, outcome, errorClass string) {
	loadCounterOnce.Do(func() {
		c, err := otel.Meter("identity-core/config").Int64Counter(
			"config.validation.events",
			metric.WithDescription("config loads by environment, outcome and error class"),
		)
		if err == nil {
			loadCounter = c
		}
	})
	if loadCounter == nil {
		return
	}
	loadCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", normalizeConfigProfile(appEnv)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

func normalizeConfigProfile(appEnv string) string {
	if v := strings.ToLower(strings.TrimSpace(appEnv)); v != "" {
		return v
	}
	return "unknown"
}

// classifyConfigLoadError buckets the wrapped errors produced by load.
func classifyConfigLoadError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.HasPrefix(msg, "load env file"):
		return "env_file"
	case strings.HasPrefix(msg, "validate config:"):
		return "validation"
	case strings.HasPrefix(msg, "parse env:") && strings.Contains(msg, "required"):
		return "missing_required"
	case strings.HasPrefix(msg, "parse env:"):
		return "parse"
	default:
		return "load"
	}
}
