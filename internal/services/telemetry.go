package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leaderboard-system/internal/observability"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type telemetry struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// withTelemetry wraps a service operation with a span, attempt/failure
// counters, a duration histogram and panic recovery.
func withTelemetry[T any](
	ctx context.Context,
	t telemetry,
	operation string,
	attrs []attribute.KeyValue,
	op func(ctx context.Context) (T, error),
) (result T, err error) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
	defer span.End()

	t.metrics.OperationAttempts.WithLabelValues(operation).Inc()
	start := time.Now()
	defer func() {
		t.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s: %v", ErrStorage, operation, r)
			t.logger.Error().Str("operation", operation).Interface("panic", r).Msg("panic recovered")
			t.metrics.OperationFailures.WithLabelValues(operation).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			var zero T
			result = zero
		}
	}()

	result, err = op(ctx)
	if err != nil {
		t.metrics.OperationFailures.WithLabelValues(operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		// Caller mistakes are not worth more than a debug line.
		event := t.logger.Warn()
		if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
			event = t.logger.Debug()
		}
		event.Err(err).Str("operation", operation).Msg("operation failed")
		return result, fmt.Errorf("%s: %w", operation, err)
	}
	return result, nil
}
