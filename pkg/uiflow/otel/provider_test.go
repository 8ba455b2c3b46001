package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/tsarna/uiflow/pkg/uiflow/o11y"
)

func TestProviderInstruments(t *testing.T) {
	p := NewProviderFrom(
		metricnoop.NewMeterProvider().Meter("test"),
		tracenoop.NewTracerProvider().Tracer("test"),
	)
	ctx := context.Background()

	var metrics o11y.MetricsProvider = p
	var tracing o11y.TracingProvider = p

	assert.NotPanics(t, func() {
		metrics.Counter("room_actions_total").Add(ctx, 1, o11y.Label{Key: "room", Value: "r1"})
		metrics.Histogram("room_action_duration_seconds").Record(ctx, 0.25)
		metrics.Gauge("room_connections").Set(ctx, 3)

		spanCtx, span := tracing.StartSpan(ctx, "room.action")
		assert.NotNil(t, spanCtx)
		span.SetAttributes(o11y.Label{Key: "op_id", Value: "op-1"})
		o11y.EndSpan(span, errors.New("Not your turn"))
	})
}

func TestGlobalProvider(t *testing.T) {
	p := NewProvider("uiflow", "test")
	assert.NotNil(t, p.Counter("x"))
}
