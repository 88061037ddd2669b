package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInitTracerProviderInstallsPropagation(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), ServiceName)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "dispatch item")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
}
