package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TestSetupNoopWhenEndpointEmpty verifies tracing stays off without an endpoint.
func TestSetupNoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), "lobby", "lobby-1", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, ok := otel.GetTextMapPropagator().(propagation.TraceContext)
	require.True(t, ok, "trace context propagator should be installed")
}

// TestSetupCreatesProviderWhenEndpointSet uses a non-routable address so no
// export happens; shutdown must still flush cleanly.
func TestSetupCreatesProviderWhenEndpointSet(t *testing.T) {
	shutdown, err := Setup(context.Background(), "duels", "duel-1", "http://192.0.2.1:4318")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
