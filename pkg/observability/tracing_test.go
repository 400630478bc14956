package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhdali93/poolbench/pkg/observability"
)

func TestInitStartPhaseShutdown(t *testing.T) {
	// Zero sampling keeps the stdout exporter quiet during tests.
	require.NoError(t, observability.Init(observability.TracingConfig{
		ServiceName:    "poolbench-test",
		ServiceVersion: "0.0.0",
		SamplingRate:   0,
	}))

	ctx, span := observability.StartPhase(context.Background(), "insert", "pooled")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()

	assert.NotNil(t, observability.GetTracer())
	require.NoError(t, observability.Shutdown(context.Background()))
}
