package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func withObservedLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	old := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = old })
	return logs
}

func TestWithContextAttachesRunPoolPhase(t *testing.T) {
	logs := withObservedLogger(t)

	ctx := context.WithValue(context.Background(), RunIDKey, "run-42")
	ctx = context.WithValue(ctx, PoolKey, "users")
	ctx = context.WithValue(ctx, PhaseKey, "insert")

	WithContext(ctx).Info("checkpoint")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-42", fields["run_id"])
	assert.Equal(t, "users", fields["pool"])
	assert.Equal(t, "insert", fields["phase"])
}

func TestWithContextWithoutValues(t *testing.T) {
	logs := withObservedLogger(t)

	WithContext(context.Background()).Info("plain")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].ContextMap())
}
