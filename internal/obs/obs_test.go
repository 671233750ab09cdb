package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	WithTrace(context.Background(), log, zap.Int64("target_id", 3)).Info("plain")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithTrace(ctx, log).Info("traced")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"target_id": int64(3)}, entries[0].ContextMap())
	assert.Equal(t, sc.TraceID().String(), entries[1].ContextMap()["trace_id"])
	assert.Equal(t, sc.SpanID().String(), entries[1].ContextMap()["span_id"])

	assert.Nil(t, WithTrace(ctx, nil))
}

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	l, err := NewLogger(&LogConfig{Level: "chatty", Service: "pagewatch/test"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger(&LogConfig{Level: "debug", Pretty: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestSetupOTel_EnabledNeedsEndpoint(t *testing.T) {
	_, err := SetupOTel(context.Background(), &OTELConfig{Enable: true})
	require.Error(t, err)

	o, err := SetupOTel(context.Background(), &OTELConfig{})
	require.NoError(t, err)
	require.NoError(t, o.Shutdown(context.Background()))
}
