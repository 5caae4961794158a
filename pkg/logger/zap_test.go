package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &ZapLogger{logger: zap.New(core)}, logs
}

func TestConvertFieldsTypes(t *testing.T) {
	l, logs := newObserved()

	l.Info("step finished",
		String("step", "ingest"),
		Int("rows", 10),
		Int64("bytes", 2048),
		Float64("rmse", 1.25),
		Bool("deployed", true),
		Duration("took", 2*time.Second),
		Error(errors.New("boom")),
		Any("shape", []int{10, 3}),
	)

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "ingest", ctx["step"])
	assert.EqualValues(t, 10, ctx["rows"])
	assert.EqualValues(t, 2048, ctx["bytes"])
	assert.Equal(t, 1.25, ctx["rmse"])
	assert.Equal(t, true, ctx["deployed"])
	assert.Equal(t, 2*time.Second, ctx["took"])
	assert.Equal(t, "boom", ctx["error"])
}

func TestWithContextAddsRunID(t *testing.T) {
	l, logs := newObserved()

	ctx := ContextWithRunID(context.Background(), "run-123")
	l.WithContext(ctx).Info("hello")
	l.WithContext(context.Background()).Info("no run")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "run-123", entries[0].ContextMap()["run_id"])
	_, ok := entries[1].ContextMap()["run_id"]
	assert.False(t, ok)
}

func TestNewZapLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewZapLogger("development", "loud")
	assert.Error(t, err)

	l, err := NewZapLogger("production", "warn")
	require.NoError(t, err)
	assert.NotNil(t, l)
}
