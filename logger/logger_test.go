package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New(Config{Level: "debug", Encoding: "console", Development: true})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_Invalid(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.ErrorContains(t, err, "invalid log level")

	_, err = New(Config{Encoding: "xml"})
	assert.ErrorContains(t, err, "invalid log encoding")
}

func TestNew_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tap.log")
	l, err := New(Config{Level: "info", File: file, MaxBackups: 1})
	require.NoError(t, err)

	l.Info("synced", zap.String("stream", "friends"))
	_ = l.Sync()

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"synced"`)
	assert.Contains(t, string(b), `"stream":"friends"`)
}

func TestWithContext(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tap.log")
	require.NoError(t, Init(Config{File: file}))
	t.Cleanup(func() { globalLogger = nil })

	ctx := context.WithValue(context.Background(), StreamKey, "coupons")
	ctx = context.WithValue(ctx, RunIDKey, "run-1")
	WithContext(ctx).Warn("slow page")
	_ = Sync()

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"stream":"coupons"`)
	assert.Contains(t, string(b), `"run_id":"run-1"`)
	assert.Contains(t, string(b), `"level":"warn"`)
}
