package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")

	l, err := New(&Config{LogFile: logFile, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)

	l.Info("position opened", zap.String("token", "Mint111"))
	WithComponent(l.Logger, "trader").Warn("stop-loss triggered")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"position opened"`)
	assert.Contains(t, string(data), `"component":"trader"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNewNilConfigUsesDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 100, cfg.MaxSize)
	assert.False(t, cfg.Development)
}

func TestWithOperationAddsCorrelationID(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	WithOperation(base, "scan").Info("cycle")
	WithOperation(base, "scan").Info("cycle")

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()["correlation_id"]
	second := entries[1].ContextMap()["correlation_id"]
	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "scan", entries[0].ContextMap()["operation"])
}

func TestTrackPerformanceLogsDuration(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	end := TrackPerformance(zap.New(core), "monitor")
	end()

	entries := logs.FilterMessage("Operation completed").All()
	require.Len(t, entries, 1)
	_, ok := entries[0].ContextMap()["duration"]
	assert.True(t, ok)
}

func TestConsoleEncoderColorsLevel(t *testing.T) {
	enc := consoleEncoder()
	buf, err := enc.EncodeEntry(zapcore.Entry{Level: zapcore.WarnLevel, Message: "slow query"}, nil)
	require.NoError(t, err)
	defer buf.Free()

	line := buf.String()
	assert.Contains(t, line, colorYellow+"[WARN]"+colorReset)
	assert.Contains(t, line, "slow query")
}

func TestWithTransactionTagsSignature(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	WithTransaction(zap.New(core), "5igSig").Info("Transaction sent")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "5igSig", fields["tx_signature"])
	assert.Contains(t, fields, "tx_time")
}
