package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultScanIntervalSec, cfg.ScanIntervalSec)
	assert.Equal(t, 60_000_000_000, int(cfg.ScanInterval()))
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Surveillance.MaxReconnectAttempts)
	assert.Equal(t, uint64(DefaultLargeTransferThreshold), cfg.Surveillance.LargeTransferThreshold)
	assert.Equal(t, "processed", cfg.Surveillance.Commitment)
	assert.Equal(t, 20*time.Second, cfg.Surveillance.PingInterval())
	assert.Equal(t, time.Minute, cfg.Surveillance.IdleTimeout())
	assert.Equal(t, 30*time.Second, cfg.Surveillance.MinUptime())
	assert.Empty(t, cfg.License)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"http_addr": ":8088",
		"scan_interval_sec": 15,
		"surveillance": {"max_reconnect_attempts": 9, "commitment": "confirmed"}
	}`), 0o644))

	t.Setenv("SOLANA_RPC_URL", "https://rpc.example.org")
	t.Setenv("BIRDEYE_API_KEY", "birdeye-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8088", cfg.HTTPAddr)
	assert.Equal(t, 15, cfg.ScanIntervalSec)
	assert.Equal(t, 9, cfg.Surveillance.MaxReconnectAttempts)
	assert.Equal(t, "confirmed", cfg.Surveillance.Commitment)
	assert.Equal(t, "https://rpc.example.org", cfg.RPCURL)
	assert.Equal(t, "birdeye-key", cfg.BirdeyeAPIKey)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "zero scan interval", body: `{"scan_interval_sec": 0}`},
		{name: "bad rpc scheme", body: `{"rpc_url": "ftp://node"}`},
		{name: "unknown commitment", body: `{"surveillance": {"commitment": "instant"}}`},
		{name: "ping slower than idle timeout", body: `{"surveillance": {"ping_interval_sec": 90, "idle_timeout_sec": 60}}`},
		{name: "inverted backoff", body: `{"surveillance": {"initial_backoff_ms": 500, "max_backoff_ms": 100}}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o644))

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}
