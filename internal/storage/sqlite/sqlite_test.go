package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open("  ", zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestTradesNewestFirst(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, side := range []string{"buy", "sell", "buy"} {
		tr := &models.Trade{Side: side, Address: "Mint111", Status: "success"}
		tr.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, j.SaveTrade(ctx, tr))
		assert.NotZero(t, tr.ID)
	}

	trades, err := j.ListTrades(ctx, 2)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "buy", trades[0].Side)
	assert.True(t, trades[0].CreatedAt.After(trades[1].CreatedAt))
}

func TestAlertsRoundTrip(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	require.NoError(t, j.SaveAlert(ctx, &models.Alert{
		Signature:    "sig1",
		TokenAddress: "Mint111",
		Reason:       "Token burn",
		Details:      `{"amount":"5"}`,
	}))

	alerts, err := j.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Token burn", alerts[0].Reason)
	assert.Equal(t, `{"amount":"5"}`, alerts[0].Details)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, defaultListLimit, clampLimit(0))
	assert.Equal(t, maxListLimit, clampLimit(10_000))
	assert.Equal(t, 7, clampLimit(7))
}
