package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeCounter(t *testing.T) {
	c := NewCollector()
	c.Trade("sell", "stop_loss", "success")
	c.Trade("sell", "stop_loss", "success")
	c.Trade("buy", "", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.trades.WithLabelValues("sell", "stop_loss", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.trades.WithLabelValues("buy", "", "failed")))
}

func TestSurveillanceStateIsExclusive(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.surveillanceState.WithLabelValues("disconnected")))

	c.SurveillanceState("subscribed")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.surveillanceState.WithLabelValues("subscribed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.surveillanceState.WithLabelValues("disconnected")))

	c.SurveillanceReconnect()
	c.SurveillanceEvent("rugpull_alert")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.surveillanceResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.surveillanceEvents.WithLabelValues("rugpull_alert")))
}

func TestHandlerExposesNamespace(t *testing.T) {
	c := NewCollector()
	c.OpenPositions(3)
	c.CycleDuration(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "solsniperx_open_positions 3")
	assert.Contains(t, string(body), "solsniperx_cycle_duration_seconds_count 1")
}

func TestCollectorsAreIndependent(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	a.OpenPositions(5)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.openPositions))
}
