package trader

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
)

func passingSnapshot() market.Snapshot {
	return market.Snapshot{
		Address:   "Mint111",
		Symbol:    "MEME",
		Price:     1.0,
		Liquidity: 10000,
		Volume24h: 50000,
		AgeHours:  24,
	}
}

func TestPassesEntryFilter(t *testing.T) {
	cfg := config.DefaultTradingConfig()

	tests := []struct {
		name   string
		mutate func(*market.Snapshot)
		want   bool
	}{
		{"at every threshold", func(*market.Snapshot) {}, true},
		{"liquidity just below", func(s *market.Snapshot) { s.Liquidity = 9999 }, false},
		{"too old", func(s *market.Snapshot) { s.AgeHours = 24.5 }, false},
		{"volume just below", func(s *market.Snapshot) { s.Volume24h = 49999 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := passingSnapshot()
			tt.mutate(&snap)
			assert.Equal(t, tt.want, PassesEntryFilter(snap, cfg))
		})
	}
}

func TestShouldBuy(t *testing.T) {
	cfg := config.DefaultTradingConfig()

	tests := []struct {
		name    string
		verdict scoring.Verdict
		maxRisk string
		want    bool
	}{
		{"buy low risk", scoring.Verdict{Recommendation: scoring.Buy, Probability: 80, Risk: scoring.RiskLow}, "Medium", true},
		{"buy at min probability", scoring.Verdict{Recommendation: scoring.Buy, Probability: 70, Risk: scoring.RiskMedium}, "Medium", true},
		{"probability below min", scoring.Verdict{Recommendation: scoring.Buy, Probability: 69, Risk: scoring.RiskLow}, "Medium", false},
		{"hold", scoring.Verdict{Recommendation: scoring.Hold, Probability: 95, Risk: scoring.RiskLow}, "Medium", false},
		{"high risk even when allowed", scoring.Verdict{Recommendation: scoring.Buy, Probability: 95, Risk: scoring.RiskHigh}, "High", false},
		{"medium over low ceiling", scoring.Verdict{Recommendation: scoring.Buy, Probability: 95, Risk: scoring.RiskMedium}, "Low", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.MaxRiskLevel = tt.maxRisk
			assert.Equal(t, tt.want, ShouldBuy(tt.verdict, c))
		})
	}
}

func TestExitDecision(t *testing.T) {
	cfg := config.DefaultTradingConfig()
	cfg.ProfitTargetX = 2.0
	cfg.StopLossPercentage = 0.2

	tests := []struct {
		name       string
		entry      float64
		current    float64
		wantReason string
		wantOK     bool
	}{
		{"profit target reached", 1.0, 2.0, events.ReasonProfitTarget, true},
		{"stop loss reached", 1.0, 0.79, events.ReasonStopLoss, true},
		{"stop loss boundary", 1.0, 0.8, events.ReasonStopLoss, true},
		{"in between", 1.0, 1.5, "", false},
		{"zero entry never exits", 0, 5, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ExitDecision(decimal.NewFromFloat(tt.entry), decimal.NewFromFloat(tt.current), cfg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}
