// internal/trader/policy.go
package trader

import (
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
)

// EmergencySlippage is the tolerance, in percent, used for rugpull exits.
const EmergencySlippage = 100.0

// PassesEntryFilter applies the liquidity, age and volume thresholds.
func PassesEntryFilter(s market.Snapshot, cfg config.TradingConfig) bool {
	return s.Liquidity >= cfg.MinLiquidity &&
		s.AgeHours <= cfg.MaxAgeHours &&
		s.Volume24h >= cfg.MinVolume24h
}

// ShouldBuy accepts a Buy verdict with enough probability whose risk is
// below High and within the configured maximum.
func ShouldBuy(v scoring.Verdict, cfg config.TradingConfig) bool {
	if v.Recommendation != scoring.Buy {
		return false
	}
	if float64(v.Probability) < cfg.MinAIProbabilityScore {
		return false
	}
	if v.Risk == scoring.RiskHigh {
		return false
	}
	maxRisk, ok := scoring.ParseRiskLevel(cfg.MaxRiskLevel)
	if !ok {
		maxRisk = scoring.RiskMedium
	}
	return v.Risk.Rank() <= maxRisk.Rank()
}

// ExitDecision returns the exit reason for a held position, checking the
// profit target before the stop-loss. A non-positive entry price never exits.
func ExitDecision(entry, current decimal.Decimal, cfg config.TradingConfig) (reason string, ok bool) {
	if !entry.IsPositive() {
		return "", false
	}
	target := entry.Mul(decimal.NewFromFloat(cfg.ProfitTargetX))
	if current.GreaterThanOrEqual(target) {
		return events.ReasonProfitTarget, true
	}
	floor := entry.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(cfg.StopLossPercentage)))
	if current.LessThanOrEqual(floor) {
		return events.ReasonStopLoss, true
	}
	return "", false
}
