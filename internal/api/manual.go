// internal/api/manual.go
package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/trader"
)

type scanRequest struct {
	MinLiquidity *float64 `json:"minLiquidity"`
	MaxAge       *float64 `json:"maxAge"`
	MinVolume    *float64 `json:"minVolume"`
}

type scanCriteria struct {
	MinLiquidity float64 `json:"min_liquidity"`
	MaxAgeHours  float64 `json:"max_age_hours"`
	MinVolume    float64 `json:"min_volume"`
}

type scanResponse struct {
	Tokens     []market.Snapshot `json:"tokens"`
	Criteria   scanCriteria      `json:"scan_criteria"`
	TotalFound int               `json:"total_found"`
}

type analysisResponse struct {
	Token    market.Snapshot `json:"token"`
	Analysis scoring.Verdict `json:"analysis"`
}

type orderRequest struct {
	TokenAddress string          `json:"token_address"`
	AmountSOL    decimal.Decimal `json:"amount_sol"`
	AmountTokens decimal.Decimal `json:"amount_tokens"`
	Slippage     *float64        `json:"slippage"`
}

type balanceResponse struct {
	Address    string          `json:"address,omitempty"`
	SOLBalance decimal.Decimal `json:"sol_balance"`
}

func (h *handlers) listTokens(c *gin.Context) {
	snaps, err := h.market.ListSnapshots(c.Request.Context())
	if err != nil {
		h.logger.Warn("Token listing failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "Failed to fetch tokens", err.Error())
		return
	}
	if snaps == nil {
		snaps = []market.Snapshot{}
	}
	respondOK(c, http.StatusOK, snaps, "")
}

func (h *handlers) getToken(c *gin.Context) {
	snap, ok := h.lookup(c)
	if !ok {
		return
	}
	respondOK(c, http.StatusOK, snap, "")
}

// lookup resolves the :address parameter, answering 404 or 502 itself.
func (h *handlers) lookup(c *gin.Context) (market.Snapshot, bool) {
	address := c.Param("address")
	snap, err := h.market.GetSnapshot(c.Request.Context(), address)
	switch {
	case errors.Is(err, market.ErrNotFound), err == nil && snap == nil:
		respondError(c, http.StatusNotFound, "Token not found", "")
		return market.Snapshot{}, false
	case err != nil:
		h.logger.Warn("Token lookup failed", zap.String("token", address), zap.Error(err))
		respondError(c, http.StatusBadGateway, "Failed to fetch token details", err.Error())
		return market.Snapshot{}, false
	}
	return *snap, true
}

// scan applies the entry filter with per-request criteria. Omitted criteria
// fall back to the active trading config.
func (h *handlers) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	cfg := h.trader.Config()
	if req.MinLiquidity != nil {
		cfg.MinLiquidity = *req.MinLiquidity
	}
	if req.MaxAge != nil {
		cfg.MaxAgeHours = *req.MaxAge
	}
	if req.MinVolume != nil {
		cfg.MinVolume24h = *req.MinVolume
	}
	if cfg.MinLiquidity < 0 || cfg.MaxAgeHours <= 0 || cfg.MinVolume24h < 0 {
		respondError(c, http.StatusBadRequest, "Invalid scan criteria", "")
		return
	}

	snaps, err := h.market.ListSnapshots(c.Request.Context())
	if err != nil {
		h.logger.Warn("Scanner listing failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "Token scanning failed", err.Error())
		return
	}

	found := []market.Snapshot{}
	for _, snap := range snaps {
		if trader.PassesEntryFilter(snap, cfg) {
			found = append(found, snap)
		}
	}
	respondOK(c, http.StatusOK, scanResponse{
		Tokens: found,
		Criteria: scanCriteria{
			MinLiquidity: cfg.MinLiquidity,
			MaxAgeHours:  cfg.MaxAgeHours,
			MinVolume:    cfg.MinVolume24h,
		},
		TotalFound: len(found),
	}, "")
}

func (h *handlers) analyze(c *gin.Context) {
	snap, ok := h.lookup(c)
	if !ok {
		return
	}
	verdict, err := h.scorer.Score(c.Request.Context(), snap)
	if err != nil {
		h.logger.Warn("Token analysis failed", zap.String("token", snap.Address), zap.Error(err))
		respondError(c, http.StatusBadGateway, "AI analysis failed", err.Error())
		return
	}
	respondOK(c, http.StatusOK, analysisResponse{Token: snap, Analysis: verdict}, "")
}

func (h *handlers) buy(c *gin.Context) {
	req, slippage, ok := h.bindOrder(c)
	if !ok {
		return
	}
	if !req.AmountSOL.IsPositive() {
		respondError(c, http.StatusBadRequest, "Missing token_address or amount_sol", "")
		return
	}

	h.logger.Info("🛒 Manual buy requested",
		zap.String("token", req.TokenAddress),
		zap.String("amount_sol", req.AmountSOL.String()))
	h.order(c, "buy", func(ctx context.Context) (executor.Receipt, error) {
		return h.orders.Buy(ctx, req.TokenAddress, req.AmountSOL, slippage)
	})
}

// sell refuses tokens the auto-trader holds so its ledger stays in step with
// the wallet.
func (h *handlers) sell(c *gin.Context) {
	req, slippage, ok := h.bindOrder(c)
	if !ok {
		return
	}
	if !req.AmountTokens.IsPositive() {
		respondError(c, http.StatusBadRequest, "Missing token_address or amount_tokens", "")
		return
	}
	for _, p := range h.trader.Status().Positions {
		if p.TokenAddress == req.TokenAddress {
			respondError(c, http.StatusConflict, "Token is managed by the auto-trader", "")
			return
		}
	}

	h.logger.Info("🛒 Manual sell requested",
		zap.String("token", req.TokenAddress),
		zap.String("amount_tokens", req.AmountTokens.String()))
	h.order(c, "sell", func(ctx context.Context) (executor.Receipt, error) {
		return h.orders.Sell(ctx, req.TokenAddress, req.AmountTokens, slippage)
	})
}

func (h *handlers) bindOrder(c *gin.Context) (orderRequest, float64, bool) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return req, 0, false
	}
	if req.TokenAddress == "" {
		respondError(c, http.StatusBadRequest, "Missing token_address", "")
		return req, 0, false
	}
	slippage := h.trader.Config().Slippage
	if req.Slippage != nil {
		slippage = *req.Slippage
	}
	if slippage <= 0 || slippage > 100 {
		respondError(c, http.StatusBadRequest, "Slippage must be in (0, 100]", "")
		return req, 0, false
	}
	return req, slippage, true
}

// order runs a swap detached from the request so a client disconnect cannot
// abandon a transaction mid-flight.
func (h *handlers) order(c *gin.Context, side string, run func(context.Context) (executor.Receipt, error)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.orderTimeout)
	defer cancel()

	receipt, err := run(ctx)
	if err != nil {
		if errors.Is(err, executor.ErrInvalidToken) || errors.Is(err, executor.ErrInvalidAmount) {
			respondError(c, http.StatusBadRequest, "Invalid "+side+" order", err.Error())
			return
		}
		respondError(c, http.StatusBadGateway, "Failed to execute "+side+" order", err.Error())
		return
	}
	respondOK(c, http.StatusOK, receipt, "Order confirmed")
}

func (h *handlers) walletBalance(c *gin.Context) {
	balance, err := h.wallet.SOLBalance(c.Request.Context())
	if err != nil {
		h.logger.Warn("Wallet balance read failed", zap.Error(err))
		respondError(c, http.StatusBadGateway, "Failed to fetch wallet balance", err.Error())
		return
	}
	respondOK(c, http.StatusOK, balanceResponse{Address: h.walletAddress, SOLBalance: balance}, "")
}
