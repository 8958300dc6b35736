// internal/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
	"github.com/rovshanmuradov/solsniperx/internal/trader"
)

type handlers struct {
	trader        Trader
	surveillance  SurveillanceState
	trades        TradeLister
	market        market.Provider
	scorer        scoring.Scorer
	orders        executor.Executor
	wallet        WalletBalance
	walletAddress string
	orderTimeout  time.Duration
	logger        *zap.Logger
}

type statusResponse struct {
	trader.Status
	Surveillance string `json:"surveillance"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) start(c *gin.Context) {
	if !h.trader.Start() {
		respondOK(c, http.StatusOK, gin.H{"enabled": true}, "Auto-trading already running")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"enabled": true}, "Auto-trading started")
}

func (h *handlers) stop(c *gin.Context) {
	if !h.trader.Stop() {
		respondOK(c, http.StatusOK, gin.H{"enabled": false}, "Auto-trading already stopped")
		return
	}
	respondOK(c, http.StatusOK, gin.H{"enabled": false}, "Auto-trading stopped")
}

func (h *handlers) getConfig(c *gin.Context) {
	respondOK(c, http.StatusOK, h.trader.Config(), "")
}

func (h *handlers) updateConfig(c *gin.Context) {
	var partial map[string]interface{}
	if err := c.ShouldBindJSON(&partial); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if len(partial) == 0 {
		respondError(c, http.StatusBadRequest, "Empty configuration update", "")
		return
	}

	next, err := h.trader.UpdateConfig(partial)
	if err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			respondError(c, http.StatusBadRequest, "Invalid configuration", err.Error())
			return
		}
		h.logger.Error("Failed to update trading config", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to save configuration", "")
		return
	}
	respondOK(c, http.StatusOK, next, "Configuration updated")
}

func (h *handlers) status(c *gin.Context) {
	resp := statusResponse{Status: h.trader.Status(), Surveillance: "disabled"}
	if resp.Positions == nil {
		resp.Positions = []trader.Position{}
	}
	if h.surveillance != nil {
		resp.Surveillance = string(h.surveillance.State())
	}
	respondOK(c, http.StatusOK, resp, "")
}

func (h *handlers) listTrades(c *gin.Context) {
	if h.trades == nil {
		respondOK(c, http.StatusOK, []models.Trade{}, "")
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "Invalid limit", "")
			return
		}
		limit = n
	}

	trades, err := h.trades.ListTrades(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list trades", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to load trades", "")
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	respondOK(c, http.StatusOK, trades, "")
}
