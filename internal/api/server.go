// internal/api/server.go
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/storage/models"
	"github.com/rovshanmuradov/solsniperx/internal/surveillance"
	"github.com/rovshanmuradov/solsniperx/internal/trader"
)

const (
	shutdownTimeout     = 5 * time.Second
	defaultOrderTimeout = 60 * time.Second
)

// Trader is the control surface the API drives.
type Trader interface {
	Start() bool
	Stop() bool
	Status() trader.Status
	Config() config.TradingConfig
	UpdateConfig(partial map[string]interface{}) (config.TradingConfig, error)
}

// SurveillanceState reports the chain subscription state.
type SurveillanceState interface {
	State() surveillance.State
}

// TradeLister reads the trade journal.
type TradeLister interface {
	ListTrades(ctx context.Context, limit int) ([]models.Trade, error)
}

// WalletBalance reads the trading wallet's SOL balance.
type WalletBalance interface {
	SOLBalance(ctx context.Context) (decimal.Decimal, error)
}

// ServerConfig wires the server. Optional collaborators left nil disable
// their routes.
type ServerConfig struct {
	Addr         string
	Trader       Trader
	Surveillance SurveillanceState
	Trades       TradeLister
	Market       market.Provider
	Scorer       scoring.Scorer
	Orders       executor.Executor
	Wallet       WalletBalance
	// WalletAddress is reported next to the balance.
	WalletAddress string
	// OrderTimeout bounds a manual order once it has been accepted.
	OrderTimeout time.Duration
	Hub          *Hub
	Metrics      http.Handler
	Logger       *zap.Logger
}

// Server is the HTTP request layer over the trader.
type Server struct {
	addr   string
	router *gin.Engine
	logger *zap.Logger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Trader == nil {
		return nil, errors.New("api server requires a trader")
	}
	if cfg.Addr == "" {
		cfg.Addr = config.DefaultHTTPAddr
	}
	log := cfg.Logger.Named("api")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(log), requestLogger(log))

	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = defaultOrderTimeout
	}

	h := &handlers{
		trader:        cfg.Trader,
		surveillance:  cfg.Surveillance,
		trades:        cfg.Trades,
		market:        cfg.Market,
		scorer:        cfg.Scorer,
		orders:        cfg.Orders,
		wallet:        cfg.Wallet,
		walletAddress: cfg.WalletAddress,
		orderTimeout:  cfg.OrderTimeout,
		logger:        log,
	}

	router.GET("/health", h.health)
	group := router.Group("/api/auto-trader")
	group.POST("/start", h.start)
	group.POST("/stop", h.stop)
	group.GET("/config", h.getConfig)
	group.PUT("/config", h.updateConfig)
	group.GET("/status", h.status)
	group.GET("/trades", h.listTrades)

	if cfg.Market != nil {
		router.GET("/api/tokens", h.listTokens)
		router.GET("/api/tokens/:address", h.getToken)
		router.POST("/api/scanner/scan", h.scan)
		if cfg.Scorer != nil {
			router.POST("/api/ai/analyze/:address", h.analyze)
		}
	}
	if cfg.Orders != nil {
		router.POST("/api/trading/buy", h.buy)
		router.POST("/api/trading/sell", h.sell)
	}
	if cfg.Wallet != nil {
		router.GET("/api/wallet/balance", h.walletBalance)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.Hub != nil {
		router.GET("/ws", func(c *gin.Context) {
			cfg.Hub.ServeWS(c.Writer, c.Request)
		})
	}

	return &Server{addr: cfg.Addr, router: router, logger: log}, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("🌐 API listening", zap.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// recovery turns a panic into the generic error envelope.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error("Handler panic",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", recovered))
		respondError(c, http.StatusInternalServerError, "Internal server error", "")
	})
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("duration", time.Since(start)))
	}
}
