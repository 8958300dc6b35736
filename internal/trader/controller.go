// internal/trader/controller.go
package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/logger"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/surveillance"
)

// ErrAmountUnknown means the held token amount could not be established, so
// nothing is sold.
var ErrAmountUnknown = errors.New("held token amount unknown")

const (
	DefaultInterval         = 60 * time.Second
	DefaultExecutionTimeout = 60 * time.Second
	DefaultAlertBuffer      = 64
	stopWaitTimeout         = 5 * time.Second
)

// BalanceReader resolves the wallet's whole-token balance for a mint.
type BalanceReader interface {
	TokenBalance(ctx context.Context, mint string) (decimal.Decimal, error)
}

// ConfigStore is the persisted TradingConfig.
type ConfigStore interface {
	Current() config.TradingConfig
	Update(partial map[string]interface{}) (config.TradingConfig, error)
}

// Metrics receives control-loop measurements.
type Metrics interface {
	Trade(side, reason, status string)
	CycleDuration(d time.Duration)
	OpenPositions(n int)
}

type nopMetrics struct{}

func (nopMetrics) Trade(string, string, string) {}
func (nopMetrics) CycleDuration(time.Duration)  {}
func (nopMetrics) OpenPositions(int)            {}

// Deps are the collaborators of the Controller.
type Deps struct {
	Market    market.Provider
	Scorer    scoring.Scorer
	Executor  executor.Executor
	Balances  BalanceReader
	Config    ConfigStore
	Publisher events.Publisher
	Metrics   Metrics
	Logger    *zap.Logger
}

// Options tune scheduling. Zero values take the defaults.
type Options struct {
	Interval         time.Duration
	ExecutionTimeout time.Duration
	AlertBuffer      int
}

// Status is what the request layer reports about the trader.
type Status struct {
	Enabled   bool                 `json:"enabled"`
	Positions []Position           `json:"positions"`
	Config    config.TradingConfig `json:"config"`
}

// Controller owns the position ledger and is the only issuer of buy and sell
// orders. The recurring cycle and rugpull handling run on separate goroutines
// and meet only inside the ledger.
type Controller struct {
	market    market.Provider
	scorer    scoring.Scorer
	exec      executor.Executor
	balances  BalanceReader
	cfg       ConfigStore
	publisher events.Publisher
	metrics   Metrics
	logger    *zap.Logger
	opts      Options

	ledger *Ledger
	alerts chan surveillance.RugpullAlert

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewController wires a controller. Trading starts disabled.
func NewController(deps Deps, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}
	if opts.AlertBuffer <= 0 {
		opts.AlertBuffer = DefaultAlertBuffer
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Controller{
		market:    deps.Market,
		scorer:    deps.Scorer,
		exec:      deps.Executor,
		balances:  deps.Balances,
		cfg:       deps.Config,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("trader"),
		opts:      opts,
		ledger:    NewLedger(),
		alerts:    make(chan surveillance.RugpullAlert, opts.AlertBuffer),
	}
}

// Start enables trading and schedules the cycle task. It reports false when
// trading was already enabled.
func (c *Controller) Start() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	prev := c.done
	done := make(chan struct{})
	c.enabled, c.cancel, c.done = true, cancel, done

	go c.loop(ctx, prev, done)

	c.logger.Info("🚀 Auto-trading started", zap.Duration("interval", c.opts.Interval))
	c.publishStatus(true, "Auto-trading started")
	return true
}

// Stop disables trading and cancels the cycle task. In-flight orders finish
// on their own. It reports false when trading was already disabled.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return false
	}
	c.enabled = false
	c.cancel()

	c.logger.Info("🛑 Auto-trading stopped")
	c.publishStatus(false, "Auto-trading stopped")
	return true
}

// Enabled reports whether trading is on.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Positions returns a copy of the held positions.
func (c *Controller) Positions() []Position {
	return c.ledger.Snapshot()
}

// Config returns the active trading config.
func (c *Controller) Config() config.TradingConfig {
	return c.cfg.Current()
}

// UpdateConfig merges partial into the trading config and persists it. The
// running cycle keeps its copy; the next cycle reads the new one.
func (c *Controller) UpdateConfig(partial map[string]interface{}) (config.TradingConfig, error) {
	next, err := c.cfg.Update(partial)
	if err != nil {
		return next, err
	}
	c.logger.Info("Trading config updated", zap.Any("config", next))
	return next, nil
}

// Status reports the enabled flag, the positions and the active config.
func (c *Controller) Status() Status {
	return Status{
		Enabled:   c.Enabled(),
		Positions: c.Positions(),
		Config:    c.Config(),
	}
}

// OnSurveillanceEvent is registered on the surveillance pipeline. It never
// blocks: when the intake is full the alert is dropped.
func (c *Controller) OnSurveillanceEvent(ev surveillance.Event) {
	alert, ok := ev.(surveillance.RugpullAlert)
	if !ok {
		return
	}
	select {
	case c.alerts <- alert:
	default:
		c.logger.Warn("Rugpull intake full, dropping alert",
			zap.String("token", alert.TokenAddress),
			zap.String("signature", alert.Signature))
	}
}

// Run consumes rugpull alerts until ctx is done, then stops trading and
// waits briefly for the cycle task to exit.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Rugpull intake running")
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			c.wait(stopWaitTimeout)
			return nil
		case alert := <-c.alerts:
			c.HandleRugpull(ctx, alert)
		}
	}
}

func (c *Controller) wait(timeout time.Duration) {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(timeout):
		c.logger.Warn("Timeout waiting for cycle task to exit")
	}
}

// HandleRugpull exits a held position at maximum slippage. The position is
// removed whether or not the sell succeeds. Unheld tokens are ignored, which
// also absorbs duplicate alerts.
func (c *Controller) HandleRugpull(ctx context.Context, alert surveillance.RugpullAlert) {
	address := alert.TokenAddress
	log := c.logger.With(
		zap.String("token", address),
		zap.String("signature", alert.Signature),
		zap.String("reason", alert.Reason))

	if address == "" {
		log.Debug("Rugpull alert without token address")
		return
	}

	held := c.ledger.WithPosition(address, func(p *Position) bool {
		if !p.TokenAmount.IsPositive() {
			log.Warn("⚠️ Rugpull on position with no confirmed amount, dropping it unsold")
			return true
		}

		log.Warn("🚨 Rugpull detected, emergency sell", zap.String("amount", p.TokenAmount.String()))
		receipt, err := c.execute(ctx, func(ctx context.Context) (executor.Receipt, error) {
			return c.exec.Sell(ctx, address, p.TokenAmount, EmergencySlippage)
		})
		c.reportSell(*p, events.ReasonRugpull, 0, receipt, err)
		return true
	})
	if held {
		c.metrics.OpenPositions(c.ledger.Len())
		return
	}
	log.Debug("Rugpull alert for unheld token")
}

func (c *Controller) loop(ctx context.Context, prev <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	for {
		c.runCycle(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle is one Scan then Monitor pass against a single config copy.
func (c *Controller) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	defer func() {
		c.metrics.CycleDuration(time.Since(start))
		c.metrics.OpenPositions(c.ledger.Len())
	}()
	defer logger.TrackPerformance(c.logger, "trading_cycle")()

	cfg := c.cfg.Current()
	c.scan(ctx, cfg)
	if ctx.Err() != nil {
		return
	}
	c.monitor(ctx, cfg)
}

func (c *Controller) scan(ctx context.Context, cfg config.TradingConfig) {
	snaps, err := c.market.ListSnapshots(ctx)
	if err != nil {
		c.logger.Warn("Market listing failed, skipping scan", zap.Error(err))
		return
	}
	c.logger.Debug("Scanning tokens", zap.Int("count", len(snaps)))

	for _, snap := range snaps {
		if ctx.Err() != nil {
			return
		}
		if snap.Address == "" || c.ledger.Has(snap.Address) {
			continue
		}
		if snap.Price <= 0 || !PassesEntryFilter(snap, cfg) {
			continue
		}

		verdict, err := c.scorer.Score(ctx, snap)
		if err != nil {
			c.logger.Warn("Scoring failed, skipping token",
				zap.String("token", snap.Address), zap.Error(err))
			continue
		}
		if !ShouldBuy(verdict, cfg) {
			c.logger.Debug("Token rejected by scorer",
				zap.String("token", snap.Address),
				zap.String("recommendation", string(verdict.Recommendation)),
				zap.Int("probability", verdict.Probability),
				zap.String("risk", string(verdict.Risk)))
			continue
		}

		c.buy(ctx, snap, verdict, cfg)
	}
}

func (c *Controller) buy(ctx context.Context, snap market.Snapshot, verdict scoring.Verdict, cfg config.TradingConfig) {
	amount := decimal.NewFromFloat(cfg.BuyAmountSOL)
	log := c.logger.With(zap.String("token", snap.Address), zap.String("symbol", snap.Symbol))
	log.Info("💰 Buying token",
		zap.String("amount_sol", amount.String()),
		zap.Int("probability", verdict.Probability),
		zap.String("risk", string(verdict.Risk)))

	receipt, err := c.execute(ctx, func(ctx context.Context) (executor.Receipt, error) {
		return c.exec.Buy(ctx, snap.Address, amount, cfg.Slippage)
	})

	ev := &events.AutoTradeEvent{
		BaseEvent:     events.NewBase(events.AutoTrade),
		Side:          events.TradeBuy,
		Token:         snap.Label(),
		Address:       snap.Address,
		AmountSOL:     amount.InexactFloat64(),
		Price:         snap.Price,
		TransactionID: receipt.Signature,
	}
	if err != nil {
		ev.Status, ev.Error = events.StatusFailed, err.Error()
		c.metrics.Trade(events.TradeBuy, "", events.StatusFailed)
		c.publish(ev)
		log.Error("❌ Buy failed", zap.Error(err))
		return
	}

	if ctx.Err() != nil {
		log.Warn("Buy confirmed after trading stopped, not tracking it",
			zap.String("signature", receipt.Signature))
		return
	}

	pos := Position{
		TokenAddress:      snap.Address,
		Symbol:            snap.Symbol,
		EntryPrice:        decimal.NewFromFloat(snap.Price),
		AmountSOL:         amount,
		TokenAmount:       receipt.TokenAmount,
		EntryTime:         time.Now().UTC(),
		LastTransactionID: receipt.Signature,
	}
	if !c.ledger.Open(pos) {
		log.Warn("Position already open, keeping the existing one")
	}

	ev.Status = events.StatusSuccess
	if receipt.TokenAmount.IsPositive() {
		ev.AmountTokens = receipt.TokenAmount.String()
	}
	c.metrics.Trade(events.TradeBuy, "", events.StatusSuccess)
	c.publish(ev)
	log.Info("✅ Buy confirmed",
		zap.String("signature", receipt.Signature),
		zap.String("tokens", receipt.TokenAmount.String()))
}

func (c *Controller) monitor(ctx context.Context, cfg config.TradingConfig) {
	for _, pos := range c.ledger.Snapshot() {
		if ctx.Err() != nil {
			return
		}

		snap, err := c.market.GetSnapshot(ctx, pos.TokenAddress)
		if err != nil {
			level := zap.WarnLevel
			if errors.Is(err, market.ErrNotFound) {
				level = zap.DebugLevel
			}
			c.logger.Log(level, "Snapshot unavailable, keeping position",
				zap.String("token", pos.TokenAddress), zap.Error(err))
			continue
		}
		// Providers report 0 when they have no price.
		if snap.Price <= 0 {
			c.logger.Warn("Snapshot has no price, keeping position",
				zap.String("token", pos.TokenAddress))
			continue
		}

		current := decimal.NewFromFloat(snap.Price)
		reason, ok := ExitDecision(pos.EntryPrice, current, cfg)
		if !ok {
			continue
		}
		c.exit(ctx, pos.TokenAddress, reason, snap.Price, cfg)
	}
}

func (c *Controller) exit(ctx context.Context, address, reason string, price float64, cfg config.TradingConfig) {
	log := c.logger.With(zap.String("token", address), zap.String("reason", reason))

	c.ledger.WithPosition(address, func(p *Position) bool {
		if !p.TokenAmount.IsPositive() {
			if err := c.reconcile(ctx, p); err != nil {
				log.Warn("Cannot sell, held amount unresolved", zap.Error(err))
				return false
			}
		}

		log.Info("📈 Exit triggered, selling",
			zap.String("amount", p.TokenAmount.String()),
			zap.Float64("price", price))
		receipt, err := c.execute(ctx, func(ctx context.Context) (executor.Receipt, error) {
			return c.exec.Sell(ctx, address, p.TokenAmount, cfg.Slippage)
		})
		c.reportSell(*p, reason, price, receipt, err)
		if err != nil {
			return false
		}
		if ctx.Err() != nil {
			log.Warn("Sell confirmed after trading stopped", zap.String("signature", receipt.Signature))
		}
		return true
	})
}

// reconcile fills in an unknown held amount from the wallet balance.
func (c *Controller) reconcile(ctx context.Context, p *Position) error {
	if c.balances == nil {
		return ErrAmountUnknown
	}
	amount, err := c.balances.TokenBalance(ctx, p.TokenAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAmountUnknown, err)
	}
	if !amount.IsPositive() {
		return ErrAmountUnknown
	}
	p.TokenAmount = amount
	c.logger.Info("Reconciled held amount from wallet",
		zap.String("token", p.TokenAddress), zap.String("amount", amount.String()))
	return nil
}

func (c *Controller) reportSell(p Position, reason string, price float64, receipt executor.Receipt, err error) {
	ev := &events.AutoTradeEvent{
		BaseEvent:     events.NewBase(events.AutoTrade),
		Side:          events.TradeSell,
		Token:         p.label(),
		Address:       p.TokenAddress,
		AmountTokens:  p.TokenAmount.String(),
		Price:         price,
		Reason:        reason,
		TransactionID: receipt.Signature,
		Status:        events.StatusSuccess,
	}
	if err != nil {
		ev.Status, ev.Error = events.StatusFailed, err.Error()
		c.logger.Error("❌ Sell failed",
			zap.String("token", p.TokenAddress), zap.String("reason", reason), zap.Error(err))
	} else {
		c.logger.Info("✅ Sell confirmed",
			zap.String("token", p.TokenAddress),
			zap.String("reason", reason),
			zap.String("signature", receipt.Signature))
	}
	c.metrics.Trade(events.TradeSell, reason, ev.Status)
	c.publish(ev)
}

// execute runs an order detached from stop cancellation, bounded by the
// execution timeout.
func (c *Controller) execute(ctx context.Context, fn func(context.Context) (executor.Receipt, error)) (executor.Receipt, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ExecutionTimeout)
	defer cancel()
	return fn(callCtx)
}

func (c *Controller) publish(ev events.Event) {
	if err := c.publisher.Publish(ev); err != nil {
		c.logger.Debug("Event not published", zap.String("event_type", string(ev.Type())), zap.Error(err))
	}
}

func (c *Controller) publishStatus(enabled bool, msg string) {
	c.publish(&events.TradingStatusEvent{
		BaseEvent: events.NewBase(events.TradingStatus),
		Enabled:   enabled,
		Message:   msg,
	})
}
