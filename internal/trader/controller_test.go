package trader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solsniperx/internal/config"
	"github.com/rovshanmuradov/solsniperx/internal/events"
	"github.com/rovshanmuradov/solsniperx/internal/executor"
	"github.com/rovshanmuradov/solsniperx/internal/market"
	"github.com/rovshanmuradov/solsniperx/internal/scoring"
	"github.com/rovshanmuradov/solsniperx/internal/surveillance"
)

type fakeMarket struct {
	mu        sync.Mutex
	list      []market.Snapshot
	snaps     map[string]market.Snapshot
	listCalls int
}

func (m *fakeMarket) ListSnapshots(context.Context) ([]market.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return append([]market.Snapshot(nil), m.list...), nil
}

func (m *fakeMarket) GetSnapshot(_ context.Context, address string) (*market.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[address]
	if !ok {
		return nil, market.ErrNotFound
	}
	return &s, nil
}

func (m *fakeMarket) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

type fakeScorer struct {
	mu      sync.Mutex
	verdict scoring.Verdict
	err     error
	calls   int
}

func (s *fakeScorer) Score(context.Context, market.Snapshot) (scoring.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, s.err
}

func (s *fakeScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type order struct {
	token    string
	amount   decimal.Decimal
	slippage float64
}

type fakeExecutor struct {
	mu         sync.Mutex
	buyReceipt executor.Receipt
	buyErr     error
	sellErr    error
	buys       []order
	sells      []order

	// When set, Sell signals sellStarted and blocks until sellGate closes.
	sellGate    chan struct{}
	sellStarted chan struct{}
}

func (e *fakeExecutor) Buy(_ context.Context, token string, amount decimal.Decimal, slippage float64) (executor.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buys = append(e.buys, order{token, amount, slippage})
	return e.buyReceipt, e.buyErr
}

func (e *fakeExecutor) Sell(_ context.Context, token string, amount decimal.Decimal, slippage float64) (executor.Receipt, error) {
	if e.sellGate != nil {
		e.sellStarted <- struct{}{}
		<-e.sellGate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sells = append(e.sells, order{token, amount, slippage})
	return executor.Receipt{Signature: "sellSig"}, e.sellErr
}

func (e *fakeExecutor) Buys() []order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]order(nil), e.buys...)
}

func (e *fakeExecutor) Sells() []order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]order(nil), e.sells...)
}

type fakeBalances struct {
	amount decimal.Decimal
	err    error
	calls  int
}

func (b *fakeBalances) TokenBalance(context.Context, string) (decimal.Decimal, error) {
	b.calls++
	return b.amount, b.err
}

type fakeStore struct {
	mu  sync.Mutex
	cfg config.TradingConfig
}

func (s *fakeStore) Current() config.TradingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *fakeStore) Update(partial map[string]interface{}) (config.TradingConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := partial["slippage"].(float64); ok {
		s.cfg.Slippage = v
		return s.cfg, nil
	}
	return s.cfg, config.ErrInvalidConfig
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	ctrl      *Controller
	market    *fakeMarket
	scorer    *fakeScorer
	exec      *fakeExecutor
	balances  *fakeBalances
	publisher *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		market: &fakeMarket{snaps: map[string]market.Snapshot{}},
		scorer: &fakeScorer{verdict: scoring.Verdict{
			Recommendation: scoring.Buy, Probability: 85, Risk: scoring.RiskLow,
		}},
		exec: &fakeExecutor{buyReceipt: executor.Receipt{
			Signature: "buySig", TokenAmount: decimal.NewFromInt(1000),
		}},
		balances:  &fakeBalances{},
		publisher: &recordingPublisher{},
	}
	h.ctrl = NewController(Deps{
		Market:    h.market,
		Scorer:    h.scorer,
		Executor:  h.exec,
		Balances:  h.balances,
		Config:    &fakeStore{cfg: config.DefaultTradingConfig()},
		Publisher: h.publisher,
		Logger:    zaptest.NewLogger(t),
	}, Options{Interval: time.Hour})
	return h
}

func (h *harness) hold(address string, amount int64) {
	h.ctrl.ledger.Open(Position{
		TokenAddress: address,
		EntryPrice:   decimal.NewFromInt(1),
		TokenAmount:  decimal.NewFromInt(amount),
		EntryTime:    time.Now(),
	})
}

func TestScanSkipsTokensFailingEntryFilter(t *testing.T) {
	h := newHarness(t)
	low := passingSnapshot()
	low.Liquidity = 9999
	h.market.list = []market.Snapshot{low}

	h.ctrl.runCycle(context.Background())

	assert.Zero(t, h.scorer.Calls())
	assert.Empty(t, h.exec.Buys())
	assert.Empty(t, h.ctrl.Positions())
}

func TestScanBuysAndOpensPosition(t *testing.T) {
	h := newHarness(t)
	h.market.list = []market.Snapshot{passingSnapshot()}

	h.ctrl.runCycle(context.Background())

	buys := h.exec.Buys()
	require.Len(t, buys, 1)
	assert.Equal(t, "Mint111", buys[0].token)
	assert.True(t, buys[0].amount.Equal(decimal.NewFromFloat(0.01)))
	assert.Equal(t, 1.0, buys[0].slippage)

	positions := h.ctrl.Positions()
	require.Len(t, positions, 1)
	assert.True(t, positions[0].EntryPrice.Equal(decimal.NewFromInt(1)))
	assert.True(t, positions[0].TokenAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "buySig", positions[0].LastTransactionID)

	trades := h.publisher.ofType(events.AutoTrade)
	require.Len(t, trades, 1)
	assert.Equal(t, events.StatusSuccess, trades[0].(*events.AutoTradeEvent).Status)
}

func TestScanSkipsTokenWithoutPrice(t *testing.T) {
	h := newHarness(t)
	snap := passingSnapshot()
	snap.Price = 0
	h.market.list = []market.Snapshot{snap}

	h.ctrl.runCycle(context.Background())

	assert.Zero(t, h.scorer.Calls())
	assert.Empty(t, h.exec.Buys())
	assert.Empty(t, h.ctrl.Positions())
}

func TestHeldTokenIsNotRescanned(t *testing.T) {
	h := newHarness(t)
	h.market.list = []market.Snapshot{passingSnapshot()}

	h.ctrl.runCycle(context.Background())
	h.ctrl.runCycle(context.Background())

	assert.Equal(t, 1, h.scorer.Calls())
	assert.Len(t, h.exec.Buys(), 1)
}

func TestScanSkipsTokenWhenScoringFails(t *testing.T) {
	h := newHarness(t)
	h.market.list = []market.Snapshot{passingSnapshot()}
	h.scorer.err = errors.New("llm down")

	h.ctrl.runCycle(context.Background())

	assert.Empty(t, h.exec.Buys())
}

func TestFailedBuyCreatesNoPosition(t *testing.T) {
	h := newHarness(t)
	h.market.list = []market.Snapshot{passingSnapshot()}
	h.exec.buyErr = errors.New("swap failed")

	h.ctrl.runCycle(context.Background())

	assert.Len(t, h.exec.Buys(), 1)
	assert.Empty(t, h.ctrl.Positions())
	trades := h.publisher.ofType(events.AutoTrade)
	require.Len(t, trades, 1)
	ev := trades[0].(*events.AutoTradeEvent)
	assert.Equal(t, events.StatusFailed, ev.Status)
	assert.Equal(t, "swap failed", ev.Error)
}

func TestBuyLandingAfterStopIsNotTracked(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h.ctrl.buy(ctx, passingSnapshot(), h.scorer.verdict, config.DefaultTradingConfig())

	assert.Len(t, h.exec.Buys(), 1)
	assert.Empty(t, h.ctrl.Positions())
}

func TestMonitorExits(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		sellErr    error
		wantSells  int
		wantHeld   bool
		wantReason string
	}{
		{"profit target", 2.0, nil, 1, false, events.ReasonProfitTarget},
		{"stop loss", 0.79, nil, 1, false, events.ReasonStopLoss},
		{"inside the band", 1.5, nil, 0, true, ""},
		{"failed sell keeps position", 2.0, errors.New("no route"), 1, true, events.ReasonProfitTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.hold("Held111", 500)
			h.market.snaps["Held111"] = market.Snapshot{Address: "Held111", Price: tt.price}
			h.exec.sellErr = tt.sellErr

			h.ctrl.runCycle(context.Background())

			sells := h.exec.Sells()
			require.Len(t, sells, tt.wantSells)
			if tt.wantSells > 0 {
				assert.True(t, sells[0].amount.Equal(decimal.NewFromInt(500)))
				assert.Equal(t, 1.0, sells[0].slippage)
				ev := h.publisher.ofType(events.AutoTrade)[0].(*events.AutoTradeEvent)
				assert.Equal(t, tt.wantReason, ev.Reason)
			}
			assert.Equal(t, tt.wantHeld, h.ctrl.ledger.Has("Held111"))
		})
	}
}

func TestMonitorKeepsPositionWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	h.hold("Gone111", 500)

	h.ctrl.runCycle(context.Background())

	assert.Empty(t, h.exec.Sells())
	assert.True(t, h.ctrl.ledger.Has("Gone111"))
}

func TestMonitorKeepsPositionWithoutPrice(t *testing.T) {
	h := newHarness(t)
	h.hold("Held111", 500)
	h.market.snaps["Held111"] = market.Snapshot{Address: "Held111", Price: 0}

	h.ctrl.runCycle(context.Background())

	assert.Empty(t, h.exec.Sells())
	assert.True(t, h.ctrl.ledger.Has("Held111"))
}

func TestMonitorReconcilesUnknownAmount(t *testing.T) {
	h := newHarness(t)
	h.hold("Held111", 0)
	h.market.snaps["Held111"] = market.Snapshot{Address: "Held111", Price: 3}
	h.balances.amount = decimal.RequireFromString("42.5")

	h.ctrl.runCycle(context.Background())

	sells := h.exec.Sells()
	require.Len(t, sells, 1)
	assert.True(t, sells[0].amount.Equal(decimal.RequireFromString("42.5")))
	assert.False(t, h.ctrl.ledger.Has("Held111"))
}

func TestMonitorSkipsSellWhenAmountStaysUnknown(t *testing.T) {
	h := newHarness(t)
	h.hold("Held111", 0)
	h.market.snaps["Held111"] = market.Snapshot{Address: "Held111", Price: 3}
	h.balances.err = errors.New("rpc down")

	h.ctrl.runCycle(context.Background())

	assert.Equal(t, 1, h.balances.calls)
	assert.Empty(t, h.exec.Sells())
	assert.True(t, h.ctrl.ledger.Has("Held111"))
}

func TestHandleRugpull(t *testing.T) {
	tests := []struct {
		name      string
		held      bool
		amount    int64
		sellErr   error
		wantSells int
	}{
		{"unheld token", false, 0, nil, 0},
		{"held, sell succeeds", true, 700, nil, 1},
		{"held, sell fails", true, 700, errors.New("pool drained"), 1},
		{"held with no confirmed amount", true, 0, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.held {
				h.hold("Rug111", tt.amount)
			}
			h.exec.sellErr = tt.sellErr

			h.ctrl.HandleRugpull(context.Background(), surveillance.RugpullAlert{
				TokenAddress: "Rug111",
				Signature:    "sig",
				Reason:       surveillance.ReasonBurn,
			})

			sells := h.exec.Sells()
			require.Len(t, sells, tt.wantSells)
			if tt.wantSells > 0 {
				assert.Equal(t, EmergencySlippage, sells[0].slippage)
				assert.True(t, sells[0].amount.Equal(decimal.NewFromInt(tt.amount)))
			}
			assert.False(t, h.ctrl.ledger.Has("Rug111"))
			if !tt.held {
				assert.Empty(t, h.publisher.ofType(events.AutoTrade))
			}
		})
	}
}

func TestDuplicateRugpullAlertIsNoop(t *testing.T) {
	h := newHarness(t)
	h.hold("Rug111", 10)
	alert := surveillance.RugpullAlert{TokenAddress: "Rug111", Reason: surveillance.ReasonKeyword}

	h.ctrl.HandleRugpull(context.Background(), alert)
	h.ctrl.HandleRugpull(context.Background(), alert)

	assert.Len(t, h.exec.Sells(), 1)
}

func TestRugpullAndExitRaceSellOnce(t *testing.T) {
	for _, monitorFirst := range []bool{true, false} {
		name := "rugpull first"
		if monitorFirst {
			name = "monitor first"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.hold("Race111", 100)
			h.market.snaps["Race111"] = market.Snapshot{Address: "Race111", Price: 3}
			h.exec.sellGate = make(chan struct{})
			h.exec.sellStarted = make(chan struct{}, 2)

			alert := surveillance.RugpullAlert{TokenAddress: "Race111", Reason: surveillance.ReasonBurn}
			var wg sync.WaitGroup
			runMonitor := func() {
				defer wg.Done()
				h.ctrl.runCycle(context.Background())
			}
			runRugpull := func() {
				defer wg.Done()
				h.ctrl.HandleRugpull(context.Background(), alert)
			}

			wg.Add(2)
			if monitorFirst {
				go runMonitor()
				<-h.exec.sellStarted
				go runRugpull()
			} else {
				go runRugpull()
				<-h.exec.sellStarted
				go runMonitor()
			}
			time.Sleep(20 * time.Millisecond)
			close(h.exec.sellGate)
			wg.Wait()

			assert.Len(t, h.exec.Sells(), 1)
			assert.Equal(t, 0, h.ctrl.ledger.Len())
		})
	}
}

func TestStartStopIdempotent(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.ctrl.Stop(), "stop while disabled")
	assert.Empty(t, h.publisher.ofType(events.TradingStatus))

	require.True(t, h.ctrl.Start())
	assert.False(t, h.ctrl.Start())
	assert.True(t, h.ctrl.Enabled())

	require.Eventually(t, func() bool { return h.market.ListCalls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.market.ListCalls(), "exactly one cycle task")

	require.True(t, h.ctrl.Stop())
	assert.False(t, h.ctrl.Stop())
	assert.False(t, h.ctrl.Enabled())

	statuses := h.publisher.ofType(events.TradingStatus)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].(*events.TradingStatusEvent).Enabled)
	assert.False(t, statuses[1].(*events.TradingStatusEvent).Enabled)
}

func TestRestartRunsSingleCycleTask(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.ctrl.Start())
	require.Eventually(t, func() bool { return h.market.ListCalls() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, h.ctrl.Stop())
	require.True(t, h.ctrl.Start())
	require.Eventually(t, func() bool { return h.market.ListCalls() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, h.market.ListCalls())
	h.ctrl.Stop()
}

func TestRunConsumesQueuedAlerts(t *testing.T) {
	h := newHarness(t)
	h.hold("Rug111", 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	h.ctrl.OnSurveillanceEvent(surveillance.NewToken{Address: "New111"})
	h.ctrl.OnSurveillanceEvent(surveillance.RugpullAlert{TokenAddress: "Rug111", Reason: surveillance.ReasonBurn})

	require.Eventually(t, func() bool { return !h.ctrl.ledger.Has("Rug111") }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestAlertIntakeNeverBlocks(t *testing.T) {
	h := newHarness(t)
	h.ctrl = NewController(Deps{
		Market:   h.market,
		Scorer:   h.scorer,
		Executor: h.exec,
		Config:   &fakeStore{cfg: config.DefaultTradingConfig()},
		Logger:   zaptest.NewLogger(t),
	}, Options{AlertBuffer: 1})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.ctrl.OnSurveillanceEvent(surveillance.RugpullAlert{TokenAddress: "X"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("intake blocked")
	}
	assert.Len(t, h.ctrl.alerts, 1)
}

func TestUpdateConfig(t *testing.T) {
	h := newHarness(t)

	next, err := h.ctrl.UpdateConfig(map[string]interface{}{"slippage": 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, next.Slippage)
	assert.Equal(t, 2.5, h.ctrl.Config().Slippage)

	_, err = h.ctrl.UpdateConfig(map[string]interface{}{"bogus": 1})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	st := h.ctrl.Status()
	assert.False(t, st.Enabled)
	assert.Empty(t, st.Positions)
}
