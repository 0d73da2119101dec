package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-go/infrastructure/logger"
	"backtest-go/internal/engine"
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
	"backtest-go/risk"
	"backtest-go/sim"
	"backtest-go/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// bars 每根 bar open=close，high/low 上下各 1。
func bars(closes ...float64) market.Series {
	out := make(market.Series, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Timestamp: t0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

// scripted 按 tick 序号执行脚本的测试策略。
type scripted struct {
	strategy.Base
	script  map[int]func(s *scripted, snap market.Snapshot)
	onStop  func(s *scripted)
	tick    int
	updates []order.Order
	trades  []inventory.Trade
	errs    []error
	// 每个 tick 在 OnData 中看到的 AAPL 持仓
	seen []float64
}

func newScripted() *scripted {
	return &scripted{Base: strategy.NewBase(nil), script: map[int]func(*scripted, market.Snapshot){}}
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) OnStart() {
	s.tick = 0
	s.updates, s.trades, s.errs, s.seen = nil, nil, nil, nil
}

func (s *scripted) OnData(snap market.Snapshot) {
	s.tick++
	pos, _ := s.Position("AAPL")
	s.seen = append(s.seen, pos.Quantity)
	if f, ok := s.script[s.tick]; ok {
		f(s, snap)
	}
}

func (s *scripted) OnStop() {
	if s.onStop != nil {
		s.onStop(s)
	}
}

func (s *scripted) OnOrderUpdate(o order.Order) { s.updates = append(s.updates, o) }
func (s *scripted) OnTrade(t inventory.Trade)   { s.trades = append(s.trades, t) }

func (s *scripted) buyLimit(sym string, qty, px float64) {
	if _, err := s.Buy(sym, qty, order.TypeLimit, order.Price(px), nil); err != nil {
		s.errs = append(s.errs, err)
	}
}

type fixture struct {
	engine *engine.TradingEngine
	feed   *market.ReplayFeed
	strat  *scripted
}

func newFixture(t *testing.T, data map[string]market.Series, speed float64, cfg engine.Config) fixture {
	t.Helper()
	feed := market.NewReplayFeed(data, speed, logger.Nop())
	m, err := sim.NewMatcher(sim.Config{InitialCash: 100000, CommissionRate: 0.001}, logger.Nop())
	require.NoError(t, err)
	g, err := risk.NewGate(risk.DefaultLimits(), nil)
	require.NoError(t, err)
	s := newScripted()
	if cfg.ReplayTimeout == 0 {
		cfg.ReplayTimeout = 5 * time.Second
	}
	e, err := engine.New(cfg, engine.Components{
		Feed:     feed,
		Matcher:  m,
		Gate:     g,
		Strategy: s,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return fixture{engine: e, feed: feed, strat: s}
}

func TestPlaceOrderRequiresRunning(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100)}, 0, engine.Config{})
	o, err := f.engine.PlaceOrder(order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1, Price: order.Price(100)})
	assert.Nil(t, o)
	assert.ErrorIs(t, err, engine.ErrNotRunning)
	assert.Empty(t, f.engine.Orders("AAPL"))
	assert.ErrorIs(t, f.engine.CancelOrder("x"), engine.ErrNotRunning)
}

func TestStartStopIdempotent(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100)}, 0, engine.Config{})
	ctx := context.Background()
	assert.Equal(t, engine.StateIdle, f.engine.State())
	require.NoError(t, f.engine.Stop())
	assert.Equal(t, engine.StateIdle, f.engine.State())
	require.NoError(t, f.engine.Start(ctx))
	require.NoError(t, f.engine.Start(ctx))
	assert.Equal(t, engine.StateRunning, f.engine.State())
	require.NoError(t, f.engine.Stop())
	require.NoError(t, f.engine.Stop())
	assert.Equal(t, engine.StateStopped, f.engine.State())

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, f.engine.Start(cancelled))
}

func TestPlaceOrderValidationAndRisk(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100)}, 0, engine.Config{})
	require.NoError(t, f.engine.Start(context.Background()))
	defer f.engine.Stop()

	_, err := f.engine.PlaceOrder(order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1})
	assert.ErrorIs(t, err, order.ErrMissingLimitPrice)

	_, err = f.engine.PlaceOrder(order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeStopLimit, Quantity: 1, Price: order.Price(1)})
	assert.ErrorIs(t, err, order.ErrMissingStopPrice)

	// 无持仓的市价单无法估值
	_, err = f.engine.PlaceOrder(order.Request{Symbol: "AAPL", Side: order.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, engine.ErrRiskRejected)
	assert.ErrorIs(t, err, risk.ErrUnpriceable)
	assert.Empty(t, f.engine.Orders("AAPL"))
	assert.Equal(t, int64(1), f.engine.Statistics().RiskRejected)

	// 10% 的订单被缩到 5%
	o, err := f.engine.PlaceOrder(order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 100, Price: order.Price(100)})
	require.NoError(t, err)
	assert.InDelta(t, 50, o.Quantity, 1e-9)
	assert.Equal(t, order.StatusAccepted, o.Status)
	assert.Equal(t, order.TIFDay, o.TimeInForce)
	assert.Equal(t, int64(1), f.engine.Statistics().RiskResized)
}

func TestRunBacktestFillsOnNextTick(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 101, 102)}, 0, engine.Config{})
	f.strat.script[1] = func(s *scripted, _ market.Snapshot) { s.buyLimit("AAPL", 100, 100) }

	report, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	require.Empty(t, f.strat.errs)

	// 第二个 tick 撮合后策略才看到持仓
	assert.Equal(t, []float64{0, 50, 50}, f.strat.seen)

	require.Len(t, f.strat.trades, 1)
	tr := f.strat.trades[0]
	assert.Equal(t, 100.0, tr.Price)
	assert.InDelta(t, 50, tr.Quantity, 1e-9)
	assert.Equal(t, t0.AddDate(0, 0, 1), tr.Timestamp)

	// 成交必须指向已存在且已成交的订单
	for _, trade := range f.engine.Trades() {
		o, ok := f.engine.Order(trade.OrderID)
		require.True(t, ok, trade.OrderID)
		assert.Equal(t, order.StatusFilled, o.Status)
		assert.InDelta(t, trade.Quantity, o.FilledQuantity, 1e-9)
		assert.InDelta(t, trade.Price, o.AvgFillPrice, 1e-9)
		assert.Equal(t, trade.Symbol, o.Symbol)
	}

	require.Len(t, f.strat.updates, 1)
	assert.Equal(t, order.StatusFilled, f.strat.updates[0].Status)

	pf := f.engine.Portfolio()
	assert.InDelta(t, 100000-5000-5, pf.Cash, 1e-9)
	assert.InDelta(t, pf.Cash+50*102, pf.Equity(), 1e-9)

	assert.Equal(t, 3, report.Ticks)
	assert.Equal(t, 1, report.Trades)
	assert.InDelta(t, pf.Equity(), report.FinalEquity, 1e-9)
	assert.InDelta(t, 5, report.TotalCommission, 1e-9)
	assert.Equal(t, engine.StateStopped, f.engine.State())
	assert.False(t, f.feed.Running())

	curve := f.engine.EquityCurve()
	require.Len(t, curve, 3)
	assert.Equal(t, 100000.0, curve[0].Equity)
	assert.InDelta(t, 100000-5005+50*101, curve[1].Equity, 1e-9)
}

func TestRunBacktestRestartIsDeterministic(t *testing.T) {
	f := newFixture(t, map[string]market.Series{
		"AAPL": bars(100, 99, 97, 104, 98),
		"MSFT": bars(300, 301, 302),
	}, 0, engine.Config{})
	f.strat.script[1] = func(s *scripted, _ market.Snapshot) { s.buyLimit("AAPL", 100, 100) }
	f.strat.script[3] = func(s *scripted, _ market.Snapshot) {
		if _, err := s.Close("AAPL"); err != nil {
			s.errs = append(s.errs, err)
		}
	}

	first, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	second, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)

	require.Len(t, first.TradeLog, 2)
	require.Len(t, second.TradeLog, 2)
	for i := range first.TradeLog {
		a, b := first.TradeLog[i], second.TradeLog[i]
		assert.Equal(t, a.Symbol, b.Symbol)
		assert.Equal(t, a.Side, b.Side)
		assert.Equal(t, a.Quantity, b.Quantity)
		assert.Equal(t, a.Price, b.Price)
		assert.Equal(t, a.Timestamp, b.Timestamp)
		assert.NotEqual(t, a.OrderID, b.OrderID)
	}
	assert.Equal(t, first.EquityCurve, second.EquityCurve)
	assert.Equal(t, first.FinalEquity, second.FinalEquity)
	assert.Equal(t, 1, second.ClosingTrades)
	assert.Len(t, f.engine.Trades(), 2)
	assert.Equal(t, int64(2), f.engine.Statistics().Runs)

	_, held := f.engine.Position("AAPL")
	assert.False(t, held)
}

func TestRunBacktestTimeoutForcesStop(t *testing.T) {
	// 每秒 1 个 tick，超时远小于回放时长
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 101, 102, 103, 104)}, 1, engine.Config{
		ReplayTimeout: 50 * time.Millisecond,
	})
	start := time.Now()
	report, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Less(t, report.Ticks, 5)
	assert.False(t, f.feed.Running())
}

func TestRunBacktestContextCancel(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 101, 102, 103, 104)}, 1, engine.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := f.engine.RunBacktest(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, report)
	assert.False(t, f.feed.Running())
}

func TestOnStopOrdersAcceptedButUnfilled(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 101)}, 0, engine.Config{})
	f.strat.script[1] = func(s *scripted, _ market.Snapshot) { s.buyLimit("AAPL", 100, 100) }
	f.strat.onStop = func(s *scripted) {
		if _, err := s.Close("AAPL"); err != nil {
			s.errs = append(s.errs, err)
		}
	}
	_, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	require.Empty(t, f.strat.errs)

	orders := f.engine.Orders("AAPL")
	require.Len(t, orders, 2)
	assert.Equal(t, order.StatusFilled, orders[0].Status)
	assert.Equal(t, order.SideSell, orders[1].Side)
	assert.Equal(t, order.StatusAccepted, orders[1].Status)
	pos, ok := f.engine.Position("AAPL")
	require.True(t, ok)
	assert.InDelta(t, 50, pos.Quantity, 1e-9)
}

func TestConcurrentStopRunsOnStopOnce(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100)}, 0, engine.Config{})
	var calls atomic.Int32
	f.strat.onStop = func(*scripted) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, f.engine.Start(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.Stop())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, engine.StateStopped, f.engine.State())
}

func TestStartWhileStoppingFails(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100)}, 0, engine.Config{})
	var startErr error
	var state engine.EngineState
	f.strat.onStop = func(*scripted) {
		state = f.engine.State()
		startErr = f.engine.Start(context.Background())
	}
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, engine.StateStopping, state)
	assert.ErrorIs(t, startErr, engine.ErrStopping)
	assert.Equal(t, "STOPPING", engine.StateStopping.String())
}

func TestOnDataIgnoredUnlessRunning(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 101)}, 0, engine.Config{})
	snap := market.Snapshot{"AAPL": bars(100)[0]}

	f.engine.OnData(snap)
	assert.Equal(t, engine.StateIdle, f.engine.State())
	assert.Zero(t, f.engine.Statistics().TotalTicks)
	assert.Empty(t, f.engine.EquityCurve())
	assert.Zero(t, f.strat.tick)

	// OnStop 中下的单在停止后的 tick 里不会成交
	f.strat.onStop = func(s *scripted) { s.buyLimit("AAPL", 100, 100) }
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Stop())
	require.Empty(t, f.strat.errs)

	f.engine.OnData(market.Snapshot{"AAPL": bars(100, 100)[1]})
	orders := f.engine.Orders("AAPL")
	require.Len(t, orders, 1)
	assert.Equal(t, order.StatusAccepted, orders[0].Status)
	assert.Empty(t, f.engine.Trades())
	assert.Zero(t, f.engine.Statistics().TotalTicks)
	assert.Zero(t, f.strat.tick)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(100, 150, 151)}, 0, engine.Config{})
	var id string
	var placeErr, cancelErr, secondErr error
	f.strat.script[1] = func(s *scripted, _ market.Snapshot) {
		o, err := s.Buy("AAPL", 100, order.TypeLimit, order.Price(90), nil)
		if placeErr = err; err == nil {
			id = o.ID
		}
	}
	f.strat.script[2] = func(s *scripted, _ market.Snapshot) {
		cancelErr = s.Cancel(id)
		secondErr = s.Cancel(id)
	}
	_, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	require.NoError(t, placeErr)
	assert.NoError(t, cancelErr)
	assert.ErrorIs(t, secondErr, order.ErrTerminal)
	o, ok := f.engine.Order(id)
	require.True(t, ok)
	assert.Equal(t, order.StatusCanceled, o.Status)
	require.Len(t, f.strat.updates, 1)
	assert.Equal(t, order.StatusCanceled, f.strat.updates[0].Status)
}

func TestHistoricalDataAnchoredAtLatestBar(t *testing.T) {
	f := newFixture(t, map[string]market.Series{"AAPL": bars(1, 2, 3, 4, 5, 6)}, 0, engine.Config{})
	var hist market.Series
	var histErr error
	f.strat.script[4] = func(s *scripted, _ market.Snapshot) {
		hist, histErr = s.HistoricalData("AAPL", "2d", "")
	}
	_, err := f.engine.RunBacktest(context.Background())
	require.NoError(t, err)
	require.NoError(t, histErr)
	require.Len(t, hist, 3)
	assert.Equal(t, 2.0, hist[0].Close)
	assert.Equal(t, 4.0, hist[2].Close)

	_, err = f.engine.HistoricalData("AAPL", "2w", "")
	assert.Error(t, err)
}

func TestNewValidatesComponents(t *testing.T) {
	_, err := engine.New(engine.Config{}, engine.Components{})
	assert.Error(t, err)
}
