package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
)

type fakeBroker struct {
	reqs      []order.Request
	positions map[string]inventory.Position
	cash      float64
	latest    map[string]market.Bar
	err       error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{positions: map[string]inventory.Position{}, cash: 100000, latest: map[string]market.Bar{}}
}

func (f *fakeBroker) PlaceOrder(req order.Request) (*order.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	return &order.Order{ID: "x", Symbol: req.Symbol, Side: req.Side, Type: req.Type, Quantity: req.Quantity, Price: req.Price}, nil
}

func (f *fakeBroker) CancelOrder(string) error { return nil }

func (f *fakeBroker) Position(symbol string) (inventory.Position, bool) {
	p, ok := f.positions[symbol]
	return p, ok
}

func (f *fakeBroker) Portfolio() inventory.Portfolio {
	return inventory.Portfolio{Cash: f.cash, Positions: f.positions}
}

func (f *fakeBroker) HistoricalData(string, string, string) (market.Series, error) { return nil, nil }

func (f *fakeBroker) LatestBar(symbol string) (market.Bar, bool) {
	b, ok := f.latest[symbol]
	return b, ok
}

func feed(s Strategy, sym string, closes ...float64) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		s.OnData(market.Snapshot{sym: {Timestamp: t0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c}})
	}
}

func TestCrossoverSignal(t *testing.T) {
	assert.Equal(t, SignalBuy, crossover([]float64{10, 10, 10, 13}, 2, 3))
	assert.Equal(t, SignalSell, crossover([]float64{10, 10, 10, 7}, 2, 3))
	assert.Equal(t, SignalHold, crossover([]float64{10, 11, 12, 13}, 2, 3))
}

func TestMovingAverageGoldenCrossBuys(t *testing.T) {
	br := newFakeBroker()
	s := NewMovingAverageCrossover(nil)
	require.NoError(t, s.SetParameters(Params{"shortWindow": 2, "longWindow": 3, "positionSize": 0.1}))
	s.Bind(br, []string{"AAPL"})
	s.OnStart()

	feed(s, "AAPL", 10, 10, 10, 13)
	require.Len(t, br.reqs, 1)
	req := br.reqs[0]
	assert.Equal(t, order.SideBuy, req.Side)
	assert.Equal(t, order.TypeLimit, req.Type)
	assert.Equal(t, 13.0, *req.Price)
	assert.InDelta(t, 100000*0.1/13, req.Quantity, 1e-9)
	assert.Equal(t, SignalBuy, s.LastSignal("AAPL"))

	// 其他 symbol 的数据被忽略
	feed(s, "MSFT", 1, 1, 1, 5)
	assert.Len(t, br.reqs, 1)
}

func TestMovingAverageDeathCrossCloses(t *testing.T) {
	br := newFakeBroker()
	br.positions["AAPL"] = inventory.Position{Symbol: "AAPL", Quantity: 7, AvgEntryPrice: 10, CurrentPrice: 9, Marked: true}
	s := NewMovingAverageCrossover(nil)
	require.NoError(t, s.SetParameters(Params{"shortWindow": 2, "longWindow": 3}))
	s.Bind(br, []string{"AAPL"})
	s.OnStart()

	feed(s, "AAPL", 10, 10, 10, 7)
	require.Len(t, br.reqs, 1)
	assert.Equal(t, order.SideSell, br.reqs[0].Side)
	assert.Equal(t, 7.0, br.reqs[0].Quantity)
	assert.Equal(t, 9.0, *br.reqs[0].Price)
}

func TestMovingAverageDeathCrossFlatDoesNothing(t *testing.T) {
	br := newFakeBroker()
	s := NewMovingAverageCrossover(nil)
	require.NoError(t, s.SetParameters(Params{"shortWindow": 2, "longWindow": 3}))
	s.Bind(br, []string{"AAPL"})
	s.OnStart()
	feed(s, "AAPL", 10, 10, 10, 7)
	assert.Empty(t, br.reqs)
}

func TestMovingAverageOnStopClosesPositions(t *testing.T) {
	br := newFakeBroker()
	br.positions["AAPL"] = inventory.Position{Symbol: "AAPL", Quantity: 3}
	br.latest["AAPL"] = market.Bar{Close: 50}
	s := NewMovingAverageCrossover(nil)
	s.Bind(br, []string{"AAPL", "MSFT"})
	s.OnStop()
	require.Len(t, br.reqs, 1)
	// 未标价时用最新 bar 收盘价
	assert.Equal(t, order.TypeLimit, br.reqs[0].Type)
	assert.Equal(t, 50.0, *br.reqs[0].Price)
}

func TestBaseHelpers(t *testing.T) {
	var unbound Base
	_, err := unbound.Buy("AAPL", 1, "", nil, nil)
	assert.ErrorIs(t, err, ErrNotBound)

	br := newFakeBroker()
	b := NewBase(nil)
	b.Bind(br, []string{"AAPL"})
	_, err = b.Close("AAPL")
	assert.ErrorIs(t, err, ErrNoPosition)

	// 无现价也无最新 bar 时用市价单
	br.positions["AAPL"] = inventory.Position{Symbol: "AAPL", Quantity: 2}
	_, err = b.Close("AAPL")
	require.NoError(t, err)
	assert.Equal(t, order.TypeMarket, br.reqs[0].Type)
	assert.Nil(t, br.reqs[0].Price)

	b.SetSymbols([]string{"MSFT", "AAPL"})
	assert.Equal(t, []string{"MSFT", "AAPL"}, b.Symbols())

	br.err = errors.New("not running")
	_, err = b.Sell("AAPL", 1, order.TypeMarket, nil, nil)
	assert.EqualError(t, err, "not running")
}
