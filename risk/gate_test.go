package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-go/inventory"
	"backtest-go/order"
)

type countingSink struct {
	rejected map[string]int
	resized  map[string]int
}

func newCountingSink() *countingSink {
	return &countingSink{rejected: map[string]int{}, resized: map[string]int{}}
}

func (s *countingSink) RiskRejected(rule string) { s.rejected[rule]++ }
func (s *countingSink) RiskResized(rule string)  { s.resized[rule]++ }

func pos(sym string, qty, px float64) inventory.Position {
	return inventory.Position{Symbol: sym, Quantity: qty, AvgEntryPrice: px, CurrentPrice: px, Marked: true}
}

func portfolio(cash float64, ps ...inventory.Position) inventory.Portfolio {
	pf := inventory.Portfolio{Cash: cash, Positions: map[string]inventory.Position{}}
	for _, p := range ps {
		pf.Positions[p.Symbol] = p
	}
	return pf
}

func limitBuy(sym string, qty, px float64) order.Request {
	return order.Request{Symbol: sym, Side: order.SideBuy, Type: order.TypeLimit, Quantity: qty, Price: order.Price(px)}
}

func newGate(t *testing.T, equity float64) (*Gate, *countingSink) {
	t.Helper()
	sink := newCountingSink()
	g, err := NewGate(DefaultLimits(), NewNotifier(nil, sink))
	require.NoError(t, err)
	g.Reset(equity)
	return g, sink
}

func TestGateDrawdownHalt(t *testing.T) {
	g, sink := newGate(t, 100000)
	d := g.Check(portfolio(89000), limitBuy("AAPL", 1, 10))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ErrDrawdownBreached)
	assert.Equal(t, 1, sink.rejected["drawdown"])

	// SELL 同样被拒
	d = g.Check(portfolio(89000, pos("AAPL", 1, 10)), order.Request{Symbol: "AAPL", Side: order.SideSell, Type: order.TypeMarket, Quantity: 1})
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ErrDrawdownBreached)
}

func TestGateUnpriceableMarketOrder(t *testing.T) {
	g, _ := newGate(t, 100000)
	d := g.Check(portfolio(100000), order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeMarket, Quantity: 1})
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ErrUnpriceable)
}

func TestGateOrderSizeResize(t *testing.T) {
	g, sink := newGate(t, 100000)
	d := g.Check(portfolio(100000), limitBuy("AAPL", 100, 100))
	require.True(t, d.Approved)
	assert.True(t, d.Resized)
	assert.Equal(t, "order_size", d.Rule)
	assert.InDelta(t, 50.0, d.Quantity, 1e-9)
	assert.Equal(t, 1, sink.resized["order_size"])
}

func TestGatePositionSize(t *testing.T) {
	g, _ := newGate(t, 100000)

	// 已有 8000 市值，再买 4000 超过 10%，缩到 2000
	d := g.Check(portfolio(92000, pos("AAPL", 80, 100)), limitBuy("AAPL", 40, 100))
	require.True(t, d.Approved)
	assert.Equal(t, "position_size", d.Rule)
	assert.InDelta(t, 20.0, d.Quantity, 1e-9)

	// 已满仓位上限
	d = g.Check(portfolio(90000, pos("AAPL", 100, 100)), limitBuy("AAPL", 10, 100))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ErrPositionLimit)
}

func TestGateConcentration(t *testing.T) {
	g, _ := newGate(t, 100000)
	pf := portfolio(90000, pos("MSFT", 50, 100), pos("GOOG", 50, 100))
	d := g.Check(pf, limitBuy("AAPL", 40, 100))
	require.True(t, d.Approved)
	assert.Equal(t, "concentration", d.Rule)
	assert.InDelta(t, 0.25*10000/0.75/100, d.Quantity, 1e-9)

	// 成交后集中度恰好不超过上限
	l := inventory.NewLedger(100000)
	for _, p := range []inventory.Position{pos("MSFT", 50, 100), pos("GOOG", 50, 100)} {
		_, err := l.Apply(inventory.Fill{Symbol: p.Symbol, Side: "BUY", Quantity: p.Quantity, Price: p.CurrentPrice, Mark: p.CurrentPrice})
		require.NoError(t, err)
	}
	_, err := l.Apply(inventory.Fill{Symbol: "AAPL", Side: "BUY", Quantity: d.Quantity, Price: 100, Mark: 100})
	require.NoError(t, err)
	after := l.Portfolio()
	assert.LessOrEqual(t, after.MarketValue("AAPL")/after.TotalMarketValue(), 0.25+1e-9)

	// 空仓时没有正的余量
	d = g.Check(portfolio(100000), limitBuy("AAPL", 10, 100))
	assert.False(t, d.Approved)
	assert.ErrorIs(t, d.Reason, ErrConcentrationLimit)
}

func TestGateSellSkipsBuyChecks(t *testing.T) {
	g, _ := newGate(t, 100000)
	req := order.Request{Symbol: "AAPL", Side: order.SideSell, Type: order.TypeLimit, Quantity: 10, Price: order.Price(100)}
	d := g.Check(portfolio(99000, pos("AAPL", 10, 100)), req)
	assert.True(t, d.Approved)
	assert.False(t, d.Resized)
	assert.Equal(t, 10.0, d.Quantity)
}

func TestGateIdempotentOnApproval(t *testing.T) {
	g, _ := newGate(t, 100000)
	pf := portfolio(95000, pos("MSFT", 10, 100), pos("GOOG", 10, 100), pos("IBM", 10, 100), pos("ORCL", 10, 100), pos("SAP", 10, 100))
	req := limitBuy("MSFT", 1, 100)
	first := g.Check(pf, req)
	second := g.Check(pf, req)
	require.True(t, first.Approved)
	assert.False(t, first.Resized)
	assert.Equal(t, first, second)
	eq, ok := g.LastEquity()
	assert.True(t, ok)
	assert.Equal(t, pf.Equity(), eq)
}

func TestGateNonIterativeResize(t *testing.T) {
	g, _ := newGate(t, 100000)
	// 单笔缩量后的数量仍会违反集中度，但不再继续检查
	d := g.Check(portfolio(100000), limitBuy("AAPL", 1000, 100))
	require.True(t, d.Approved)
	assert.Equal(t, "order_size", d.Rule)
	assert.InDelta(t, 50.0, d.Quantity, 1e-9)
}

func TestNewGateInvalidLimits(t *testing.T) {
	_, err := NewGate(Limits{}, nil)
	assert.ErrorIs(t, err, ErrInvalidLimits)
}
