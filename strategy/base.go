package strategy

import (
	"errors"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
)

var (
	ErrNotBound   = errors.New("strategy not bound to broker")
	ErrNoPosition = errors.New("no position to close")
)

// Base 提供下单辅助与空实现的回调，具体策略嵌入后按需覆盖。
type Base struct {
	broker  Broker
	symbols []string
	Logger  *logger.Logger
}

func NewBase(log *logger.Logger) Base {
	if log == nil {
		log = logger.Nop()
	}
	return Base{Logger: log}
}

func (b *Base) Bind(br Broker, symbols []string) {
	b.broker = br
	b.symbols = append([]string(nil), symbols...)
	if b.Logger == nil {
		b.Logger = logger.Nop()
	}
}

func (b *Base) Symbols() []string { return b.symbols }

// SetSymbols 覆盖绑定时的交易范围，需在 OnStart 之前调用。
func (b *Base) SetSymbols(symbols []string) {
	b.symbols = append([]string(nil), symbols...)
}

func (b *Base) SetParameters(Params) error { return nil }

func (b *Base) OnStart()                    {}
func (b *Base) OnStop()                     {}
func (b *Base) OnData(market.Snapshot)      {}
func (b *Base) OnOrderUpdate(o order.Order) {}
func (b *Base) OnTrade(inventory.Trade)     {}

// Buy 下买单；typ 为空时按市价。
func (b *Base) Buy(symbol string, qty float64, typ order.Type, price, stop *float64) (*order.Order, error) {
	return b.place(symbol, order.SideBuy, qty, typ, price, stop)
}

func (b *Base) Sell(symbol string, qty float64, typ order.Type, price, stop *float64) (*order.Order, error) {
	return b.place(symbol, order.SideSell, qty, typ, price, stop)
}

func (b *Base) place(symbol string, side order.Side, qty float64, typ order.Type, price, stop *float64) (*order.Order, error) {
	if b.broker == nil {
		return nil, ErrNotBound
	}
	if typ == "" {
		typ = order.TypeMarket
	}
	return b.broker.PlaceOrder(order.Request{
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  qty,
		Price:     price,
		StopPrice: stop,
	})
}

// Close 平掉 symbol 的全部持仓。有现价时用现价限价单，否则市价单。
func (b *Base) Close(symbol string) (*order.Order, error) {
	if b.broker == nil {
		return nil, ErrNotBound
	}
	pos, ok := b.broker.Position(symbol)
	if !ok || pos.Quantity == 0 {
		b.Logger.Warn("No position to close", zap.String("symbol", symbol))
		return nil, ErrNoPosition
	}
	var price *float64
	if pos.Marked {
		price = order.Price(pos.CurrentPrice)
	} else if bar, ok := b.broker.LatestBar(symbol); ok {
		price = order.Price(bar.Close)
	}
	typ := order.TypeMarket
	if price != nil {
		typ = order.TypeLimit
	}
	if pos.Quantity > 0 {
		return b.Sell(symbol, pos.Quantity, typ, price, nil)
	}
	return b.Buy(symbol, -pos.Quantity, typ, price, nil)
}

func (b *Base) Position(symbol string) (inventory.Position, bool) {
	if b.broker == nil {
		return inventory.Position{}, false
	}
	return b.broker.Position(symbol)
}

func (b *Base) Portfolio() inventory.Portfolio {
	if b.broker == nil {
		return inventory.Portfolio{}
	}
	return b.broker.Portfolio()
}

func (b *Base) HistoricalData(symbol, period, interval string) (market.Series, error) {
	if b.broker == nil {
		return nil, ErrNotBound
	}
	return b.broker.HistoricalData(symbol, period, interval)
}

func (b *Base) Cancel(id string) error {
	if b.broker == nil {
		return ErrNotBound
	}
	return b.broker.CancelOrder(id)
}
