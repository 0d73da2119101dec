package strategy

import (
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
)

// Broker 策略可调用的引擎能力。
type Broker interface {
	// PlaceOrder 未运行、校验失败或风控拒绝时返回 nil 和错误。
	PlaceOrder(req order.Request) (*order.Order, error)
	CancelOrder(id string) error
	Position(symbol string) (inventory.Position, bool)
	Portfolio() inventory.Portfolio
	HistoricalData(symbol, period, interval string) (market.Series, error)
	LatestBar(symbol string) (market.Bar, bool)
}

// Strategy 回测引擎驱动的策略。OnData 在当前 tick 撮合完成之后调用。
type Strategy interface {
	Name() string
	Bind(b Broker, symbols []string)
	SetParameters(p Params) error

	OnStart()
	OnStop()
	OnData(snap market.Snapshot)
	OnOrderUpdate(o order.Order)
	OnTrade(t inventory.Trade)
}
