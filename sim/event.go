package sim

import (
	"backtest-go/inventory"
	"backtest-go/order"
)

type EventKind int

const (
	EventOrderUpdate EventKind = iota + 1
	EventTrade
)

func (k EventKind) String() string {
	switch k {
	case EventOrderUpdate:
		return "order_update"
	case EventTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Event 撮合产生的通知，按发生顺序返回给引擎再转发给策略。
type Event struct {
	Kind  EventKind
	Order order.Order
	Trade inventory.Trade
}

func orderEvent(o order.Order) Event { return Event{Kind: EventOrderUpdate, Order: o} }

func tradeEvent(t inventory.Trade) Event { return Event{Kind: EventTrade, Trade: t} }
