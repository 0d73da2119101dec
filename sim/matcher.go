package sim

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
)

// Matcher 接受订单并在后续 tick 上按 bar 撮合。
type Matcher interface {
	Submit(req order.Request, now time.Time) (order.Order, error)
	Cancel(id string, now time.Time) (order.Order, error)
	// Process 先按收盘价标记持仓，再撮合挂单；返回按顺序的事件。
	Process(snap market.Snapshot) []Event

	Order(id string) (order.Order, bool)
	Orders(symbol string) []order.Order
	Position(symbol string) (inventory.Position, bool)
	Portfolio() inventory.Portfolio
	Trades() []inventory.Trade
	InitialCash() float64
	TotalCommission() float64
	Reset()
}

// Config 撮合参数。
type Config struct {
	InitialCash    float64 `yaml:"initialCash"`
	CommissionRate float64 `yaml:"commissionRate"`
}

func DefaultConfig() Config {
	return Config{InitialCash: 100000, CommissionRate: 0.001}
}

func (c Config) Validate() error {
	if !(c.InitialCash > 0) {
		return fmt.Errorf("initialCash must be positive, got %g", c.InitialCash)
	}
	if c.CommissionRate < 0 || c.CommissionRate >= 1 {
		return fmt.Errorf("commissionRate must be in [0,1), got %g", c.CommissionRate)
	}
	return nil
}

// BacktestMatcher 基于 OHLC 的回测撮合，全部状态由一把锁保护。
type BacktestMatcher struct {
	mu     sync.Mutex
	cfg    Config
	ledger *inventory.Ledger
	orders *order.Manager
	logger *logger.Logger
}

func NewMatcher(cfg Config, log *logger.Logger) (*BacktestMatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BacktestMatcher{
		cfg:    cfg,
		ledger: inventory.NewLedger(cfg.InitialCash),
		orders: order.NewManager(),
		logger: log.Named("matcher"),
	}, nil
}

func (m *BacktestMatcher) Submit(req order.Request, now time.Time) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.orders.Accept(req, now)
	if err != nil {
		return order.Order{}, err
	}
	m.logger.Debug("Order accepted", zap.Stringer("order", o))
	return o, nil
}

func (m *BacktestMatcher) Cancel(id string, now time.Time) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, err := m.orders.Cancel(id, now)
	if err != nil {
		return o, err
	}
	m.logger.LogOrder("canceled", o.ID, map[string]interface{}{
		"symbol": o.Symbol,
		"status": string(o.Status),
	})
	return o, nil
}

func (m *BacktestMatcher) Process(snap market.Snapshot) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sym, bar := range snap {
		m.ledger.Mark(sym, bar.Close)
	}

	var events []Event
	for _, id := range m.orders.Active() {
		o, ok := m.orders.Get(id)
		if !ok {
			continue
		}
		bar, ok := snap[o.Symbol]
		if !ok {
			continue
		}
		hit, err := m.shouldExecute(&o, bar)
		if err != nil {
			m.logger.Error("Stop-limit conversion failed", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if !hit {
			if o.TimeInForce == order.TIFIOC || o.TimeInForce == order.TIFFOK {
				if exp, err := m.orders.Expire(id, bar.Timestamp); err == nil {
					m.logOrder("expired", exp)
					events = append(events, orderEvent(exp))
				}
			}
			continue
		}
		events = append(events, m.execute(o, bar)...)
	}
	return events
}

// shouldExecute 判断本 bar 是否触发；STOP_LIMIT 触发止损后就地转为 LIMIT 并用同一根 bar 复核限价。
func (m *BacktestMatcher) shouldExecute(o *order.Order, bar market.Bar) (bool, error) {
	buy := o.Side == order.SideBuy
	switch o.Type {
	case order.TypeMarket:
		return true, nil
	case order.TypeLimit:
		if buy {
			return bar.Low <= *o.Price, nil
		}
		return bar.High >= *o.Price, nil
	case order.TypeStop:
		if buy {
			return bar.High >= *o.StopPrice, nil
		}
		return bar.Low <= *o.StopPrice, nil
	case order.TypeStopLimit:
		stopHit := bar.High >= *o.StopPrice
		if !buy {
			stopHit = bar.Low <= *o.StopPrice
		}
		if !stopHit {
			return false, nil
		}
		converted, err := m.orders.ConvertStopLimit(o.ID, bar.Timestamp)
		if err != nil {
			return false, err
		}
		*o = converted
		return m.shouldExecute(o, bar)
	}
	return false, nil
}

func executionPrice(o order.Order, bar market.Bar) float64 {
	switch o.Type {
	case order.TypeMarket:
		return bar.Open
	case order.TypeLimit:
		return *o.Price
	case order.TypeStop:
		return *o.StopPrice
	default:
		return bar.Close
	}
}

func (m *BacktestMatcher) execute(o order.Order, bar market.Bar) []Event {
	price := executionPrice(o, bar)
	qty := o.Remaining()
	fill := inventory.Fill{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   qty,
		Price:      price,
		Commission: qty * price * m.cfg.CommissionRate,
		Mark:       bar.Close,
		Timestamp:  bar.Timestamp,
	}
	trade, err := m.ledger.Apply(fill)
	if err != nil {
		rej, rerr := m.orders.Reject(o.ID, err, bar.Timestamp)
		if rerr != nil {
			m.logger.Error("Reject failed", zap.String("order_id", o.ID), zap.Error(rerr))
			return nil
		}
		m.logger.Warn("Order rejected at execution",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
		return []Event{orderEvent(rej)}
	}
	filled, err := m.orders.Fill(o.ID, qty, price, bar.Timestamp)
	if err != nil {
		// 账本已入账，订单状态不可能非法；记录即可
		m.logger.Error("Fill transition failed", zap.String("order_id", o.ID), zap.Error(err))
	}
	m.logOrder("filled", filled)
	m.logger.LogTrade("fill", map[string]interface{}{
		"symbol":     trade.Symbol,
		"side":       trade.Side,
		"qty":        trade.Quantity,
		"price":      trade.Price,
		"commission": trade.Commission,
		"orderId":    trade.OrderID,
	})
	return []Event{orderEvent(filled), tradeEvent(trade)}
}

func (m *BacktestMatcher) logOrder(event string, o order.Order) {
	m.logger.LogOrder(event, o.ID, map[string]interface{}{
		"symbol": o.Symbol,
		"status": string(o.Status),
		"side":   string(o.Side),
		"type":   string(o.Type),
		"qty":    o.Quantity,
	})
}

func (m *BacktestMatcher) Order(id string) (order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.Get(id)
}

func (m *BacktestMatcher) Orders(symbol string) []order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.Orders(symbol)
}

func (m *BacktestMatcher) Position(symbol string) (inventory.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Position(symbol)
}

func (m *BacktestMatcher) Portfolio() inventory.Portfolio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Portfolio()
}

func (m *BacktestMatcher) Trades() []inventory.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Trades()
}

func (m *BacktestMatcher) InitialCash() float64 { return m.cfg.InitialCash }

func (m *BacktestMatcher) TotalCommission() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.TotalCommission()
}

// Reset 清空订单与账本，恢复初始现金。
func (m *BacktestMatcher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger.Reset()
	m.orders.Reset()
}
