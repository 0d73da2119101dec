package inventory

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// Fill 撮合产生的一次成交，由 Ledger 记账。Mark 为成交 bar 的收盘价。
type Fill struct {
	OrderID    string
	Symbol     string
	Side       string
	Quantity   float64
	Price      float64
	Commission float64
	Mark       float64
	Timestamp  time.Time
}

// Ledger 现金、持仓与成交历史。一次成交要么完整入账，要么不产生任何变化。
type Ledger struct {
	mu          sync.RWMutex
	initialCash float64
	cash        float64
	positions   map[string]*Position
	trades      []Trade
	commission  float64
}

func NewLedger(initialCash float64) *Ledger {
	return &Ledger{
		initialCash: initialCash,
		cash:        initialCash,
		positions:   make(map[string]*Position),
	}
}

// Apply 按方向记账，返回生成的 Trade。
func (l *Ledger) Apply(f Fill) (Trade, error) {
	switch f.Side {
	case "BUY":
		return l.ApplyBuy(f)
	case "SELL":
		return l.ApplySell(f)
	default:
		return Trade{}, fmt.Errorf("unknown side %q", f.Side)
	}
}

// ApplyBuy 扣除 qty*price+commission；现金不足时拒绝且不修改状态。
func (l *Ledger) ApplyBuy(f Fill) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cost := f.Quantity*f.Price + f.Commission
	if cost > l.cash {
		return Trade{}, fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientCash, cost, l.cash)
	}
	l.cash -= cost
	pos, ok := l.positions[f.Symbol]
	if !ok {
		pos = &Position{Symbol: f.Symbol}
		l.positions[f.Symbol] = pos
	}
	pos.addBuy(f.Quantity, f.Price)
	pos.mark(f.Mark)
	return l.record(f, 0), nil
}

// ApplySell 卖出不能超过现有持仓（不支持做空）；数量归零时删除持仓。
func (l *Ledger) ApplySell(f Fill) (Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[f.Symbol]
	if !ok || pos.Quantity < f.Quantity {
		have := 0.0
		if ok {
			have = pos.Quantity
		}
		return Trade{}, fmt.Errorf("%w: need %g, have %g", ErrInsufficientShares, f.Quantity, have)
	}
	l.cash += f.Quantity*f.Price - f.Commission
	realized := (f.Price-pos.AvgEntryPrice)*f.Quantity - f.Commission
	pos.Quantity -= f.Quantity
	pos.mark(f.Mark)
	if pos.Quantity == 0 {
		delete(l.positions, f.Symbol)
	}
	return l.record(f, realized), nil
}

func (l *Ledger) record(f Fill, realized float64) Trade {
	t := Trade{
		Symbol:      f.Symbol,
		Side:        f.Side,
		Quantity:    f.Quantity,
		Price:       f.Price,
		Commission:  f.Commission,
		RealizedPnL: realized,
		Timestamp:   f.Timestamp,
		OrderID:     f.OrderID,
	}
	l.trades = append(l.trades, t)
	l.commission += f.Commission
	return t
}

// Mark 更新持仓现价；无持仓时忽略。
func (l *Ledger) Mark(symbol string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos, ok := l.positions[symbol]; ok {
		pos.mark(price)
	}
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) InitialCash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialCash
}

func (l *Ledger) Equity() float64 {
	return l.Portfolio().Equity()
}

// Position 返回持仓拷贝。
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Portfolio 返回独立的快照。
func (l *Ledger) Portfolio() Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pf := Portfolio{Cash: l.cash, Positions: make(map[string]Position, len(l.positions))}
	for sym, pos := range l.positions {
		pf.Positions[sym] = *pos
	}
	return pf
}

// Trades 返回成交历史拷贝。
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

func (l *Ledger) TotalCommission() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commission
}

// Reset 恢复到初始现金，清空持仓和成交。
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = l.initialCash
	l.positions = make(map[string]*Position)
	l.trades = nil
	l.commission = 0
}
