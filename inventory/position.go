package inventory

import "time"

// Position 单个 symbol 的持仓。Marked 为 false 表示还没有可用的当前价。
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntryPrice float64
	CurrentPrice  float64
	Marked        bool
}

// MarketValue quantity * currentPrice；未标记价格时返回 false。
func (p Position) MarketValue() (float64, bool) {
	if !p.Marked {
		return 0, false
	}
	return p.Quantity * p.CurrentPrice, true
}

func (p Position) UnrealizedPnL() (float64, bool) {
	if !p.Marked {
		return 0, false
	}
	return (p.CurrentPrice - p.AvgEntryPrice) * p.Quantity, true
}

// UnrealizedPnLPercent 相对成本的浮盈比例（百分数）。
func (p Position) UnrealizedPnLPercent() (float64, bool) {
	if !p.Marked || p.AvgEntryPrice == 0 {
		return 0, false
	}
	return (p.CurrentPrice/p.AvgEntryPrice - 1) * 100, true
}

// addBuy 加权平均成本：(q0*p0 + q*p) / (q0+q)
func (p *Position) addBuy(qty, price float64) {
	total := p.Quantity*p.AvgEntryPrice + qty*price
	p.Quantity += qty
	if p.Quantity != 0 {
		p.AvgEntryPrice = total / p.Quantity
	} else {
		p.AvgEntryPrice = 0
	}
}

func (p *Position) mark(price float64) {
	p.CurrentPrice = price
	p.Marked = true
}

// Trade 一次成交记录，追加后不再修改。
type Trade struct {
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	Commission  float64
	RealizedPnL float64 // 仅卖出时非零：(price-avg)*qty - commission
	Timestamp   time.Time
	OrderID     string
}
