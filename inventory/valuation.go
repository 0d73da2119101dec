package inventory

import "sort"

// Portfolio 某一时刻的现金与持仓快照，值语义，与账本互不影响。
type Portfolio struct {
	Cash      float64
	Positions map[string]Position
}

// Equity 现金加上所有已标价持仓的市值；未标价的持仓不计入。
func (p Portfolio) Equity() float64 {
	return p.Cash + p.TotalMarketValue()
}

func (p Portfolio) TotalMarketValue() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		if mv, ok := pos.MarketValue(); ok {
			total += mv
		}
	}
	return total
}

// Position 返回持仓拷贝。
func (p Portfolio) Position(symbol string) (Position, bool) {
	pos, ok := p.Positions[symbol]
	return pos, ok
}

// MarketValue symbol 持仓市值；无持仓或未标价时为 0。
func (p Portfolio) MarketValue(symbol string) float64 {
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0
	}
	mv, _ := pos.MarketValue()
	return mv
}

// UnrealizedPnL 所有已标价持仓的浮动盈亏之和。
func (p Portfolio) UnrealizedPnL() float64 {
	total := 0.0
	for _, pos := range p.Positions {
		if pnl, ok := pos.UnrealizedPnL(); ok {
			total += pnl
		}
	}
	return total
}

func (p Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for sym := range p.Positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (p Portfolio) Clone() Portfolio {
	cp := Portfolio{Cash: p.Cash, Positions: make(map[string]Position, len(p.Positions))}
	for k, v := range p.Positions {
		cp.Positions[k] = v
	}
	return cp
}
