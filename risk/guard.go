package risk

import (
	"fmt"

	"backtest-go/inventory"
	"backtest-go/order"
)

// Decision 风控结论。Approved 时 Quantity 为放行数量，Resized 表示被缩量。
type Decision struct {
	Approved bool
	Quantity float64
	Resized  bool
	Rule     string
	Reason   error
}

func approve(q float64) Decision { return Decision{Approved: true, Quantity: q} }

func resize(rule string, q float64) Decision {
	return Decision{Approved: true, Quantity: q, Resized: true, Rule: rule}
}

func reject(rule string, err error) Decision {
	return Decision{Rule: rule, Reason: err}
}

// Context 单次检查的输入。Price 由定价步骤填入。
type Context struct {
	Portfolio inventory.Portfolio
	Equity    float64
	Request   order.Request
	Price     float64
}

func (c *Context) value() float64 { return c.Request.Quantity * c.Price }

// positionValue 本 symbol 持仓市值；未标价视为 0。
func (c *Context) positionValue() (float64, bool) {
	pos, ok := c.Portfolio.Position(c.Request.Symbol)
	if !ok {
		return 0, false
	}
	mv, _ := pos.MarketValue()
	return mv, true
}

// Guard 单条规则。triggered 为 false 时继续执行下一条。
type Guard interface {
	Name() string
	Check(c *Context) (d Decision, triggered bool)
}

// MultiGuard 顺序执行多个 Guard，第一个触发的规则决定结果。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) Check(c *Context) Decision {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if d, hit := g.Check(c); hit {
			return d
		}
	}
	return approve(c.Request.Quantity)
}

// DrawdownGuard 峰值回撤超过上限时拒绝一切新单。
type DrawdownGuard struct {
	Max     float64
	Tracker *DrawdownTracker
}

func (g *DrawdownGuard) Name() string { return "drawdown" }

func (g *DrawdownGuard) Check(c *Context) (Decision, bool) {
	dd := g.Tracker.Observe(c.Equity)
	if dd > g.Max {
		return reject(g.Name(), fmt.Errorf("%w: %.4f > %.4f", ErrDrawdownBreached, dd, g.Max)), true
	}
	return Decision{}, false
}

// PriceGuard 确定估值价格：限价 > 止损价 > 持仓现价；都没有则拒绝。
type PriceGuard struct{}

func (PriceGuard) Name() string { return "price" }

func (g PriceGuard) Check(c *Context) (Decision, bool) {
	switch {
	case c.Request.Price != nil:
		c.Price = *c.Request.Price
	case c.Request.StopPrice != nil:
		c.Price = *c.Request.StopPrice
	default:
		pos, ok := c.Portfolio.Position(c.Request.Symbol)
		if !ok || !pos.Marked {
			return reject(g.Name(), fmt.Errorf("%w: %s", ErrUnpriceable, c.Request.Symbol)), true
		}
		c.Price = pos.CurrentPrice
	}
	if c.Price <= 0 {
		return reject(g.Name(), fmt.Errorf("%w: %s price %g", ErrUnpriceable, c.Request.Symbol, c.Price)), true
	}
	return Decision{}, false
}

// OrderSizeGuard 单笔价值超过 MaxOrderSize*equity 时缩量放行。
type OrderSizeGuard struct{ Max float64 }

func (g OrderSizeGuard) Name() string { return "order_size" }

func (g OrderSizeGuard) Check(c *Context) (Decision, bool) {
	if c.Equity <= 0 {
		return Decision{}, false
	}
	if c.value()/c.Equity > g.Max {
		return resize(g.Name(), g.Max*c.Equity/c.Price), true
	}
	return Decision{}, false
}

// PositionSizeGuard 仅对买单：成交后持仓价值不超过 MaxPositionSize*equity。
type PositionSizeGuard struct{ Max float64 }

func (g PositionSizeGuard) Name() string { return "position_size" }

func (g PositionSizeGuard) Check(c *Context) (Decision, bool) {
	if c.Request.Side != order.SideBuy || c.Equity <= 0 {
		return Decision{}, false
	}
	posMV, _ := c.positionValue()
	if (posMV+c.value())/c.Equity <= g.Max {
		return Decision{}, false
	}
	if posMV > 0 {
		room := g.Max*c.Equity - posMV
		if room <= 0 {
			return reject(g.Name(), fmt.Errorf("%w: %s", ErrPositionLimit, c.Request.Symbol)), true
		}
		return resize(g.Name(), room/c.Price), true
	}
	return resize(g.Name(), g.Max*c.Equity/c.Price), true
}

// ConcentrationGuard 仅对买单：成交后该 symbol 占全部持仓市值的比例不超过上限。
// 缩量目标使成交后占比恰好等于上限；没有正的余量时拒绝。
type ConcentrationGuard struct{ Max float64 }

func (g ConcentrationGuard) Name() string { return "concentration" }

func (g ConcentrationGuard) Check(c *Context) (Decision, bool) {
	if c.Request.Side != order.SideBuy || c.Equity <= 0 {
		return Decision{}, false
	}
	posMV, _ := c.positionValue()
	newPos := posMV + c.value()
	newTotal := c.Portfolio.TotalMarketValue() + c.value()
	if newTotal <= 0 || newPos/newTotal <= g.Max {
		return Decision{}, false
	}
	maxPos := g.Max * (newTotal - newPos) / (1 - g.Max)
	room := maxPos
	if posMV > 0 {
		room = maxPos - posMV
	}
	if room <= 0 {
		return reject(g.Name(), fmt.Errorf("%w: %s", ErrConcentrationLimit, c.Request.Symbol)), true
	}
	return resize(g.Name(), room/c.Price), true
}
