package risk

import (
	"sync"

	"backtest-go/inventory"
	"backtest-go/order"
)

// Gate 下单前风控。状态（初始/峰值权益）归 Gate 所有，回测开始时 Reset。
type Gate struct {
	mu         sync.Mutex
	limits     Limits
	drawdown   *DrawdownTracker
	chain      MultiGuard
	notifier   *Notifier
	lastEquity float64
	checked    bool
}

func NewGate(l Limits, n *Notifier) (*Gate, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	dd := &DrawdownTracker{}
	return &Gate{
		limits:   l,
		drawdown: dd,
		chain:    BuildGuards(l, dd),
		notifier: n,
	}, nil
}

// Reset 以当前权益作为初始与峰值权益。
func (g *Gate) Reset(initialEquity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drawdown.Reset(initialEquity)
	g.lastEquity = initialEquity
	g.checked = false
}

// Check 对 portfolio 快照评估请求，最多缩量一次，第一条触发的规则决定结果。
func (g *Gate) Check(pf inventory.Portfolio, req order.Request) Decision {
	g.mu.Lock()
	c := &Context{Portfolio: pf, Equity: pf.Equity(), Request: req}
	g.lastEquity = c.Equity
	g.checked = true
	d := g.chain.Check(c)
	g.mu.Unlock()

	g.notifier.Notify(req, d)
	return d
}

// LastEquity 最近一次决策所用的权益。
func (g *Gate) LastEquity() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastEquity, g.checked
}

func (g *Gate) Limits() Limits { return g.limits }

func (g *Gate) PeakEquity() float64 { return g.drawdown.Peak() }

func (g *Gate) InitialEquity() float64 { return g.drawdown.Initial() }
