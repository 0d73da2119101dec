package posttrade

import (
	"sync"
	"time"
)

// EquityPoint 一次 tick 后的账户快照。
type EquityPoint struct {
	Time     time.Time `yaml:"time"`
	Equity   float64   `yaml:"equity"`
	Cash     float64   `yaml:"cash"`
	Drawdown float64   `yaml:"drawdown"` // 相对此前峰值
}

// EquityCurve 记录权益曲线并跟踪峰值，可被多个 goroutine 读取。
type EquityCurve struct {
	mu     sync.RWMutex
	points []EquityPoint
	peak   float64
}

func NewEquityCurve() *EquityCurve {
	return &EquityCurve{}
}

// Add 追加一个点并返回其回撤。
func (c *EquityCurve) Add(ts time.Time, equity, cash float64) EquityPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if equity > c.peak {
		c.peak = equity
	}
	p := EquityPoint{Time: ts, Equity: equity, Cash: cash}
	if c.peak > 0 {
		p.Drawdown = (c.peak - equity) / c.peak
	}
	c.points = append(c.points, p)
	return p
}

// Points 返回副本。
func (c *EquityCurve) Points() []EquityPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EquityPoint, len(c.points))
	copy(out, c.points)
	return out
}

func (c *EquityCurve) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.points)
}

func (c *EquityCurve) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = nil
	c.peak = 0
}
