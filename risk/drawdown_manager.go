package risk

import "sync"

// DrawdownTracker 记录初始权益与峰值权益，峰值只升不降。
type DrawdownTracker struct {
	mu      sync.RWMutex
	initial float64
	peak    float64
	ready   bool
}

func NewDrawdownTracker(initialEquity float64) *DrawdownTracker {
	d := &DrawdownTracker{}
	d.Reset(initialEquity)
	return d
}

// Reset 回测开始时以初始权益初始化。
func (d *DrawdownTracker) Reset(initialEquity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initial = initialEquity
	d.peak = initialEquity
	d.ready = true
}

// Observe 更新峰值并返回当前回撤 (peak-equity)/peak；peak<=0 时为 0。
func (d *DrawdownTracker) Observe(equity float64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ready {
		// 未显式初始化时以首次观测值为基准
		d.initial = equity
		d.peak = equity
		d.ready = true
	}
	if equity > d.peak {
		d.peak = equity
	}
	if d.peak <= 0 {
		return 0
	}
	return (d.peak - equity) / d.peak
}

func (d *DrawdownTracker) Peak() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peak
}

func (d *DrawdownTracker) Initial() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.initial
}
