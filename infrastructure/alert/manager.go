// Package alert 把风控事件转成分级告警，按规则限流后分发到各通道。
package alert

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"backtest-go/order"
	"backtest-go/risk"
)

type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Rule      string // 触发的风控规则，限流按 Level+Rule 聚合
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 告警限流器。interval<=0 时不限流。
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器，同时实现 risk.Observer。
type Manager struct {
	channels   []Channel
	throttle   *Throttler
	suppressed atomic.Uint64
	mu         sync.RWMutex
}

var _ risk.Observer = (*Manager)(nil)

func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送告警。被限流时静默丢弃；只有全部通道失败才返回错误。
func (m *Manager) SendAlert(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if !m.throttle.Allow(string(a.Level) + ":" + a.Rule) {
		m.suppressed.Add(1)
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs error
	ok := 0
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("channel %s failed: %w", ch.Name(), err))
			continue
		}
		ok++
	}
	if ok == 0 {
		return errs
	}
	return nil
}

// OnRiskDecision 拒单与缩量转成告警；回撤熔断为 CRITICAL。
func (m *Manager) OnRiskDecision(req order.Request, d risk.Decision) {
	a := Alert{
		Rule: d.Rule,
		Fields: map[string]interface{}{
			"symbol": req.Symbol,
			"side":   string(req.Side),
			"qty":    req.Quantity,
		},
	}
	switch {
	case !d.Approved && d.Rule == "drawdown":
		a.Level = LevelCritical
		a.Message = "trading halted: max drawdown breached"
	case !d.Approved:
		a.Level = LevelWarning
		a.Message = "order rejected by " + d.Rule
	default:
		a.Level = LevelInfo
		a.Message = "order resized by " + d.Rule
		a.Fields["newQty"] = d.Quantity
	}
	if d.Reason != nil {
		a.Fields["reason"] = d.Reason.Error()
	} else {
		a.Fields["reason"] = a.Message
	}
	// 通道全部失败时日志通道本身已不可用，这里无处可报
	_ = m.SendAlert(a)
}

// Suppressed 被限流丢弃的告警数。
func (m *Manager) Suppressed() uint64 { return m.suppressed.Load() }

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 每次回测开始前调用，避免上一轮的限流状态影响本轮。
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
	m.suppressed.Store(0)
}
