package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
)

var (
	ErrFeedRunning   = errors.New("feed already running")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// Feed 按时间顺序回放历史 Bar 并推送给订阅者。
type Feed interface {
	Start(ctx context.Context) error
	Stop() error
	// Done 在回放协程退出后关闭；未启动时返回已关闭的 channel。
	Done() <-chan struct{}
	Running() bool
	Reset()

	Current(symbols ...string) Snapshot
	Historical(symbol string, start, end time.Time, interval string) (Series, error)
	Latest(symbol string) (Bar, bool)
	Symbols() []string

	Subscribe(Subscriber)
	Unsubscribe(Subscriber)
}

// ReplayFeed 内存中的多 symbol 回放器，每个 symbol 一个游标。
type ReplayFeed struct {
	mu      sync.RWMutex
	series  map[string]Series
	symbols []string
	cursors map[string]int
	last    map[string]Bar
	ticks   int
	speed   float64

	pub    *Publisher
	logger *logger.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewReplayFeed speed 为每秒 tick 数，<=0 表示不限速。
func NewReplayFeed(data map[string]Series, speed float64, log *logger.Logger) *ReplayFeed {
	if log == nil {
		log = logger.Nop()
	}
	f := &ReplayFeed{
		series:  make(map[string]Series, len(data)),
		cursors: make(map[string]int, len(data)),
		last:    make(map[string]Bar, len(data)),
		speed:   speed,
		pub:     NewPublisher(),
		logger:  log.Named("feed"),
		done:    make(chan struct{}),
	}
	close(f.done)
	for sym, s := range data {
		cp := make(Series, len(s))
		copy(cp, s)
		cp.Sort()
		f.series[sym] = cp
		f.cursors[sym] = 0
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
	return f
}

func (f *ReplayFeed) Subscribe(s Subscriber)   { f.pub.Subscribe(s) }
func (f *ReplayFeed) Unsubscribe(s Subscriber) { f.pub.Unsubscribe(s) }

// SetSpeed 修改回放速度，下一次 tick 间隔生效。
func (f *ReplayFeed) SetSpeed(speed float64) {
	f.mu.Lock()
	f.speed = speed
	f.mu.Unlock()
}

func (f *ReplayFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return ErrFeedRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	f.running = true
	f.logger.Info("Replay starting",
		zap.Int("symbols", len(f.symbols)),
		zap.Float64("speed", f.speed))
	go f.run(runCtx, f.done)
	return nil
}

// Stop 请求回放协程退出，不等待；调用方可通过 Done 等待。
func (f *ReplayFeed) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}

func (f *ReplayFeed) Done() <-chan struct{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.done
}

func (f *ReplayFeed) Running() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

// Reset 游标回到起点并清空已发送的 Bar。回放中调用无效。
func (f *ReplayFeed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.logger.Warn("Reset ignored while replay is running")
		return
	}
	for sym := range f.cursors {
		f.cursors[sym] = 0
	}
	f.last = make(map[string]Bar, len(f.series))
	f.ticks = 0
}

func (f *ReplayFeed) run(ctx context.Context, done chan struct{}) {
	defer func() {
		f.mu.Lock()
		f.running = false
		ticks := f.ticks
		f.mu.Unlock()
		f.logger.Info("Replay stopped", zap.Int("ticks", ticks))
		close(done)
	}()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		snap := f.next()
		if snap == nil {
			f.logger.Info("Replay finished, all series exhausted")
			return
		}
		// 已取出的 tick 一定送达
		f.pub.Publish(snap)

		delay := f.interval()
		if delay <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *ReplayFeed) interval() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.speed <= 0 || math.IsNaN(f.speed) {
		return 0
	}
	d := float64(time.Second) / f.speed
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// next 取出所有还有数据的 symbol 的下一根 Bar；全部耗尽时返回 nil。
func (f *ReplayFeed) next() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := make(Snapshot)
	for _, sym := range f.symbols {
		i := f.cursors[sym]
		s := f.series[sym]
		if i >= len(s) {
			continue
		}
		snap[sym] = s[i]
		f.last[sym] = s[i]
		f.cursors[sym] = i + 1
	}
	if len(snap) == 0 {
		return nil
	}
	f.ticks++
	return snap
}

// Step 同步推进一个 tick，用于测试和单步调试；返回 false 表示已耗尽。
func (f *ReplayFeed) Step() bool {
	snap := f.next()
	if snap == nil {
		return false
	}
	f.pub.Publish(snap)
	return true
}

// Ticks 返回本轮已发送的 tick 数。
func (f *ReplayFeed) Ticks() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ticks
}

func (f *ReplayFeed) Current(symbols ...string) Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(symbols) == 0 {
		symbols = f.symbols
	}
	out := make(Snapshot, len(symbols))
	for _, sym := range symbols {
		if b, ok := f.last[sym]; ok {
			out[sym] = b
		}
	}
	return out
}

func (f *ReplayFeed) Latest(symbol string) (Bar, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	b, ok := f.last[symbol]
	return b, ok
}

// Historical 返回区间内的 Bar，interval 为空表示原始粒度。
func (f *ReplayFeed) Historical(symbol string, start, end time.Time, interval string) (Series, error) {
	f.mu.RLock()
	s, ok := f.series[symbol]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	out := s.Between(start, end)
	if interval == "" {
		return out, nil
	}
	iv, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	return Resample(out, iv), nil
}

func (f *ReplayFeed) Symbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}
