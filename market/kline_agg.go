package market

import (
	"fmt"
	"sync"
	"time"
)

// Interval 重采样周期。Bucket 把时间戳映射到所属周期的起点。
type Interval struct {
	Name   string
	Bucket func(time.Time) time.Time
}

func fixed(name string, d time.Duration) Interval {
	return Interval{Name: name, Bucket: func(ts time.Time) time.Time { return ts.Truncate(d) }}
}

var intervals = map[string]Interval{
	"1m":  fixed("1m", time.Minute),
	"5m":  fixed("5m", 5*time.Minute),
	"15m": fixed("15m", 15*time.Minute),
	"30m": fixed("30m", 30*time.Minute),
	"1h":  fixed("1h", time.Hour),
	"1d": {Name: "1d", Bucket: func(ts time.Time) time.Time {
		y, m, d := ts.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
	}},
	"1wk": {Name: "1wk", Bucket: func(ts time.Time) time.Time {
		y, m, d := ts.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
		offset := (int(day.Weekday()) + 6) % 7 // 周一为起点
		return day.AddDate(0, 0, -offset)
	}},
	"1mo": {Name: "1mo", Bucket: func(ts time.Time) time.Time {
		y, m, _ := ts.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, ts.Location())
	}},
}

// ParseInterval 解析周期字符串，支持 1m/5m/15m/30m/1h/1d/1wk/1mo。
func ParseInterval(s string) (Interval, error) {
	iv, ok := intervals[s]
	if !ok {
		return Interval{}, fmt.Errorf("unsupported interval %q", s)
	}
	return iv, nil
}

// BarAggregator 把细粒度 Bar 聚合成更粗周期的 Bar。
type BarAggregator struct {
	Interval Interval
	mu       sync.Mutex
	bucket   time.Time
	current  *Bar
}

func NewBarAggregator(iv Interval) *BarAggregator {
	return &BarAggregator{Interval: iv}
}

// OnBar 合并一根输入 Bar；跨周期时返回已闭合的 Bar，否则返回 nil。
func (a *BarAggregator) OnBar(b Bar) *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	bucket := a.Interval.Bucket(b.Timestamp)
	if a.current == nil || !bucket.Equal(a.bucket) {
		closed := a.current
		a.bucket = bucket
		a.current = &Bar{
			Timestamp: bucket,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}
		return closed
	}
	if b.High > a.current.High {
		a.current.High = b.High
	}
	if b.Low < a.current.Low {
		a.current.Low = b.Low
	}
	a.current.Close = b.Close
	a.current.Volume += b.Volume
	return nil
}

// Flush 返回尚未闭合的 Bar 并清空状态。
func (a *BarAggregator) Flush() *Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	b := a.current
	a.current = nil
	return b
}

// Resample 按周期重采样；输入需按时间升序。
func Resample(in Series, iv Interval) Series {
	agg := NewBarAggregator(iv)
	out := make(Series, 0, len(in))
	for _, b := range in {
		if closed := agg.OnBar(b); closed != nil {
			out = append(out, *closed)
		}
	}
	if last := agg.Flush(); last != nil {
		out = append(out, *last)
	}
	return out
}
