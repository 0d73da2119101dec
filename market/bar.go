package market

import (
	"sort"
	"time"
)

// Bar 一根 OHLCV K 线。值类型，产生后不再修改。
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Valid 检查 OHLC 关系是否自洽。
func (b Bar) Valid() bool {
	if b.Timestamp.IsZero() {
		return false
	}
	if b.High < b.Low {
		return false
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return false
	}
	return b.Volume >= 0
}

// Snapshot 同一时刻各 symbol 的 Bar，每个 symbol 至多一根。
type Snapshot map[string]Bar

// Symbols 返回排序后的 symbol 列表。
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s))
	for sym := range s {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Time 返回快照中最晚的时间戳；空快照返回零值。
func (s Snapshot) Time() time.Time {
	var ts time.Time
	for _, b := range s {
		if b.Timestamp.After(ts) {
			ts = b.Timestamp
		}
	}
	return ts
}

// Series 按时间升序排列的一组 Bar。
type Series []Bar

// Sort 按时间戳升序排序（稳定）。
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
}

// Between 返回 [start, end] 区间内的 Bar；零值边界表示不限。
func (s Series) Between(start, end time.Time) Series {
	out := make(Series, 0, len(s))
	for _, b := range s {
		if !start.IsZero() && b.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}
