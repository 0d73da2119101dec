package market

import (
	"math"
	"math/rand"
	"time"
)

// SampleParams 合成日线数据参数。
type SampleParams struct {
	Start      time.Time
	Days       int
	StartPrice float64
	Volatility float64 // 日波动率
	Trend      float64 // 日漂移
	Amplitude  float64 // 正弦振幅，仅 SineWave 使用
	Period     float64 // 正弦周期（天）
	Seed       int64
}

func DefaultSampleParams() SampleParams {
	return SampleParams{
		Start:      time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		Days:       252,
		StartPrice: 100,
		Volatility: 0.015,
		Trend:      0.0002,
		Amplitude:  10,
		Period:     50,
		Seed:       1,
	}
}

// RandomWalk 几何随机游走。
func RandomWalk(p SampleParams) Series {
	rng := rand.New(rand.NewSource(p.Seed))
	out := make(Series, 0, p.Days)
	price := p.StartPrice
	for i := 0; i < p.Days; i++ {
		price *= 1 + rng.NormFloat64()*p.Volatility + p.Trend
		out = append(out, ohlcv(rng, p.Start.AddDate(0, 0, i), price, p.Volatility))
	}
	return out
}

// SineWave 正弦 + 线性趋势 + 噪声，适合验证均线交叉。
func SineWave(p SampleParams) Series {
	rng := rand.New(rand.NewSource(p.Seed))
	period := p.Period
	if period <= 0 {
		period = 50
	}
	out := make(Series, 0, p.Days)
	for i := 0; i < p.Days; i++ {
		t := float64(i)
		price := p.StartPrice +
			p.Amplitude*math.Sin(2*math.Pi*t/period) +
			t*p.Trend +
			rng.NormFloat64()*p.Volatility*p.StartPrice
		if price <= 0 {
			price = 0.01
		}
		out = append(out, ohlcv(rng, p.Start.AddDate(0, 0, i), price, p.Volatility))
	}
	return out
}

func ohlcv(rng *rand.Rand, ts time.Time, price, vol float64) Bar {
	intraday := vol * price * 0.5
	open := price
	high := price + math.Abs(rng.NormFloat64()*intraday)
	low := price - math.Abs(rng.NormFloat64()*intraday)
	closePx := price + rng.NormFloat64()*intraday
	if closePx <= 0 {
		closePx = open
	}
	high = math.Max(high, math.Max(open, closePx))
	low = math.Min(low, math.Min(open, closePx))
	if low <= 0 {
		low = math.Min(open, closePx) / 2
	}
	return Bar{
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    math.Exp(10 + rng.NormFloat64()),
	}
}
