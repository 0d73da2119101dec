package engine_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"backtest-go/infrastructure/logger"
	"backtest-go/infrastructure/monitor"
	"backtest-go/internal/engine"
	"backtest-go/market"
	"backtest-go/order"
	"backtest-go/risk"
	"backtest-go/sim"
	"backtest-go/strategy"
)

// createBenchmarkEngine 两个 symbol、一年日线、均线策略。
func createBenchmarkEngine(b *testing.B, days int) *engine.TradingEngine {
	b.Helper()
	data := make(map[string]market.Series)
	for i, sym := range []string{"AAPL", "MSFT"} {
		p := market.DefaultSampleParams()
		p.Days = days
		p.Seed = int64(i + 1)
		data[sym] = market.SineWave(p)
	}
	m, err := sim.NewMatcher(sim.DefaultConfig(), logger.Nop())
	if err != nil {
		b.Fatalf("matcher: %v", err)
	}
	mon := monitor.New(monitor.DefaultConfig())
	g, err := risk.NewGate(risk.DefaultLimits(), risk.NewNotifier(logger.Nop(), mon))
	if err != nil {
		b.Fatalf("gate: %v", err)
	}
	s, err := strategy.NewStrategyFactory().CreateStrategy(strategy.MovingAverageCrossoverType, strategy.Params{
		"shortWindow": 5, "longWindow": 20, "positionSize": 0.1,
	}, logger.Nop())
	if err != nil {
		b.Fatalf("strategy: %v", err)
	}
	e, err := engine.New(engine.Config{ReplayTimeout: time.Minute}, engine.Components{
		Feed:     market.NewReplayFeed(data, 0, logger.Nop()),
		Matcher:  m,
		Gate:     g,
		Strategy: s,
		Logger:   logger.Nop(),
		Recorder: mon,
	})
	if err != nil {
		b.Fatalf("engine: %v", err)
	}
	return e
}

func BenchmarkRunBacktest(b *testing.B) {
	e := createBenchmarkEngine(b, 252)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.RunBacktest(ctx); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPlaceOrder(b *testing.B) {
	e := createBenchmarkEngine(b, 1)
	if err := e.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer e.Stop()
	req := order.Request{Symbol: "AAPL", Side: order.SideBuy, Type: order.TypeLimit, Quantity: 1, Price: order.Price(90)}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// 空仓时集中度规则会拒绝小额买单，这里只测路径开销
		_, _ = e.PlaceOrder(req)
	}
}

func BenchmarkMemoryPerRun(b *testing.B) {
	e := createBenchmarkEngine(b, 252)
	ctx := context.Background()

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for i := 0; i < b.N; i++ {
		if _, err := e.RunBacktest(ctx); err != nil {
			b.Fatal(err)
		}
	}
	runtime.ReadMemStats(&after)
	b.ReportMetric(float64(after.TotalAlloc-before.TotalAlloc)/float64(b.N), "B/run")
}
