package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
	"backtest-go/posttrade"
	"backtest-go/risk"
	"backtest-go/sim"
	"backtest-go/strategy"
)

var (
	ErrNotRunning    = errors.New("engine not running")
	ErrRiskRejected  = errors.New("order rejected by risk gate")
	ErrReplayActive  = errors.New("previous replay still active")
	ErrNoMarketPrice = errors.New("no bar replayed yet")
	ErrStopping      = errors.New("engine is stopping")
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopping 策略收尾中，仍受理订单但不再处理 tick
	StateStopping
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// acceptsOrders RUNNING 与 STOPPING 均可下单、撤单。
func (s EngineState) acceptsOrders() bool {
	return s == StateRunning || s == StateStopping
}

// Config 引擎配置
type Config struct {
	Symbols       []string
	ReplayTimeout time.Duration // 等待回放结束的上限
	JoinTimeout   time.Duration // 重启前等待上一次回放退出的上限
}

// Recorder 指标出口，由 infrastructure/monitor 实现。
type Recorder interface {
	RecordTick()
	RecordOrderPlaced()
	RecordOrderStatus(status string)
	RecordTrade(qty, price, commission, realized float64)
	UpdateAccount(cash, equity, drawdown float64)
}

// EventPublisher 事件推送出口，由 infrastructure/stream 实现。
type EventPublisher interface {
	Publish(kind string, data map[string]interface{}) error
}

// Components 引擎依赖组件
type Components struct {
	Feed     market.Feed
	Matcher  sim.Matcher
	Gate     *risk.Gate
	Strategy strategy.Strategy
	Logger   *logger.Logger
	Recorder Recorder       // 可选
	Stream   EventPublisher // 可选
}

// Statistics 引擎统计信息
type Statistics struct {
	Runs          int64
	TotalTicks    int64
	TotalOrders   int64
	RiskRejected  int64
	RiskResized   int64
	TotalErrors   int64
	LastTickTime  time.Time
	LastOrderTime time.Time
}

// TradingEngine 回测引擎：回放驱动撮合，再把 tick 交给策略。
type TradingEngine struct {
	config Config

	feed     market.Feed
	matcher  sim.Matcher
	gate     *risk.Gate
	strategy strategy.Strategy
	logger   *logger.Logger
	recorder Recorder
	stream   EventPublisher

	curve *posttrade.EquityCurve

	// mu 保护状态与下单路径；调用策略回调时不持有
	mu    sync.Mutex
	state EngineState
	now   time.Time // 当前 tick 的 bar 时间

	// runMu 串行化 RunBacktest
	runMu sync.Mutex

	statsMu sync.RWMutex
	stats   Statistics
}

// New 创建回测引擎并订阅行情。
func New(cfg Config, components Components) (*TradingEngine, error) {
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = 30 * time.Second
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 5 * time.Second
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = components.Feed.Symbols()
	}

	e := &TradingEngine{
		config:   cfg,
		feed:     components.Feed,
		matcher:  components.Matcher,
		gate:     components.Gate,
		strategy: components.Strategy,
		logger:   components.Logger.Named("engine"),
		recorder: components.Recorder,
		stream:   components.Stream,
		curve:    posttrade.NewEquityCurve(),
		state:    StateIdle,
	}
	e.strategy.Bind(e, cfg.Symbols)
	e.feed.Subscribe(e)
	e.gate.Reset(e.matcher.InitialCash())
	return e, nil
}

// Start 置为运行状态并通知策略。已在运行时只记录告警。
func (e *TradingEngine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		e.logger.Warn("Engine already running")
		return nil
	}
	if e.state == StateStopping {
		e.mu.Unlock()
		return ErrStopping
	}
	e.state = StateRunning
	e.mu.Unlock()

	e.logger.Info("Trading engine started",
		zap.String("strategy", e.strategy.Name()),
		zap.Strings("symbols", e.config.Symbols))
	e.strategy.OnStart()
	return nil
}

// Stop 先让策略收尾（仍可下单），再停止运行并停止回放。
// 并发调用时只有第一个进入 STOPPING 的调用者执行 OnStop。
func (e *TradingEngine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		state := e.state
		e.mu.Unlock()
		e.logger.Warn("Engine not running", zap.String("state", state.String()))
		return nil
	}
	e.state = StateStopping
	e.mu.Unlock()

	e.strategy.OnStop()

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	if err := e.feed.Stop(); err != nil {
		e.logger.Error("Failed to stop feed", zap.Error(err))
	}
	e.logger.Info("Trading engine stopped")
	return nil
}

// PlaceOrder 校验 → 风控 → 撮合器受理。风控拒单不创建订单。
func (e *TradingEngine) PlaceOrder(req order.Request) (*order.Order, error) {
	req = req.WithDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.acceptsOrders() {
		e.logger.Warn("Order not placed, engine not running",
			zap.String("symbol", req.Symbol),
			zap.String("side", string(req.Side)))
		return nil, ErrNotRunning
	}
	if err := req.Validate(); err != nil {
		e.logger.Warn("Order validation failed", zap.String("symbol", req.Symbol), zap.Error(err))
		e.recordError()
		return nil, err
	}

	d := e.gate.Check(e.matcher.Portfolio(), req)
	if !d.Approved {
		e.statsMu.Lock()
		e.stats.RiskRejected++
		e.statsMu.Unlock()
		reason := d.Reason
		if reason == nil {
			reason = errors.New(d.Rule)
		}
		return nil, fmt.Errorf("%w: %w", ErrRiskRejected, reason)
	}
	if d.Resized {
		e.statsMu.Lock()
		e.stats.RiskResized++
		e.statsMu.Unlock()
		req.Quantity = d.Quantity
	}

	o, err := e.matcher.Submit(req, e.clock())
	if err != nil {
		e.recordError()
		return nil, err
	}

	e.statsMu.Lock()
	e.stats.TotalOrders++
	e.stats.LastOrderTime = o.CreatedAt
	e.statsMu.Unlock()
	if e.recorder != nil {
		e.recorder.RecordOrderPlaced()
	}
	e.logger.LogOrder("accepted", o.ID, map[string]interface{}{
		"symbol":  o.Symbol,
		"status":  string(o.Status),
		"side":    string(o.Side),
		"type":    string(o.Type),
		"qty":     o.Quantity,
		"resized": d.Resized,
	})
	e.publishOrder(o)
	return &o, nil
}

// CancelOrder 撤单；终态订单返回错误。
func (e *TradingEngine) CancelOrder(id string) error {
	e.mu.Lock()
	if !e.state.acceptsOrders() {
		e.mu.Unlock()
		e.logger.Warn("Cancel ignored, engine not running", zap.String("order_id", id))
		return ErrNotRunning
	}
	o, err := e.matcher.Cancel(id, e.clock())
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if e.recorder != nil {
		e.recorder.RecordOrderStatus(string(o.Status))
	}
	e.publishOrder(o)
	e.strategy.OnOrderUpdate(o)
	return nil
}

// OnData 每个 tick：撮合 → 事件回调 → 策略 OnData → 记录权益。
// 非 RUNNING 状态下直接丢弃；已开始的 tick 照常走完。
func (e *TradingEngine) OnData(snap market.Snapshot) {
	ts := snap.Time()

	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.now = ts
	events := e.matcher.Process(snap)
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = ts
	e.statsMu.Unlock()
	if e.recorder != nil {
		e.recorder.RecordTick()
	}
	e.publish("tick", map[string]interface{}{
		"ts":      ts.Format(time.RFC3339),
		"symbols": snap.Symbols(),
	})

	for _, ev := range events {
		e.dispatch(ev)
	}

	e.strategy.OnData(snap)
	e.sampleEquity(ts)
}

func (e *TradingEngine) dispatch(ev sim.Event) {
	switch ev.Kind {
	case sim.EventOrderUpdate:
		if e.recorder != nil {
			e.recorder.RecordOrderStatus(string(ev.Order.Status))
		}
		e.publishOrder(ev.Order)
		e.strategy.OnOrderUpdate(ev.Order)
	case sim.EventTrade:
		t := ev.Trade
		if e.recorder != nil {
			e.recorder.RecordTrade(t.Quantity, t.Price, t.Commission, t.RealizedPnL)
		}
		e.publish("trade", map[string]interface{}{
			"symbol":      t.Symbol,
			"side":        t.Side,
			"qty":         t.Quantity,
			"price":       t.Price,
			"commission":  t.Commission,
			"realizedPnl": t.RealizedPnL,
			"orderId":     t.OrderID,
		})
		e.strategy.OnTrade(t)
	}
}

func (e *TradingEngine) sampleEquity(ts time.Time) {
	pf := e.matcher.Portfolio()
	p := e.curve.Add(ts, pf.Equity(), pf.Cash)
	if e.recorder != nil {
		e.recorder.UpdateAccount(p.Cash, p.Equity, p.Drawdown)
	}
	e.publish("equity", map[string]interface{}{
		"ts":       ts.Format(time.RFC3339),
		"equity":   p.Equity,
		"cash":     p.Cash,
		"drawdown": p.Drawdown,
	})
}

// RunBacktest 重置全部状态后回放一遍数据并生成报告。
// ctx 取消时提前结束，返回已回放部分的报告和 ctx 错误。
func (e *TradingEngine) RunBacktest(ctx context.Context) (*posttrade.Report, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := e.joinReplay(); err != nil {
		return nil, err
	}

	e.feed.Reset()
	e.matcher.Reset()
	e.gate.Reset(e.matcher.InitialCash())
	e.curve.Reset()
	e.mu.Lock()
	e.now = time.Time{}
	e.mu.Unlock()
	e.statsMu.Lock()
	e.stats.Runs++
	e.statsMu.Unlock()

	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	if err := e.feed.Start(ctx); err != nil {
		_ = e.Stop()
		return nil, fmt.Errorf("start feed: %w", err)
	}

	var runErr error
	select {
	case <-e.feed.Done():
	case <-time.After(e.config.ReplayTimeout):
		e.logger.Warn("Replay timed out, forcing stop", zap.Duration("timeout", e.config.ReplayTimeout))
		e.forceStopFeed()
	case <-ctx.Done():
		e.forceStopFeed()
		runErr = ctx.Err()
	}

	if err := e.Stop(); err != nil {
		e.logger.Error("Failed to stop engine", zap.Error(err))
	}

	report := e.Report()
	e.logger.Info("Backtest finished",
		zap.Int("ticks", report.Ticks),
		zap.Int("trades", report.Trades),
		zap.Float64("final_equity", report.FinalEquity),
		zap.Float64("pnl_pct", report.PnLPercent))
	return report, runErr
}

// joinReplay 停止仍在进行的回放并等待其退出。
func (e *TradingEngine) joinReplay() error {
	if e.State() == StateRunning {
		_ = e.Stop()
	}
	if !e.feed.Running() {
		return nil
	}
	e.forceStopFeed()
	if e.feed.Running() {
		return ErrReplayActive
	}
	return nil
}

func (e *TradingEngine) forceStopFeed() {
	if err := e.feed.Stop(); err != nil {
		e.logger.Error("Failed to stop feed", zap.Error(err))
	}
	select {
	case <-e.feed.Done():
	case <-time.After(e.config.JoinTimeout):
		e.logger.Error("Timeout waiting for replay to exit", zap.Duration("timeout", e.config.JoinTimeout))
	}
}

// Report 基于当前账本与权益曲线生成报告。
func (e *TradingEngine) Report() *posttrade.Report {
	pf := e.matcher.Portfolio()
	return posttrade.Build(
		e.matcher.InitialCash(),
		pf.Equity(),
		e.matcher.TotalCommission(),
		e.curve.Points(),
		e.matcher.Trades(),
	)
}

// clock 下单时间取当前 bar 时间，尚无行情时用墙钟。
func (e *TradingEngine) clock() time.Time {
	if e.now.IsZero() {
		return time.Now().UTC()
	}
	return e.now
}

func (e *TradingEngine) publishOrder(o order.Order) {
	e.publish("order_update", map[string]interface{}{
		"orderId":   o.ID,
		"symbol":    o.Symbol,
		"status":    string(o.Status),
		"side":      string(o.Side),
		"type":      string(o.Type),
		"qty":       o.Quantity,
		"filledQty": o.FilledQuantity,
		"avgPrice":  o.AvgFillPrice,
	})
}

func (e *TradingEngine) publish(kind string, data map[string]interface{}) {
	if e.stream == nil {
		return
	}
	if err := e.stream.Publish(kind, data); err != nil {
		e.logger.Warn("Stream publish failed", zap.String("kind", kind), zap.Error(err))
	}
}

// recordError 记录错误
func (e *TradingEngine) recordError() {
	e.statsMu.Lock()
	e.stats.TotalErrors++
	e.statsMu.Unlock()
}

// Position 等查询接口同时构成策略使用的 Broker。
func (e *TradingEngine) Position(symbol string) (inventory.Position, bool) {
	return e.matcher.Position(symbol)
}

func (e *TradingEngine) Portfolio() inventory.Portfolio {
	return e.matcher.Portfolio()
}

func (e *TradingEngine) Order(id string) (order.Order, bool) {
	return e.matcher.Order(id)
}

func (e *TradingEngine) Orders(symbol string) []order.Order {
	return e.matcher.Orders(symbol)
}

func (e *TradingEngine) Trades() []inventory.Trade {
	return e.matcher.Trades()
}

func (e *TradingEngine) LatestBar(symbol string) (market.Bar, bool) {
	return e.feed.Latest(symbol)
}

// HistoricalData 返回截至最新已回放 bar 的 period 区间数据，不会看到未来。
func (e *TradingEngine) HistoricalData(symbol, period, interval string) (market.Series, error) {
	span, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	last, ok := e.feed.Latest(symbol)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoMarketPrice, symbol)
	}
	return e.feed.Historical(symbol, last.Timestamp.Add(-span), last.Timestamp, interval)
}

// EquityCurve 当前运行的权益曲线副本。
func (e *TradingEngine) EquityCurve() []posttrade.EquityPoint {
	return e.curve.Points()
}

// State 获取引擎状态
func (e *TradingEngine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Statistics 获取统计信息
func (e *TradingEngine) Statistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Feed == nil {
		return errors.New("feed is required")
	}
	if comp.Matcher == nil {
		return errors.New("matcher is required")
	}
	if comp.Gate == nil {
		return errors.New("risk gate is required")
	}
	if comp.Strategy == nil {
		return errors.New("strategy is required")
	}
	if comp.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}
