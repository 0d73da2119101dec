package container

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"backtest-go/config"
	"backtest-go/infrastructure/alert"
	"backtest-go/infrastructure/logger"
	"backtest-go/infrastructure/monitor"
	"backtest-go/infrastructure/stream"
	"backtest-go/internal/engine"
	"backtest-go/market"
	"backtest-go/posttrade"
	"backtest-go/risk"
	"backtest-go/sim"
	"backtest-go/strategy"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	hub     *stream.Hub
	alerts  *alert.Manager

	// 核心服务
	data     map[string]market.Series
	feed     *market.ReplayFeed
	matcher  *sim.BacktestMatcher
	gate     *risk.Gate
	strategy strategy.Strategy
	engine   *engine.TradingEngine

	factory *strategy.StrategyFactory

	// HTTP服务器
	metricsServer *httpServerComponent
	streamServer  *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// Option 调整容器构建过程。
type Option func(*Container)

// WithData 使用给定行情，跳过从 data.dir 加载。
func WithData(data map[string]market.Series) Option {
	return func(c *Container) { c.data = data }
}

// WithLogger 使用外部日志器，忽略 logging 配置。
func WithLogger(log *logger.Logger) Option {
	return func(c *Container) { c.logger = log }
}

// WithStrategyFactory 使用自定义策略工厂（可注册额外策略）。
func WithStrategyFactory(f *strategy.StrategyFactory) Option {
	return func(c *Container) { c.factory = f }
}

// New 创建新的Container实例
func New(cfg config.AppConfig, opts ...Option) *Container {
	c := &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromFile 从配置文件（含 BT_* 环境变量覆盖）创建容器。
func NewFromFile(path string, opts ...Option) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return New(cfg, opts...), nil
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := config.Validate(c.cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildMarketData(); err != nil {
		return fmt.Errorf("build market data failed: %w", err)
	}
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully")
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		log, err := logger.New(c.cfg.Logging)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
		c.logger = log
	}
	c.monitor = monitor.New(monitor.DefaultConfig())
	if c.cfg.Stream.Addr != "" {
		c.hub = stream.NewHub(c.logger)
	}
	if c.cfg.Alerts.Enabled {
		channels := []alert.Channel{alert.NewLogChannel("log", c.logger)}
		if c.hub != nil {
			channels = append(channels, alert.NewStreamChannel("stream", c.hub))
		}
		c.alerts = alert.NewManager(channels, c.cfg.AlertThrottle())
	}
	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildMarketData() error {
	if c.data == nil {
		data, err := market.LoadDir(c.cfg.Data.Dir, c.cfg.Symbols, c.cfg.CSVOptions())
		if err != nil {
			return err
		}
		c.data = data
	}
	for _, sym := range c.cfg.Symbols {
		if _, ok := c.data[sym]; !ok {
			return fmt.Errorf("%w: %s", market.ErrUnknownSymbol, sym)
		}
	}
	c.feed = market.NewReplayFeed(c.data, c.cfg.Data.ReplaySpeed, c.logger)
	c.logger.Info("market data loaded",
		zap.Strings("symbols", c.feed.Symbols()),
		zap.Float64("replay_speed", c.cfg.Data.ReplaySpeed))
	return nil
}

func (c *Container) buildCoreServices() error {
	var err error
	c.matcher, err = sim.NewMatcher(c.cfg.Execution, c.logger)
	if err != nil {
		return fmt.Errorf("matcher: %w", err)
	}
	notifier := risk.NewNotifier(c.logger.Named("risk"), c.monitor)
	if c.alerts != nil {
		notifier.Observe(c.alerts)
	}
	c.gate, err = risk.NewGate(c.cfg.Risk, notifier)
	if err != nil {
		return fmt.Errorf("risk gate: %w", err)
	}

	if c.factory == nil {
		c.factory = strategy.NewStrategyFactory()
	}
	c.strategy, err = c.factory.CreateStrategy(c.cfg.Strategy.Type, strategy.Params(c.cfg.Strategy.Parameters), c.logger.Named("strategy"))
	if err != nil {
		return err
	}

	comps := engine.Components{
		Feed:     c.feed,
		Matcher:  c.matcher,
		Gate:     c.gate,
		Strategy: c.strategy,
		Logger:   c.logger,
		Recorder: c.monitor,
	}
	// 接口字段不能持有 nil 指针
	if c.hub != nil {
		comps.Stream = c.hub
	}
	c.engine, err = engine.New(engine.Config{
		Symbols:       c.cfg.Symbols,
		ReplayTimeout: c.cfg.ReplayTimeout(),
	}, comps)
	if err != nil {
		return err
	}
	c.logger.Info("core services built", zap.String("strategy", c.strategy.Name()))
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		c.metricsServer = newHTTPServerComponent("metrics_server", c.cfg.Metrics.Addr, c.monitor.Handler(), c.logger)
		c.lifecycle.Register(c.metricsServer)
	}
	if c.hub != nil {
		c.streamServer = newHTTPServerComponent("stream_server", c.cfg.Stream.Addr, c.hub, c.logger)
		c.lifecycle.Register(c.streamServer)
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Run 执行一次回测并把报告写入 output.directory。
func (c *Container) Run(ctx context.Context) (*posttrade.Report, error) {
	if c.engine == nil {
		return nil, errors.New("container not built")
	}
	if c.alerts != nil {
		c.alerts.ResetThrottle()
	}
	report, runErr := c.engine.RunBacktest(ctx)
	if report == nil {
		return nil, runErr
	}
	if c.alerts != nil && c.alerts.Suppressed() > 0 {
		c.logger.Info("alerts throttled", zap.Uint64("suppressed", c.alerts.Suppressed()))
	}
	if err := report.Save(c.cfg.Output.Directory); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "save_report"})
		return report, multierr.Append(runErr, err)
	}
	c.logger.Info("report written", zap.String("dir", c.cfg.Output.Directory))
	return report, runErr
}

func (c *Container) Stop() error {
	if c.logger == nil {
		return nil
	}
	c.logger.Info("stopping container...")

	var err error
	if c.engine != nil {
		err = multierr.Append(err, c.engine.Stop())
	}
	err = multierr.Append(err, c.lifecycle.StopAll())
	if c.hub != nil {
		err = multierr.Append(err, c.hub.Close())
	}
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	// stdout 的 Sync 在部分平台上报错，忽略
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig                  { return c.cfg }
func (c *Container) Engine() *engine.TradingEngine             { return c.engine }
func (c *Container) Monitor() *monitor.Monitor                 { return c.monitor }
func (c *Container) Hub() *stream.Hub                          { return c.hub }
func (c *Container) Alerts() *alert.Manager                    { return c.alerts }
func (c *Container) Logger() *logger.Logger                    { return c.logger }
func (c *Container) StrategyFactory() *strategy.StrategyFactory { return c.factory }

// MetricsAddr 指标服务实际监听地址，未启用时为空。
func (c *Container) MetricsAddr() string {
	if c.metricsServer == nil {
		return ""
	}
	return c.metricsServer.Addr()
}

// StreamAddr 事件流实际监听地址，未启用时为空。
func (c *Container) StreamAddr() string {
	if c.streamServer == nil {
		return ""
	}
	return c.streamServer.Addr()
}
