package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"backtest-go/infrastructure/logger"
	"backtest-go/market"
	"backtest-go/risk"
	"backtest-go/sim"
)

// AppConfig holds the backtest configuration.
type AppConfig struct {
	Symbols   []string       `yaml:"symbols"`
	Data      DataConfig     `yaml:"data"`
	Execution sim.Config     `yaml:"execution"`
	Risk      risk.Limits    `yaml:"risk"`
	Strategy  StrategyConfig `yaml:"strategy"`
	Engine    EngineConfig   `yaml:"engine"`
	Logging   logger.Config  `yaml:"logging"`
	Output    OutputConfig   `yaml:"output"`
	Metrics   ServerConfig   `yaml:"metrics"`
	Stream    ServerConfig   `yaml:"stream"`
	Alerts    AlertConfig    `yaml:"alerts"`
}

// DataConfig 行情数据来源。DateFormat 为 Go time layout，为空时使用默认格式。
type DataConfig struct {
	Dir             string         `yaml:"dir"`
	DateFormat      string         `yaml:"dateFormat"`
	TimestampColumn string         `yaml:"timestampColumn"`
	Columns         market.Columns `yaml:"columns"`
	ReplaySpeed     float64        `yaml:"replaySpeed"` // 每秒 tick 数，<=0 不限速
}

type StrategyConfig struct {
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters"`
}

type EngineConfig struct {
	ReplayTimeoutSeconds int `yaml:"replayTimeoutSeconds"`
}

type OutputConfig struct {
	Directory string `yaml:"directory"`
}

// AlertConfig 风控告警。同一级别同一规则在 ThrottleSeconds 内只发一次。
type AlertConfig struct {
	Enabled         bool `yaml:"enabled"`
	ThrottleSeconds int  `yaml:"throttleSeconds"`
}

// ServerConfig 可选 HTTP 端点，Addr 为空时不启动。
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default 返回一份可直接运行的配置。
func Default() AppConfig {
	opts := market.DefaultCSVOptions()
	return AppConfig{
		Symbols: []string{"AAPL", "MSFT"},
		Data: DataConfig{
			Dir:             "data",
			DateFormat:      opts.DateFormat,
			TimestampColumn: opts.TimestampColumn,
			Columns:         opts.Columns,
		},
		Execution: sim.DefaultConfig(),
		Risk:      risk.DefaultLimits(),
		Strategy: StrategyConfig{
			Type: "moving_average_crossover",
			Parameters: map[string]interface{}{
				"shortWindow":  10,
				"longWindow":   50,
				"positionSize": 0.1,
			},
		},
		Engine:  EngineConfig{ReplayTimeoutSeconds: 30},
		Logging: logger.DefaultConfig(),
		Output:  OutputConfig{Directory: "output"},
		Alerts:  AlertConfig{Enabled: true, ThrottleSeconds: 60},
	}
}

// CSVOptions 转换为行情加载选项。
func (c AppConfig) CSVOptions() market.CSVOptions {
	return market.CSVOptions{
		TimestampColumn: c.Data.TimestampColumn,
		DateFormat:      c.Data.DateFormat,
		Columns:         c.Data.Columns,
	}
}

// AlertThrottle 告警限流窗口。
func (c AppConfig) AlertThrottle() time.Duration {
	return time.Duration(c.Alerts.ThrottleSeconds) * time.Second
}

// ReplayTimeout 回放等待上限。
func (c AppConfig) ReplayTimeout() time.Duration {
	return time.Duration(c.Engine.ReplayTimeoutSeconds) * time.Second
}

// Load reads YAML (or JSON) config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	// 文件里写了 parameters 时整体替换默认参数
	cfg.Strategy.Parameters = nil
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Strategy.Parameters == nil {
		cfg.Strategy.Parameters = Default().Strategy.Parameters
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides fields from BT_* env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BT_DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("BT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BT_INITIAL_CASH"); v != "" {
		cash, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("BT_INITIAL_CASH: %w", err)
		}
		cfg.Execution.InitialCash = cash
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols is required")
	}
	seen := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s == "" {
			return errors.New("symbols must not contain empty names")
		}
		if seen[s] {
			return fmt.Errorf("duplicate symbol %s", s)
		}
		seen[s] = true
	}
	if cfg.Data.Dir == "" {
		return errors.New("data.dir is required")
	}
	if cfg.Data.ReplaySpeed < 0 || math.IsNaN(cfg.Data.ReplaySpeed) || math.IsInf(cfg.Data.ReplaySpeed, 0) {
		return errors.New("data.replaySpeed must be a finite number >= 0")
	}
	if err := cfg.Execution.Validate(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if cfg.Strategy.Type == "" {
		return errors.New("strategy.type is required")
	}
	if cfg.Engine.ReplayTimeoutSeconds <= 0 {
		return errors.New("engine.replayTimeoutSeconds must be > 0")
	}
	if cfg.Output.Directory == "" {
		return errors.New("output.directory is required")
	}
	if cfg.Alerts.ThrottleSeconds < 0 {
		return errors.New("alerts.throttleSeconds must be >= 0")
	}
	return nil
}

// Save 写出 YAML 配置，必要时创建目录。
func Save(cfg AppConfig, path string) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
