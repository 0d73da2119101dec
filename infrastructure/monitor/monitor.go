package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus 回测指标收集器，使用独立 registry，多次运行互不干扰。
type Monitor struct {
	registry *prometheus.Registry

	// 行情
	ticks prometheus.Counter

	// 订单指标
	ordersPlaced   prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersFilled   prometheus.Counter
	ordersRejected prometheus.Counter
	ordersExpired  prometheus.Counter

	// 交易指标
	tradesTotal     prometheus.Counter
	tradedVolume    prometheus.Counter
	tradedNotional  prometheus.Counter
	commissionTotal prometheus.Counter
	realizedPnL     prometheus.Gauge

	// 账户
	cash     prometheus.Gauge
	equity   prometheus.Gauge
	drawdown prometheus.Gauge

	// 风控指标
	riskRejects *prometheus.CounterVec
	riskResizes *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "backtest",
		Subsystem: "engine",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	return &Monitor{
		registry: reg,

		ticks: counter("ticks_total", "已回放的 tick 数"),

		ordersPlaced:   counter("orders_placed_total", "订单下单总数"),
		ordersCanceled: counter("orders_canceled_total", "订单撤单总数"),
		ordersFilled:   counter("orders_filled_total", "订单成交总数"),
		ordersRejected: counter("orders_rejected_total", "订单拒绝总数"),
		ordersExpired:  counter("orders_expired_total", "订单过期总数"),

		tradesTotal:     counter("trades_total", "成交笔数总数"),
		tradedVolume:    counter("traded_volume_total", "累计成交量"),
		tradedNotional:  counter("traded_notional_total", "累计成交额"),
		commissionTotal: counter("commission_total", "累计手续费"),
		realizedPnL:     gauge("realized_pnl", "已实现盈亏"),

		cash:     gauge("cash", "当前现金"),
		equity:   gauge("equity", "当前权益"),
		drawdown: gauge("drawdown_ratio", "相对权益峰值的回撤比例"),

		riskRejects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "risk_rejects_total",
				Help:      "风控拒单总数",
			},
			[]string{"rule"},
		),
		riskResizes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "risk_resizes_total",
				Help:      "风控缩量总数",
			},
			[]string{"rule"},
		),
	}
}

func (m *Monitor) RecordTick() {
	m.ticks.Inc()
}

func (m *Monitor) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderStatus 按终态计数，其余状态忽略。
func (m *Monitor) RecordOrderStatus(status string) {
	switch status {
	case "FILLED":
		m.ordersFilled.Inc()
	case "CANCELED":
		m.ordersCanceled.Inc()
	case "REJECTED":
		m.ordersRejected.Inc()
	case "EXPIRED":
		m.ordersExpired.Inc()
	}
}

// RecordTrade 交易相关
func (m *Monitor) RecordTrade(qty, price, commission, realized float64) {
	m.tradesTotal.Inc()
	m.tradedVolume.Add(qty)
	m.tradedNotional.Add(qty * price)
	m.commissionTotal.Add(commission)
	m.realizedPnL.Add(realized)
}

// UpdateAccount drawdown 为 (peak-equity)/peak。
func (m *Monitor) UpdateAccount(cash, equity, drawdown float64) {
	m.cash.Set(cash)
	m.equity.Set(equity)
	m.drawdown.Set(drawdown)
}

// RiskRejected 实现 risk.Sink。
func (m *Monitor) RiskRejected(rule string) {
	m.riskRejects.WithLabelValues(rule).Inc()
}

func (m *Monitor) RiskResized(rule string) {
	m.riskResizes.WithLabelValues(rule).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
