package posttrade

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"backtest-go/inventory"
)

// 日线收益年化因子
const annualizationFactor = 252

const (
	SummaryFile = "summary.yaml"
	EquityFile  = "equity.csv"
	TradesFile  = "trades.csv"
)

// Report 一次回测的汇总结果。
type Report struct {
	Start           time.Time `yaml:"start"`
	End             time.Time `yaml:"end"`
	Ticks           int       `yaml:"ticks"`
	InitialCash     float64   `yaml:"initialCash"`
	FinalEquity     float64   `yaml:"finalEquity"`
	PnL             float64   `yaml:"pnl"`
	PnLPercent      float64   `yaml:"pnlPercent"`
	Trades          int       `yaml:"trades"`
	ClosingTrades   int       `yaml:"closingTrades"`
	WinningTrades   int       `yaml:"winningTrades"`
	WinRatio        float64   `yaml:"winRatio"`
	RealizedPnL     float64   `yaml:"realizedPnl"`
	TotalCommission float64   `yaml:"totalCommission"`
	MaxDrawdown     float64   `yaml:"maxDrawdown"`
	CAGR            float64   `yaml:"cagr"`
	Sharpe          float64   `yaml:"sharpe"`
	Sortino         float64   `yaml:"sortino"`
	Calmar          float64   `yaml:"calmar"`

	EquityCurve []EquityPoint     `yaml:"-"`
	TradeLog    []inventory.Trade `yaml:"-"`
}

// Build 由权益曲线与成交记录生成报告。曲线为空时只填账户字段。
func Build(initialCash, finalEquity, commission float64, curve []EquityPoint, trades []inventory.Trade) *Report {
	r := &Report{
		InitialCash:     initialCash,
		FinalEquity:     finalEquity,
		PnL:             finalEquity - initialCash,
		Trades:          len(trades),
		TotalCommission: commission,
		EquityCurve:     curve,
		TradeLog:        trades,
		Ticks:           len(curve),
	}
	if initialCash > 0 {
		r.PnLPercent = r.PnL / initialCash * 100
	}

	for _, t := range trades {
		r.RealizedPnL += t.RealizedPnL
		if t.Side != "SELL" {
			continue
		}
		r.ClosingTrades++
		if t.RealizedPnL > 0 {
			r.WinningTrades++
		}
	}
	if r.ClosingTrades > 0 {
		r.WinRatio = float64(r.WinningTrades) / float64(r.ClosingTrades)
	}

	if len(curve) == 0 {
		return r
	}
	r.Start, r.End = curve[0].Time, curve[len(curve)-1].Time
	equity := make([]float64, len(curve))
	for i, p := range curve {
		equity[i] = p.Equity
	}
	r.MaxDrawdown = MaxDrawdown(equity)
	rets := Returns(equity)
	r.Sharpe = Sharpe(rets)
	r.Sortino = Sortino(rets)
	r.CAGR = CAGR(equity, r.End.Sub(r.Start).Hours()/24)
	if r.MaxDrawdown > 0 {
		r.Calmar = r.CAGR / r.MaxDrawdown
	}
	return r
}

// Returns 逐期简单收益；前值为 0 的区间跳过。
func Returns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		out = append(out, equity[i]/equity[i-1]-1)
	}
	return out
}

// MaxDrawdown 最大 (peak-equity)/peak。
func MaxDrawdown(equity []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// Sharpe 年化夏普，无风险利率为 0；样本不足或波动为 0 时返回 0。
func Sharpe(rets []float64) float64 {
	sd := stddev(rets)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(annualizationFactor) * mean(rets) / sd
}

// Sortino 只用下行收益的标准差。
func Sortino(rets []float64) float64 {
	var down []float64
	for _, r := range rets {
		if r < 0 {
			down = append(down, r)
		}
	}
	sd := stddev(down)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(annualizationFactor) * mean(rets) / sd
}

// CAGR 按自然日跨度（可为小数）年化；跨度为 0 或结果溢出时返回 0。
func CAGR(equity []float64, days float64) float64 {
	if len(equity) == 0 || equity[0] <= 0 || equity[len(equity)-1] <= 0 || days <= 0 {
		return 0
	}
	g := math.Pow(equity[len(equity)-1]/equity[0], 365/days) - 1
	if math.IsInf(g, 0) || math.IsNaN(g) {
		return 0
	}
	return g
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// stddev 样本标准差（n-1）。
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// WriteSummary 写出 YAML 汇总。
func (r *Report) WriteSummary(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return enc.Close()
}

func (r *Report) WriteEquityCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "equity", "cash", "drawdown"}); err != nil {
		return err
	}
	for _, p := range r.EquityCurve {
		if err := cw.Write([]string{
			p.Time.Format(time.RFC3339),
			formatFloat(p.Equity),
			formatFloat(p.Cash),
			formatFloat(p.Drawdown),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (r *Report) WriteTradesCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "orderId", "symbol", "side", "quantity", "price", "commission", "realizedPnl"}); err != nil {
		return err
	}
	for _, t := range r.TradeLog {
		if err := cw.Write([]string{
			t.Timestamp.Format(time.RFC3339),
			t.OrderID,
			t.Symbol,
			t.Side,
			formatFloat(t.Quantity),
			formatFloat(t.Price),
			formatFloat(t.Commission),
			formatFloat(t.RealizedPnL),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save 在 dir 下写出 summary.yaml、equity.csv、trades.csv，错误合并返回。
func (r *Report) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	var err error
	err = multierr.Append(err, writeFile(filepath.Join(dir, SummaryFile), r.WriteSummary))
	err = multierr.Append(err, writeFile(filepath.Join(dir, EquityFile), r.WriteEquityCSV))
	err = multierr.Append(err, writeFile(filepath.Join(dir, TradesFile), r.WriteTradesCSV))
	return err
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
