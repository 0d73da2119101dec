package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"backtest-go/infrastructure/logger"
	"backtest-go/inventory"
	"backtest-go/market"
	"backtest-go/order"
)

const MovingAverageCrossoverType = "moving_average_crossover"

// Signal 均线交叉信号。
type Signal int

const (
	SignalHold Signal = 0
	SignalBuy  Signal = 1
	SignalSell Signal = -1
)

// MovingAverageCrossover 短均线上穿长均线买入（限价=最新收盘），下穿时平多。
// 账本不支持做空，下穿只平仓不反手。
type MovingAverageCrossover struct {
	Base
	ShortWindow  int
	LongWindow   int
	PositionSize float64 // 每次开仓占权益比例

	closes  map[string][]float64
	signals map[string]Signal
}

func NewMovingAverageCrossover(log *logger.Logger) *MovingAverageCrossover {
	return &MovingAverageCrossover{
		Base:         NewBase(log),
		ShortWindow:  10,
		LongWindow:   50,
		PositionSize: 0.1,
		closes:       make(map[string][]float64),
		signals:      make(map[string]Signal),
	}
}

func (s *MovingAverageCrossover) Name() string { return MovingAverageCrossoverType }

func (s *MovingAverageCrossover) SetParameters(p Params) error {
	short, err := p.Int("shortWindow", s.ShortWindow)
	if err != nil {
		return err
	}
	long, err := p.Int("longWindow", s.LongWindow)
	if err != nil {
		return err
	}
	size, err := p.Float("positionSize", s.PositionSize)
	if err != nil {
		return err
	}
	if short <= 0 || long <= short {
		return fmt.Errorf("invalid windows: short=%d long=%d", short, long)
	}
	if !(size > 0 && size <= 1) {
		return fmt.Errorf("positionSize must be in (0,1], got %g", size)
	}
	s.ShortWindow, s.LongWindow, s.PositionSize = short, long, size
	return nil
}

func (s *MovingAverageCrossover) OnStart() {
	s.Logger.Info("Starting moving average crossover",
		zap.Int("short_window", s.ShortWindow),
		zap.Int("long_window", s.LongWindow),
		zap.Strings("symbols", s.Symbols()))
	s.closes = make(map[string][]float64, len(s.Symbols()))
	s.signals = make(map[string]Signal, len(s.Symbols()))
}

func (s *MovingAverageCrossover) OnData(snap market.Snapshot) {
	for _, sym := range s.Symbols() {
		bar, ok := snap[sym]
		if !ok {
			continue
		}
		// 只保留计算前一根均线所需的 long+1 个收盘价
		closes := append(s.closes[sym], bar.Close)
		if len(closes) > s.LongWindow+1 {
			closes = closes[len(closes)-(s.LongWindow+1):]
		}
		s.closes[sym] = closes
		if len(closes) < s.LongWindow+1 {
			continue
		}
		sig := crossover(closes, s.ShortWindow, s.LongWindow)
		s.signals[sym] = sig
		if sig != SignalHold {
			s.execute(sym, sig, bar.Close)
		}
	}
}

// crossover 比较当前与上一根的短/长均线。
func crossover(closes []float64, short, long int) Signal {
	n := len(closes)
	shortMA := mean(closes[n-short:])
	longMA := mean(closes[n-long:])
	prevShort := mean(closes[n-short-1 : n-1])
	prevLong := mean(closes[n-long-1 : n-1])
	switch {
	case prevShort <= prevLong && shortMA > longMA:
		return SignalBuy
	case prevShort >= prevLong && shortMA < longMA:
		return SignalSell
	default:
		return SignalHold
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func (s *MovingAverageCrossover) execute(sym string, sig Signal, last float64) {
	pos, held := s.Position(sym)
	switch sig {
	case SignalBuy:
		if held && pos.Quantity > 0 {
			return
		}
		equity := s.Portfolio().Equity()
		if equity <= 0 || last <= 0 {
			return
		}
		qty := equity * s.PositionSize / last
		s.Logger.Info("Golden cross, buying",
			zap.String("symbol", sym),
			zap.Float64("qty", qty),
			zap.Float64("price", last))
		if _, err := s.Buy(sym, qty, order.TypeLimit, order.Price(last), nil); err != nil {
			s.Logger.Warn("Buy not placed", zap.String("symbol", sym), zap.Error(err))
		}
	case SignalSell:
		if !held || pos.Quantity <= 0 {
			return
		}
		s.Logger.Info("Death cross, closing long", zap.String("symbol", sym), zap.Float64("qty", pos.Quantity))
		if _, err := s.Close(sym); err != nil {
			s.Logger.Warn("Close not placed", zap.String("symbol", sym), zap.Error(err))
		}
	}
}

// LastSignal 最近一次计算出的信号。
func (s *MovingAverageCrossover) LastSignal(sym string) Signal { return s.signals[sym] }

func (s *MovingAverageCrossover) OnOrderUpdate(o order.Order) {
	s.Logger.Debug("Order update",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("status", string(o.Status)))
}

func (s *MovingAverageCrossover) OnTrade(t inventory.Trade) {
	s.Logger.Debug("Trade", zap.String("symbol", t.Symbol), zap.String("side", t.Side), zap.Float64("qty", t.Quantity))
}

// OnStop 平掉所有持仓。
func (s *MovingAverageCrossover) OnStop() {
	s.Logger.Info("Stopping moving average crossover")
	for _, sym := range s.Symbols() {
		if pos, ok := s.Position(sym); ok && pos.Quantity != 0 {
			if _, err := s.Close(sym); err != nil {
				s.Logger.Warn("Close on stop failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
	}
}
