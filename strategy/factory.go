package strategy

import (
	"fmt"
	"sort"
	"sync"

	"backtest-go/infrastructure/logger"
)

// Constructor 创建策略实例。
type Constructor func(log *logger.Logger) Strategy

// StrategyFactory creates strategy instances based on configuration.
type StrategyFactory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewStrategyFactory 返回已注册内置策略的工厂。
func NewStrategyFactory() *StrategyFactory {
	f := &StrategyFactory{ctors: make(map[string]Constructor)}
	f.Register(MovingAverageCrossoverType, func(log *logger.Logger) Strategy {
		return NewMovingAverageCrossover(log)
	})
	return f
}

// Register 注册或覆盖策略类型。
func (f *StrategyFactory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
}

// CreateStrategy creates a strategy instance based on the type and parameters.
func (f *StrategyFactory) CreateStrategy(strategyType string, params Params, log *logger.Logger) (Strategy, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[strategyType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy type: %s", strategyType)
	}
	if log == nil {
		log = logger.Nop()
	}
	s := ctor(log.Named(strategyType))
	if err := s.SetParameters(params); err != nil {
		return nil, fmt.Errorf("strategy %s: %w", strategyType, err)
	}
	return s, nil
}

func (f *StrategyFactory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
