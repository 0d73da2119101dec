package risk

import (
	"errors"
	"fmt"
)

var (
	ErrDrawdownBreached   = errors.New("max drawdown breached")
	ErrUnpriceable        = errors.New("cannot determine order price")
	ErrPositionLimit      = errors.New("position size at limit")
	ErrConcentrationLimit = errors.New("concentration at limit")
	ErrInvalidLimits      = errors.New("invalid risk limits")
)

// Limits 风控参数，均为权益占比，取值 (0,1)，回测期间不变。
type Limits struct {
	MaxPositionSize  float64 `yaml:"maxPositionSize"`
	MaxOrderSize     float64 `yaml:"maxOrderSize"`
	MaxConcentration float64 `yaml:"maxConcentration"`
	MaxDrawdown      float64 `yaml:"maxDrawdown"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:  0.1,
		MaxOrderSize:     0.05,
		MaxConcentration: 0.25,
		MaxDrawdown:      0.1,
	}
}

// Validate 每个比例都必须落在 (0,1)。
func (l Limits) Validate() error {
	check := func(name string, v float64) error {
		if !(v > 0 && v < 1) {
			return fmt.Errorf("%w: %s=%g must be in (0,1)", ErrInvalidLimits, name, v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"maxPositionSize", l.MaxPositionSize},
		{"maxOrderSize", l.MaxOrderSize},
		{"maxConcentration", l.MaxConcentration},
		{"maxDrawdown", l.MaxDrawdown},
	} {
		if err := check(c.name, c.v); err != nil {
			return err
		}
	}
	return nil
}
