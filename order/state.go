package order

import (
	"errors"
	"fmt"
	"time"
)

// Status represents order lifecycle.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusSubmitted       Status = "SUBMITTED"
	StatusAccepted        Status = "ACCEPTED"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Type string

const (
	TypeMarket    Type = "MARKET"
	TypeLimit     Type = "LIMIT"
	TypeStop      Type = "STOP"
	TypeStopLimit Type = "STOP_LIMIT"
)

// TimeInForce DAY/GTC 挂单直至成交或撤单；IOC/FOK 首个可撮合 tick 未成交即过期。
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

var (
	ErrMissingLimitPrice = errors.New("limit price required")
	ErrMissingStopPrice  = errors.New("stop price required")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidSymbol     = errors.New("symbol required")
	ErrInvalidSide       = errors.New("invalid side")
	ErrInvalidType       = errors.New("invalid order type")
)

// Order holds the simulated order view. Price/StopPrice 为 nil 表示未设置。
type Order struct {
	ID             string
	Symbol         string
	Side           Side
	Type           Type
	Quantity       float64
	Price          *float64
	StopPrice      *float64
	TimeInForce    TimeInForce
	Status         Status
	FilledQuantity float64
	AvgFillPrice   float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastError      string
}

// Clone 深拷贝，价格指针不共享。
func (o Order) Clone() Order {
	if o.Price != nil {
		o.Price = Price(*o.Price)
	}
	if o.StopPrice != nil {
		o.StopPrice = Price(*o.StopPrice)
	}
	return o
}

// Active 订单仍可能成交。
func (o Order) Active() bool {
	return o.Status == StatusAccepted || o.Status == StatusPartiallyFilled
}

func (o Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

func (o Order) String() string {
	s := fmt.Sprintf("%s %s %s %g %s", o.ID, o.Side, o.Type, o.Quantity, o.Symbol)
	if o.Price != nil {
		s += fmt.Sprintf(" @%g", *o.Price)
	}
	if o.StopPrice != nil {
		s += fmt.Sprintf(" stop %g", *o.StopPrice)
	}
	return s + " [" + string(o.Status) + "]"
}

// Price 返回指向 v 的指针，方便构造可选价格。
func Price(v float64) *float64 { return &v }

// Request 下单请求；通过校验并被风控放行后才会生成 Order。
type Request struct {
	Symbol      string
	Side        Side
	Type        Type
	Quantity    float64
	Price       *float64
	StopPrice   *float64
	TimeInForce TimeInForce
}

// Validate 检查必填价格与基本字段。
func (r Request) Validate() error {
	if r.Symbol == "" {
		return ErrInvalidSymbol
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: %q", ErrInvalidSide, r.Side)
	}
	if !(r.Quantity > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidQuantity, r.Quantity)
	}
	switch r.Type {
	case TypeMarket:
	case TypeLimit:
		if r.Price == nil {
			return ErrMissingLimitPrice
		}
	case TypeStop:
		if r.StopPrice == nil {
			return ErrMissingStopPrice
		}
	case TypeStopLimit:
		if r.Price == nil {
			return ErrMissingLimitPrice
		}
		if r.StopPrice == nil {
			return ErrMissingStopPrice
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, r.Type)
	}
	return nil
}

// WithDefaults 补全缺省的 Type 与 TimeInForce。
func (r Request) WithDefaults() Request {
	if r.Type == "" {
		r.Type = TypeMarket
	}
	if r.TimeInForce == "" {
		r.TimeInForce = TIFDay
	}
	return r
}
