package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownOrder = errors.New("unknown order")
	ErrTerminal     = errors.New("order already in final state")
)

// Manager 负责订单生命周期：创建、撤单、成交、拒绝、过期。
type Manager struct {
	book  *Book
	sm    *StateMachine
	newID func() string
}

func NewManager() *Manager {
	return &Manager{
		book:  NewBook(),
		sm:    NewStateMachine(),
		newID: generateID,
	}
}

// Accept 校验请求并生成订单，状态经 CREATED -> SUBMITTED -> ACCEPTED。
func (m *Manager) Accept(req Request, now time.Time) (Order, error) {
	req = req.WithDefaults()
	if err := req.Validate(); err != nil {
		return Order{}, err
	}
	o := Order{
		ID:          m.newID(),
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, st := range []Status{StatusSubmitted, StatusAccepted} {
		if err := m.sm.ValidateTransition(o.Status, st); err != nil {
			return Order{}, err
		}
		o.Status = st
	}
	if err := m.book.Add(o); err != nil {
		return Order{}, err
	}
	return o.Clone(), nil
}

// Cancel 撤单；终态订单返回 ErrTerminal。
func (m *Manager) Cancel(id string, now time.Time) (Order, error) {
	return m.book.Update(id, func(o *Order) error {
		if !m.sm.CanCancel(o.Status) {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, id, o.Status)
		}
		return m.transition(o, StatusCanceled, now)
	})
}

// Fill 记录一次全部成交。
func (m *Manager) Fill(id string, qty, price float64, now time.Time) (Order, error) {
	return m.book.Update(id, func(o *Order) error {
		if err := m.transition(o, StatusFilled, now); err != nil {
			return err
		}
		o.FilledQuantity = qty
		o.AvgFillPrice = price
		return nil
	})
}

// Reject 执行阶段拒绝，原因记入 LastError。
func (m *Manager) Reject(id string, reason error, now time.Time) (Order, error) {
	return m.book.Update(id, func(o *Order) error {
		if err := m.transition(o, StatusRejected, now); err != nil {
			return err
		}
		if reason != nil {
			o.LastError = reason.Error()
		}
		return nil
	})
}

func (m *Manager) Expire(id string, now time.Time) (Order, error) {
	return m.book.Update(id, func(o *Order) error {
		return m.transition(o, StatusExpired, now)
	})
}

// ConvertStopLimit 止损触发后把 STOP_LIMIT 就地改为 LIMIT，撤单后不回退。
func (m *Manager) ConvertStopLimit(id string, now time.Time) (Order, error) {
	return m.book.Update(id, func(o *Order) error {
		if o.Type != TypeStopLimit {
			return fmt.Errorf("order %s is %s, not %s", id, o.Type, TypeStopLimit)
		}
		o.Type = TypeLimit
		o.UpdatedAt = now
		return nil
	})
}

func (m *Manager) transition(o *Order, to Status, now time.Time) error {
	if m.sm.IsFinalState(o.Status) {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, o.ID, o.Status)
	}
	if err := m.sm.ValidateTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (m *Manager) Get(id string) (Order, bool) { return m.book.Get(id) }

// Orders 返回 symbol 的所有订单；symbol 为空返回全部。
func (m *Manager) Orders(symbol string) []Order { return m.book.BySymbol(symbol) }

// Active 返回待撮合订单 ID（接受顺序）。
func (m *Manager) Active() []string { return m.book.Active() }

func (m *Manager) Reset() { m.book.Reset() }

func generateID() string {
	return uuid.NewString()
}
