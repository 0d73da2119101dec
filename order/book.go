package order

import (
	"errors"
	"sync"
)

var ErrDuplicateID = errors.New("duplicate order id")

// Book 按接受顺序保存订单，撮合时按该顺序遍历。
type Book struct {
	mu     sync.RWMutex
	orders map[string]*Order
	seq    []string
}

func NewBook() *Book {
	return &Book{orders: make(map[string]*Order)}
}

// Add 登记新订单；ID 不可重复。
func (b *Book) Add(o Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.orders[o.ID]; ok {
		return ErrDuplicateID
	}
	cp := o.Clone()
	b.orders[o.ID] = &cp
	b.seq = append(b.seq, o.ID)
	return nil
}

// Update 在锁内修改订单，返回修改后的拷贝。
func (b *Book) Update(id string, fn func(*Order) error) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	if err := fn(o); err != nil {
		return o.Clone(), err
	}
	return o.Clone(), nil
}

func (b *Book) Get(id string) (Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return o.Clone(), true
}

// List 返回全部订单（拷贝，按接受顺序）。
func (b *Book) List() []Order {
	return b.filter(func(*Order) bool { return true })
}

// Active 返回仍可成交的订单 ID，按接受顺序。
func (b *Book) Active() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.seq))
	for _, id := range b.seq {
		if b.orders[id].Active() {
			ids = append(ids, id)
		}
	}
	return ids
}

// BySymbol 返回某 symbol 的订单；symbol 为空返回全部。
func (b *Book) BySymbol(symbol string) []Order {
	return b.filter(func(o *Order) bool { return symbol == "" || o.Symbol == symbol })
}

func (b *Book) filter(keep func(*Order) bool) []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Order, 0, len(b.seq))
	for _, id := range b.seq {
		if o := b.orders[id]; keep(o) {
			res = append(res, o.Clone())
		}
	}
	return res
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.seq)
}

// Reset 清空全部订单。
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[string]*Order)
	b.seq = nil
}
