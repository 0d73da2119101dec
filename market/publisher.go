package market

import "sync"

// Subscriber 接收每个 tick 的快照。
type Subscriber interface {
	OnData(Snapshot)
}

// SubscriberFunc 把普通函数适配为 Subscriber。
type SubscriberFunc func(Snapshot)

func (f SubscriberFunc) OnData(s Snapshot) { f(s) }

// Publisher 按注册顺序同步分发快照。
type Publisher struct {
	mu   sync.RWMutex
	subs []Subscriber
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make([]Subscriber, 0)}
}

func (p *Publisher) Subscribe(s Subscriber) {
	if s == nil {
		return
	}
	p.mu.Lock()
	p.subs = append(p.subs, s)
	p.mu.Unlock()
}

// Unsubscribe 移除订阅者。函数类型不可比较，只能按接口值相等移除。
func (p *Publisher) Unsubscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, sub := range p.subs {
		if sameSubscriber(sub, s) {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func sameSubscriber(a, b Subscriber) bool {
	if _, ok := a.(SubscriberFunc); ok {
		return false
	}
	if _, ok := b.(SubscriberFunc); ok {
		return false
	}
	return a == b
}

// Publish 同步调用每个订阅者，调用期间不持有锁。
func (p *Publisher) Publish(s Snapshot) {
	p.mu.RLock()
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()
	for _, sub := range subs {
		sub.OnData(s)
	}
}

// Len 返回订阅者数量。
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
