package risk

import (
	"backtest-go/infrastructure/logger"
	"backtest-go/order"
)

// Sink 接收风控结果，通常由指标模块实现。
type Sink interface {
	RiskRejected(rule string)
	RiskResized(rule string)
}

// Observer 需要完整风控结论的订阅者（例如告警）。
type Observer interface {
	OnRiskDecision(req order.Request, d Decision)
}

// Notifier 记录拒单/缩量日志并转发给 Sink 与 Observer。
type Notifier struct {
	log       *logger.Logger
	sink      Sink
	observers []Observer
}

func NewNotifier(log *logger.Logger, sink Sink) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{log: log, sink: sink}
}

// Observe 追加订阅者，需在回测开始前调用。
func (n *Notifier) Observe(o Observer) {
	if o != nil {
		n.observers = append(n.observers, o)
	}
}

func (n *Notifier) Notify(req order.Request, d Decision) {
	if n == nil || (d.Approved && !d.Resized) {
		return
	}
	for _, o := range n.observers {
		o.OnRiskDecision(req, d)
	}
	switch {
	case !d.Approved:
		reason := ""
		if d.Reason != nil {
			reason = d.Reason.Error()
		}
		n.log.LogRisk("order_rejected", map[string]interface{}{
			"symbol": req.Symbol,
			"side":   string(req.Side),
			"qty":    req.Quantity,
			"rule":   d.Rule,
			"reason": reason,
		})
		if n.sink != nil {
			n.sink.RiskRejected(d.Rule)
		}
	case d.Resized:
		n.log.LogRisk("order_resized", map[string]interface{}{
			"symbol": req.Symbol,
			"side":   string(req.Side),
			"qty":    req.Quantity,
			"newQty": d.Quantity,
			"rule":   d.Rule,
			"reason": "resized by " + d.Rule,
		})
		if n.sink != nil {
			n.sink.RiskResized(d.Rule)
		}
	}
}
