package risk

// BuildGuards 按固定顺序组装风控链：回撤 -> 定价 -> 单笔 -> 持仓 -> 集中度。
func BuildGuards(l Limits, dd *DrawdownTracker) MultiGuard {
	return MultiGuard{Guards: []Guard{
		&DrawdownGuard{Max: l.MaxDrawdown, Tracker: dd},
		PriceGuard{},
		OrderSizeGuard{Max: l.MaxOrderSize},
		PositionSizeGuard{Max: l.MaxPositionSize},
		ConcentrationGuard{Max: l.MaxConcentration},
	}}
}
