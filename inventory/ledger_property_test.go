package inventory

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

// 每笔成交前后现金变化等于 ∓(qty*price) ∓ commission。
func TestProperty_CashConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewLedger(rapid.Float64Range(1000, 1e6).Draw(t, "cash"))
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			isBuy := rapid.Bool().Draw(t, "buy")
			qty := float64(rapid.IntRange(1, 100).Draw(t, "qty"))
			price := rapid.Float64Range(1, 500).Draw(t, "price")
			comm := qty * price * 0.001

			f := Fill{Symbol: "X", Side: "SELL", Quantity: qty, Price: price, Commission: comm, Mark: price, Timestamp: ts}
			if isBuy {
				f.Side = "BUY"
			}
			before := l.Cash()
			_, err := l.Apply(f)
			after := l.Cash()
			if err != nil {
				if after != before {
					t.Fatalf("rejected fill changed cash: %v -> %v", before, after)
				}
				continue
			}
			want := before - qty*price - comm
			if !isBuy {
				want = before + qty*price - comm
			}
			if math.Abs(after-want) > 1e-6 {
				t.Fatalf("cash %v, want %v", after, want)
			}
			if after < 0 {
				t.Fatalf("cash went negative: %v", after)
			}
		}
	})
}

// 连续买入后均价等于 Σq*p / Σq。
func TestProperty_WeightedAverageEntry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := NewLedger(1e12)
		n := rapid.IntRange(1, 20).Draw(t, "n")
		var sumQ, sumQP float64
		for i := 0; i < n; i++ {
			qty := float64(rapid.IntRange(1, 1000).Draw(t, "qty"))
			price := rapid.Float64Range(0.5, 1000).Draw(t, "price")
			if _, err := l.Apply(buy("X", qty, price)); err != nil {
				t.Fatalf("buy: %v", err)
			}
			sumQ += qty
			sumQP += qty * price
		}
		pos, ok := l.Position("X")
		if !ok {
			t.Fatalf("position missing")
		}
		if pos.Quantity != sumQ {
			t.Fatalf("qty %v, want %v", pos.Quantity, sumQ)
		}
		want := sumQP / sumQ
		if math.Abs(pos.AvgEntryPrice-want) > 1e-9*want {
			t.Fatalf("avg %v, want %v", pos.AvgEntryPrice, want)
		}
	})
}
