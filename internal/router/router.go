// Package router builds a smart order route by greedily walking
// taker-side levels across every non-degraded venue, cheapest
// effective price first.
package router

import (
	"sort"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
)

// VenueLevel is one level of one venue's taker-side book, with the
// venue's fee rate folded in so levels compare on effective price.
type VenueLevel struct {
	Venue    string
	Price    money.Money
	Quantity money.Money
	FeeRate  money.Rate
}

func (l VenueLevel) effectivePrice(side orderbook.Side) money.Money {
	fee := l.Price.MulRate(l.FeeRate, money.RoundHalfEven)
	if side == orderbook.SideBuy {
		sum, _ := l.Price.Add(fee)
		return sum
	}
	diff, _ := l.Price.Sub(fee)
	return diff
}

// RouteStep is one venue fill of a route.
type RouteStep struct {
	Venue       string
	Quantity    money.Money
	Price       money.Money
	Fee         money.Money
	SlippageEst money.Rate
}

// Route is the ordered plan a smart router returns.
type Route struct {
	Steps       []RouteStep
	AvgPrice    money.Money
	PriceImpact money.Rate
	IsComplete  bool
}

// Build walks taker-side levels (asks for Buy, bids for Sell) sorted by
// effective price, drawing min(remaining, level.qty) at each step,
// until qty is exhausted or levels run out.
func Build(side orderbook.Side, qty money.Money, levels []VenueLevel) Route {
	sorted := make([]VenueLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi := sorted[i].effectivePrice(side)
		pj := sorted[j].effectivePrice(side)
		if side == orderbook.SideBuy {
			return pi.LessThan(pj)
		}
		return pi.GreaterThan(pj)
	})

	remaining := qty
	var steps []RouteStep
	var notional money.Money
	var haveNotional bool

	for _, lvl := range sorted {
		if remaining.IsZero() || remaining.Negative() {
			break
		}
		take, err := money.Min(remaining, lvl.Quantity)
		if err != nil || take.IsZero() {
			continue
		}
		levelNotional := lvl.Price.MulQuantity(take, money.RoundHalfEven)
		fee := levelNotional.MulRate(lvl.FeeRate, money.RoundHalfEven)
		steps = append(steps, RouteStep{Venue: lvl.Venue, Quantity: take, Price: lvl.Price, Fee: fee})
		if !haveNotional {
			notional = money.Zero(levelNotional.Asset())
			haveNotional = true
		}
		notional, _ = notional.Add(levelNotional)
		remaining, _ = remaining.Sub(take)
	}

	isComplete := remaining.IsZero()
	var avgPrice money.Money
	var filled money.Money
	if len(steps) > 0 {
		filled, _ = qty.Sub(remaining)
		if !filled.IsZero() {
			avgPrice = notional.DivQuantity(filled, money.RoundHalfEven)
		}
	}

	var impact money.Rate
	if len(sorted) > 0 && !avgPrice.IsZero() {
		best := sorted[0].effectivePrice(side)
		diff, err := avgPrice.Sub(best)
		if err == nil && !best.IsZero() {
			if r, err := money.RateFromMoneyRatio(diff, best); err == nil {
				impact = r.Mul(money.RateFromInts(100, 1))
			}
		}
	}

	return Route{Steps: steps, AvgPrice: avgPrice, PriceImpact: impact, IsComplete: isComplete}
}

// TotalQty sums every step's quantity, which must equal the requested
// qty for a complete route.
func (r Route) TotalQty(base money.Asset) money.Money {
	total := money.Zero(base)
	for _, s := range r.Steps {
		total, _ = total.Add(s.Quantity)
	}
	return total
}
