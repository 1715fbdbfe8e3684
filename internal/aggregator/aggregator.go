// Package aggregator merges per-venue book snapshots into one
// synthetic book per (symbol, market) and derives spread, depth, and
// price-impact metrics, all as pure functions of the latest snapshots.
package aggregator

import (
	"sort"
	"time"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/venue"
)

// LevelBreakdown is one merged price level of a synthetic book, with
// the per-venue contribution that was summed into it.
type LevelBreakdown struct {
	Price    money.Money
	Quantity money.Money
	Sources  map[string]money.Money // venue name -> quantity contributed
}

// SyntheticBook is the merged view of every fresh, non-degraded venue's
// book for one (symbol, market).
type SyntheticBook struct {
	Symbol string
	Market venue.MarketKind
	Bids   []LevelBreakdown // desc by price
	Asks   []LevelBreakdown // asc by price
	Ts     time.Time
}

// Merge builds a SyntheticBook from the latest fresh snapshot of every
// non-degraded venue. Stale snapshots are skipped
// entirely; the aggregator only ever sees fresh data.
func Merge(symbol string, market venue.MarketKind, books []*venue.Book) *SyntheticBook {
	bidTotals := map[string]*LevelBreakdown{}
	askTotals := map[string]*LevelBreakdown{}
	var latest time.Time

	merge := func(totals map[string]*LevelBreakdown, venueName string, levels []venue.Level) {
		for _, lvl := range levels {
			key := lvl.Price.String()
			lb, ok := totals[key]
			if !ok {
				lb = &LevelBreakdown{Price: lvl.Price, Quantity: money.Zero(lvl.Quantity.Asset()), Sources: map[string]money.Money{}}
				totals[key] = lb
			}
			lb.Quantity, _ = lb.Quantity.Add(lvl.Quantity)
			prev, ok := lb.Sources[venueName]
			if !ok {
				prev = money.Zero(lvl.Quantity.Asset())
			}
			merged, _ := prev.Add(lvl.Quantity)
			lb.Sources[venueName] = merged
		}
	}

	for _, b := range books {
		if b == nil || b.Stale {
			continue
		}
		merge(bidTotals, b.Venue, b.Bids)
		merge(askTotals, b.Venue, b.Asks)
		if b.Ts.After(latest) {
			latest = b.Ts
		}
	}

	bids := flatten(bidTotals)
	asks := flatten(askTotals)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return &SyntheticBook{Symbol: symbol, Market: market, Bids: bids, Asks: asks, Ts: latest}
}

func flatten(totals map[string]*LevelBreakdown) []LevelBreakdown {
	out := make([]LevelBreakdown, 0, len(totals))
	for _, lb := range totals {
		out = append(out, *lb)
	}
	return out
}

// BestBid returns the synthetic book's top bid level, if any.
func (s *SyntheticBook) BestBid() (LevelBreakdown, bool) {
	if len(s.Bids) == 0 {
		return LevelBreakdown{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the synthetic book's top ask level, if any.
func (s *SyntheticBook) BestAsk() (LevelBreakdown, bool) {
	if len(s.Asks) == 0 {
		return LevelBreakdown{}, false
	}
	return s.Asks[0], true
}

// Midpoint returns (best_bid+best_ask)/2, or false if either side is empty.
func (s *SyntheticBook) Midpoint() (money.Money, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return money.Money{}, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return money.Money{}, false
	}
	sum, _ := bid.Price.Add(ask.Price)
	two := money.RateFromInts(1, 2)
	return sum.MulRate(two, money.RoundHalfEven), true
}

// Spread returns best_ask - best_bid.
func (s *SyntheticBook) Spread() (money.Money, bool) {
	bid, ok := s.BestBid()
	if !ok {
		return money.Money{}, false
	}
	ask, ok := s.BestAsk()
	if !ok {
		return money.Money{}, false
	}
	spread, _ := ask.Price.Sub(bid.Price)
	return spread, true
}

// SpreadBps returns 10000 * spread / midpoint.
func (s *SyntheticBook) SpreadBps() (money.Rate, bool) {
	spread, ok := s.Spread()
	if !ok {
		return money.Rate{}, false
	}
	mid, ok := s.Midpoint()
	if !ok || mid.IsZero() {
		return money.Rate{}, false
	}
	r, err := money.RateFromMoneyRatio(spread, mid)
	if err != nil {
		return money.Rate{}, false
	}
	return r.Mul(money.RateFromInts(10000, 1)), true
}

// DepthAt returns the total quantity on both sides within ±pct of the
// midpoint (Open Question decision: both-sides, midpoint-relative, for
// consistency with spread_bps and price_impact).
func (s *SyntheticBook) DepthAt(pct money.Rate) (money.Money, bool) {
	mid, ok := s.Midpoint()
	if !ok {
		return money.Money{}, false
	}
	band := mid.MulRate(pct, money.RoundHalfEven)
	lower, _ := mid.Sub(band)
	upper, _ := mid.Add(band)

	var total money.Money
	var started bool
	accumulate := func(levels []LevelBreakdown) {
		for _, lvl := range levels {
			if lvl.Price.LessThan(lower) || lvl.Price.GreaterThan(upper) {
				continue
			}
			if !started {
				total = money.Zero(lvl.Quantity.Asset())
				started = true
			}
			total, _ = total.Add(lvl.Quantity)
		}
	}
	accumulate(s.Bids)
	accumulate(s.Asks)
	if !started {
		return money.Money{}, false
	}
	return total, true
}

// DepthLevel is one row of a depth_levels([1%,2%,5%,10%]) breakdown.
type DepthLevel struct {
	Pct   money.Rate
	Depth money.Money
}

// DepthLevels tabulates DepthAt for each requested percentage band.
func (s *SyntheticBook) DepthLevels(pcts []money.Rate) []DepthLevel {
	out := make([]DepthLevel, 0, len(pcts))
	for _, pct := range pcts {
		depth, ok := s.DepthAt(pct)
		if !ok {
			continue
		}
		out = append(out, DepthLevel{Pct: pct, Depth: depth})
	}
	return out
}

// ImpactSentinelPct is returned by PriceImpact when the book can't absorb
// the requested notional ("insufficient liquidity").
const ImpactSentinelPct = 100

// PriceImpact walks the ask side (Buy-side impact) up to notional and
// returns the taker-side VWAP minus midpoint as a percentage. Returns
// ImpactSentinelPct if the book is exhausted before notional is filled.
func (s *SyntheticBook) PriceImpact(notional money.Money) (money.Rate, bool) {
	mid, ok := s.Midpoint()
	if !ok {
		return money.Rate{}, false
	}
	if len(s.Asks) == 0 {
		return money.RateFromInts(ImpactSentinelPct, 1), true
	}
	quoteAsset := notional.Asset()
	spent := money.Zero(quoteAsset)
	var filledQty money.Money
	var haveQty bool

	for _, lvl := range s.Asks {
		remainingNotional, _ := notional.Sub(spent)
		if remainingNotional.Sign() <= 0 {
			break
		}
		levelNotional := lvl.Price.MulQuantity(lvl.Quantity, money.RoundHalfEven)
		take := lvl.Quantity
		if levelNotional.GreaterThan(remainingNotional) {
			take = lvl.Price.DivQuantity(remainingNotional, money.RoundDown)
			levelNotional = remainingNotional
		}
		spent, _ = spent.Add(levelNotional)
		if !haveQty {
			filledQty = money.Zero(take.Asset())
			haveQty = true
		}
		filledQty, _ = filledQty.Add(take)
		if !spent.LessThan(notional) {
			break
		}
	}

	if spent.LessThan(notional) {
		return money.RateFromInts(ImpactSentinelPct, 1), true
	}
	vwap := spent.DivQuantity(filledQty, money.RoundHalfEven)
	diff, _ := vwap.Sub(mid)
	impact, err := money.RateFromMoneyRatio(diff, mid)
	if err != nil {
		return money.Rate{}, false
	}
	return impact.Mul(money.RateFromInts(100, 1)), true
}
