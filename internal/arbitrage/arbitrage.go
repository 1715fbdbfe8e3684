// Package arbitrage scans pairs of venues for profitable cross-venue
// spreads, net of fees and gas, with a monotone confidence score and
// TTL-based expiry.
package arbitrage

import (
	"math"
	"math/big"
	"time"

	"github.com/orbitcex/exchange-core/internal/metrics"
	"github.com/orbitcex/exchange-core/internal/money"
)

// VenueQuote is the top-of-book snapshot of one venue used as detector
// input: best ask (to buy) and best bid (to sell), with each side's
// resting quantity and the venue's taker fee rate.
type VenueQuote struct {
	Venue      string
	BestBid    money.Money
	BestBidQty money.Money
	BestAsk    money.Money
	BestAskQty money.Money
	FeeRate    money.Rate
}

// Opportunity is an emitted cross-venue arbitrage signal.
type Opportunity struct {
	Symbol     string
	BuyVenue   string
	SellVenue  string
	BuyPrice   money.Money
	SellPrice  money.Money
	MaxQty     money.Money
	GrossProfit money.Money
	FeesAndGas money.Money
	NetProfit  money.Money
	Confidence float64
	Ts         time.Time
	ttl        time.Duration
}

// Expired reports whether the opportunity has outlived its ttl_ms.
func (o Opportunity) Expired(now time.Time) bool {
	return now.Sub(o.Ts) > o.ttl
}

// GasCostFunc returns the configured gas cost (in quote asset) for
// moving inventory between a venue pair; it is a caller-supplied
// function since gas costs are a per-venue-pair config, not a detector
// concern.
type GasCostFunc func(buyVenue, sellVenue string) money.Money

// Scan evaluates every ordered pair of non-degraded venue quotes for a
// symbol and returns the profitable opportunities. It is a pure
// function of its inputs; callers that want emitted opportunities
// counted in metrics should use ScanAndRecord instead.
func Scan(symbol string, quotes []VenueQuote, minProfitThreshold money.Money, minSpreadBps money.Rate, ttl time.Duration, gasCost func(buyVenue, sellVenue string) money.Money, now time.Time) []Opportunity {
	var out []Opportunity
	for _, a := range quotes {
		for _, b := range quotes {
			if a.Venue == b.Venue {
				continue
			}
			opp, ok := evaluate(symbol, a, b, minProfitThreshold, minSpreadBps, ttl, gasCost, now)
			if ok {
				out = append(out, opp)
			}
		}
	}
	return out
}

// ScanAndRecord runs Scan and increments the arbitrage-opportunities
// counter for every opportunity found, for callers running the
// detector as a live loop rather than a test.
func ScanAndRecord(symbol string, quotes []VenueQuote, minProfitThreshold money.Money, minSpreadBps money.Rate, ttl time.Duration, gasCost func(buyVenue, sellVenue string) money.Money, now time.Time) []Opportunity {
	out := Scan(symbol, quotes, minProfitThreshold, minSpreadBps, ttl, gasCost, now)
	if len(out) > 0 {
		metrics.ArbitrageOpportunitiesTotal.WithLabelValues(symbol).Add(float64(len(out)))
	}
	return out
}

func evaluate(symbol string, buy, sell VenueQuote, minProfitThreshold money.Money, minSpreadBps money.Rate, ttl time.Duration, gasCost func(string, string) money.Money, now time.Time) (Opportunity, bool) {
	if buy.BestAsk.IsZero() || sell.BestBid.IsZero() {
		return Opportunity{}, false
	}
	gross, err := sell.BestBid.Sub(buy.BestAsk)
	if err != nil || gross.Sign() <= 0 {
		return Opportunity{}, false
	}

	maxQty, err := money.Min(buy.BestAskQty, sell.BestBidQty)
	if err != nil || maxQty.IsZero() {
		return Opportunity{}, false
	}

	grossProfit := gross.MulQuantity(maxQty, money.RoundDown)
	buyNotional := buy.BestAsk.MulQuantity(maxQty, money.RoundHalfEven)
	sellNotional := sell.BestBid.MulQuantity(maxQty, money.RoundHalfEven)
	buyFee := buyNotional.MulRate(buy.FeeRate, money.RoundHalfEven)
	sellFee := sellNotional.MulRate(sell.FeeRate, money.RoundHalfEven)
	fees, _ := buyFee.Add(sellFee)

	var gas money.Money
	if gasCost != nil {
		gas = gasCost(buy.Venue, sell.Venue)
	} else {
		gas = money.Zero(fees.Asset())
	}
	feesAndGas, err := fees.Add(gas)
	if err != nil {
		return Opportunity{}, false
	}

	net, err := grossProfit.Sub(feesAndGas)
	if err != nil || !net.GreaterThan(minProfitThreshold) {
		return Opportunity{}, false
	}

	spreadRate, err := money.RateFromMoneyRatio(gross, buy.BestAsk)
	if err != nil {
		return Opportunity{}, false
	}
	spreadBps := spreadRate.Mul(money.RateFromInts(10000, 1))
	if spreadBps.Cmp(minSpreadBps) < 0 {
		return Opportunity{}, false
	}

	return Opportunity{
		Symbol:      symbol,
		BuyVenue:    buy.Venue,
		SellVenue:   sell.Venue,
		BuyPrice:    buy.BestAsk,
		SellPrice:   sell.BestBid,
		MaxQty:      maxQty,
		GrossProfit: grossProfit,
		FeesAndGas:  feesAndGas,
		NetProfit:   net,
		Confidence:  confidence(spreadBps, maxQty),
		Ts:          now,
		ttl:         ttl,
	}, true
}

// confidence is monotone-increasing in spread and decreasing in
// available qty, via a simple logistic-in-spread / inverse-in-size
// curve. Any function satisfying both monotonicity properties is
// spec-compliant; this one is chosen for boundedness to [0,1] without
// needing calibration data.
func confidence(spreadBps money.Rate, qty money.Money) float64 {
	spread := spreadBps.Decimal(4)
	spreadF, _ := spread.Float64()
	if spreadF < 0 {
		spreadF = 0
	}
	spreadScore := spreadF / (spreadF + 50) // saturates toward 1 as spread grows

	sizeScore := 1.0 / (1.0 + math.Log1p(moneyToFloat(qty)))

	return spreadScore * sizeScore
}

// moneyToFloat converts a Money to an approximate float64, for use only
// in the confidence heuristic where exactness doesn't matter.
func moneyToFloat(m money.Money) float64 {
	units := new(big.Float).SetInt(m.MinorUnits())
	scale := new(big.Float).SetFloat64(math.Pow10(m.Asset().Scale))
	units.Quo(units, scale)
	f, _ := units.Float64()
	return f
}
