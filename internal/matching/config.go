// Package matching implements order validation, collateral reservation,
// triggered-order bookkeeping, fee computation, and self-trade
// prevention around a single symbol's internal/orderbook.OrderBook,
// following the per-pair engine configuration shape of
// internal/trading/engine.Config/PairConfig, generalized to this
// module's fixed-point Money and full order-type set.
package matching

import (
	"math/big"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// SymbolConfig is the per-symbol trading configuration: tick/lot
// constraints, fee schedule, slippage tolerance, and the mandatory
// self-trade prevention policy.
type SymbolConfig struct {
	Symbol     string
	BaseAsset  money.Asset
	QuoteAsset money.Asset

	TickSize money.Money // minimum price increment
	LotSize  money.Money // minimum quantity increment
	MinPrice money.Money
	MaxPrice money.Money
	MinQty   money.Money
	MaxQty   money.Money

	MakerFeeRate money.Rate
	TakerFeeRate money.Rate

	// MaxSlippage bounds the collateral a market buy reserves:
	// best_ask * (1 + MaxSlippage). DefaultSymbolConfig sets it to 5%;
	// Validate rejects a zero or negative value.
	MaxSlippage money.Rate

	SelfTradePolicy orderbook.SelfTradePolicy
}

// DefaultSymbolConfig returns a starting configuration for symbol with
// conservative tick/lot sizes and a 5% max slippage band. Callers must
// still set a self-trade policy before Validate passes, and must set the
// fee rates themselves, which Validate does not check.
func DefaultSymbolConfig(symbol string, base, quote money.Asset) SymbolConfig {
	tick, _ := money.Parse(quote, "0.01")
	lot, _ := money.Parse(base, "0.00000001")
	minPrice, _ := money.Parse(quote, "0.01")
	maxPrice, _ := money.Parse(quote, "100000000")
	minQty, _ := money.Parse(base, "0.00000001")
	maxQty, _ := money.Parse(base, "100000000")
	return SymbolConfig{
		Symbol:      symbol,
		BaseAsset:   base,
		QuoteAsset:  quote,
		TickSize:    tick,
		LotSize:     lot,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,
		MinQty:      minQty,
		MaxQty:      maxQty,
		MaxSlippage: money.RateFromInts(5, 100),
	}
}

// Validate checks internal consistency and, per the module's resolved
// design decision, rejects a SymbolConfig with no self-trade policy set;
// there is no implicit default.
func (c SymbolConfig) Validate() error {
	if c.Symbol == "" {
		return errors.New(errors.KindValidationFailed, "symbol is required")
	}
	if !c.SelfTradePolicy.Valid() {
		return errors.New(errors.KindValidationFailed,
			"symbol %s: self-trade policy must be set explicitly", c.Symbol)
	}
	if c.MinPrice.GreaterThan(c.MaxPrice) {
		return errors.New(errors.KindValidationFailed, "symbol %s: min_price > max_price", c.Symbol)
	}
	if c.MinQty.GreaterThan(c.MaxQty) {
		return errors.New(errors.KindValidationFailed, "symbol %s: min_qty > max_qty", c.Symbol)
	}
	if c.MaxSlippage.Sign() <= 0 {
		return errors.New(errors.KindValidationFailed, "symbol %s: max_slippage must be positive", c.Symbol)
	}
	return nil
}

// alignedTo reports whether v is an exact multiple of increment. Orders
// whose price/quantity isn't tick/lot aligned are rejected outright,
// never silently rounded.
func alignedTo(v, increment money.Money) bool {
	if increment.IsZero() {
		return true
	}
	vUnits := v.MinorUnits()
	incUnits := increment.MinorUnits()
	mod := new(big.Int).Mod(vUnits, incUnits)
	return mod.Sign() == 0
}
