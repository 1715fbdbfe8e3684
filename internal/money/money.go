// Package money implements exact fixed-point arithmetic over integer
// minor units, pinned per asset to an explicit decimal scale. It exists
// because every other component in this module (ledger, order book,
// matching engine, aggregator) must never let a balance or a price drift
// through float64 rounding.
package money

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/orbitcex/exchange-core/pkg/errors"
)

// Asset is an opaque identifier plus the number of decimal places its
// minor unit is quoted in (e.g. BTC: scale 8, USDT: scale 6).
type Asset struct {
	Symbol string
	Scale  int
}

func (a Asset) String() string { return a.Symbol }

// Equal reports whether two assets have the same symbol and scale.
func (a Asset) Equal(o Asset) bool {
	return a.Symbol == o.Symbol && a.Scale == o.Scale
}

// Money is a signed, arbitrary-precision count of minor units of a single
// asset. It is never constructed from a float; the zero value is not a
// valid Money (use Zero(asset)).
type Money struct {
	asset Asset
	units *big.Int // count of 10^-scale units
}

// Zero returns a zero-valued Money for the given asset.
func Zero(asset Asset) Money {
	return Money{asset: asset, units: new(big.Int)}
}

// FromMinorUnits builds a Money directly from an integer count of minor
// units (no scaling applied). Used by the ledger when replaying postings.
func FromMinorUnits(asset Asset, units *big.Int) Money {
	return Money{asset: asset, units: new(big.Int).Set(units)}
}

// FromInt64 builds a Money from an int64 count of minor units.
func FromInt64(asset Asset, units int64) Money {
	return Money{asset: asset, units: big.NewInt(units)}
}

// Parse parses a decimal string into Money at the asset's scale. Extra
// fractional digits beyond the asset's scale are a ValidationFailed error;
// parsing never silently rounds.
func Parse(asset Asset, s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, errors.New(errors.KindValidationFailed, "empty amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	intPart, fracPart := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > asset.Scale {
		return Money{}, errors.New(errors.KindValidationFailed,
			"amount %q has more fractional digits than asset %s scale %d", s, asset.Symbol, asset.Scale)
	}
	fracPart = fracPart + strings.Repeat("0", asset.Scale-len(fracPart))
	digits := intPart + fracPart
	units, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return Money{}, errors.New(errors.KindValidationFailed, "amount %q is not a valid decimal", s)
	}
	if neg {
		units.Neg(units)
	}
	return Money{asset: asset, units: units}, nil
}

// ParseMinorUnits parses a raw base-10 integer string of minor units
// (no decimal point, no scaling) into Money, for reading back a value
// persisted by MinorUnits().
func ParseMinorUnits(asset Asset, s string) (Money, error) {
	units, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Money{}, errors.New(errors.KindValidationFailed, "invalid minor-units string %q", s)
	}
	return Money{asset: asset, units: units}, nil
}

// Asset returns the Money's asset.
func (m Money) Asset() Asset { return m.asset }

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.units == nil || m.units.Sign() == 0 }

// Sign returns -1, 0, or 1.
func (m Money) Sign() int {
	if m.units == nil {
		return 0
	}
	return m.units.Sign()
}

// Negative reports whether the amount is strictly less than zero.
func (m Money) Negative() bool { return m.Sign() < 0 }

func (m Money) checkSameAsset(o Money) error {
	if !m.asset.Equal(o.asset) {
		return errors.New(errors.KindAssetMismatch, "cannot operate on %s and %s", m.asset, o.asset)
	}
	return nil
}

// Add returns m+o. Both operands must share the same asset.
func (m Money) Add(o Money) (Money, error) {
	if err := m.checkSameAsset(o); err != nil {
		return Money{}, err
	}
	return Money{asset: m.asset, units: new(big.Int).Add(m.units, o.units)}, nil
}

// Sub returns m-o. Both operands must share the same asset.
func (m Money) Sub(o Money) (Money, error) {
	if err := m.checkSameAsset(o); err != nil {
		return Money{}, err
	}
	return Money{asset: m.asset, units: new(big.Int).Sub(m.units, o.units)}, nil
}

// Cmp compares m and o, which must share the same asset: -1, 0, 1.
func (m Money) Cmp(o Money) (int, error) {
	if err := m.checkSameAsset(o); err != nil {
		return 0, err
	}
	return m.units.Cmp(o.units), nil
}

// GreaterThan reports m > o, panicking on asset mismatch (callers that
// reached this point have already validated the asset).
func (m Money) GreaterThan(o Money) bool {
	c, err := m.Cmp(o)
	if err != nil {
		panic(err)
	}
	return c > 0
}

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool {
	c, err := m.Cmp(o)
	if err != nil {
		panic(err)
	}
	return c < 0
}

// Min returns the smaller of m and o.
func Min(m, o Money) (Money, error) {
	c, err := m.Cmp(o)
	if err != nil {
		return Money{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return o, nil
}

// RoundingMode controls how a lossy division rounds the remainder.
type RoundingMode int

const (
	// RoundHalfEven rounds ties to the nearest even digit ("banker's
	// rounding"); required for fee computation.
	RoundHalfEven RoundingMode = iota
	RoundDown
	RoundUp
)

// roundDiv returns num/den rounded per mode. It is the single place
// that implements the three rounding modes; MulRate and DivQuantity
// both reduce to a num/den pair and call this.
func roundDiv(num, den *big.Int, mode RoundingMode) *big.Int {
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() == 0 {
		return quo
	}
	switch mode {
	case RoundDown:
		// truncation toward zero is QuoRem's default behavior already.
	case RoundUp:
		if (num.Sign() > 0) == (den.Sign() > 0) {
			quo.Add(quo, big.NewInt(1))
		} else {
			quo.Sub(quo, big.NewInt(1))
		}
	case RoundHalfEven:
		twiceRem := new(big.Int).Mul(rem, big.NewInt(2))
		twiceRem.Abs(twiceRem)
		denAbs := new(big.Int).Abs(den)
		cmp := twiceRem.Cmp(denAbs)
		roundAway := cmp > 0 || (cmp == 0 && quo.Bit(0) == 1)
		if roundAway {
			if (num.Sign() > 0) == (den.Sign() > 0) {
				quo.Add(quo, big.NewInt(1))
			} else {
				quo.Sub(quo, big.NewInt(1))
			}
		}
	}
	return quo
}

// MulRate multiplies Money by a dimensionless Rate, rounding to the
// asset's scale using the given mode. Used for fee and slippage-bound
// computation, the only places division/rounding legitimately happens.
func (m Money) MulRate(r Rate, mode RoundingMode) Money {
	num := new(big.Int).Mul(m.units, r.num)
	return Money{asset: m.asset, units: roundDiv(num, r.den, mode)}
}

// DivQuantity divides a notional (e.g. quote-asset Money) by a
// quantity (base-asset Money), returning the implied price in m's own
// asset. It is MulQuantity's inverse, used to recover an average fill
// price from a summed notional and summed quantity.
func (m Money) DivQuantity(qty Money, mode RoundingMode) Money {
	scaleFactor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(qty.asset.Scale)), nil)
	num := new(big.Int).Mul(m.units, scaleFactor)
	return Money{asset: m.asset, units: roundDiv(num, qty.units, mode)}
}

// MulQuantity multiplies a price (Money in the quote asset) by a
// quantity (Money in the base asset), returning the notional in the
// price's own asset, the one case where two Moneys of different
// assets legitimately combine. Internally this treats qty as a Rate
// (qty's real value, dimensionless from the price's point of view) and
// reuses MulRate's rounding.
func (m Money) MulQuantity(qty Money, mode RoundingMode) Money {
	den := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(qty.asset.Scale)), nil)
	rate := Rate{num: qty.MinorUnits(), den: den}
	return m.MulRate(rate, mode)
}

// String renders the Money at its asset's scale, e.g. "123.45000000".
func (m Money) String() string {
	if m.units == nil {
		return "0"
	}
	neg := m.units.Sign() < 0
	abs := new(big.Int).Abs(m.units)
	s := abs.String()
	scale := m.asset.Scale
	if scale == 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	for len(s) <= scale {
		s = "0" + s
	}
	intPart := s[:len(s)-scale]
	fracPart := s[len(s)-scale:]
	out := fmt.Sprintf("%s.%s", intPart, fracPart)
	if neg {
		out = "-" + out
	}
	return out
}

// MinorUnits exposes the raw integer count of minor units, e.g. for
// persistence as a posting-log leg delta.
func (m Money) MinorUnits() *big.Int {
	if m.units == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(m.units)
}
