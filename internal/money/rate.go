package money

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/orbitcex/exchange-core/pkg/errors"
)

// Rate is a dimensionless ratio (a fee rate, a slippage tolerance, a
// confidence score) held as an exact big.Int numerator/denominator;
// shopspring/decimal is used only to parse and render it. It never carries an
// asset and is never mixed into a balance directly. MulRate is the only
// bridge from Rate into Money, and it always re-quantizes to the
// money's own asset scale.
type Rate struct {
	num *big.Int
	den *big.Int
}

// RateFromDecimal builds a Rate from a shopspring/decimal.Decimal, which
// is how config (fee rates, max_slippage, thresholds) is expressed.
func RateFromDecimal(d decimal.Decimal) Rate {
	coeff := d.Coefficient()
	exp := d.Exponent()
	num := new(big.Int).Set(coeff)
	den := big.NewInt(1)
	if exp >= 0 {
		num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		den.Exp(big.NewInt(10), big.NewInt(int64(-exp)), nil)
	}
	return Rate{num: num, den: den}
}

// RateFromString parses a decimal string (e.g. "0.001" for a 0.1% fee)
// into a Rate.
func RateFromString(s string) (Rate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Rate{}, errors.New(errors.KindValidationFailed, "invalid rate %q: %v", s, err)
	}
	return RateFromDecimal(d), nil
}

// RateFromInts builds num/den directly, e.g. RateFromInts(1,1000) for 0.1%.
func RateFromInts(num, den int64) Rate {
	return Rate{num: big.NewInt(num), den: big.NewInt(den)}
}

// RateFromMoneyRatio builds the dimensionless ratio numer/denom from
// two Moneys sharing the same asset, e.g. the fraction of an order
// still unfilled.
func RateFromMoneyRatio(numer, denom Money) (Rate, error) {
	if err := numer.checkSameAsset(denom); err != nil {
		return Rate{}, err
	}
	if denom.units.Sign() == 0 {
		return Rate{}, errors.New(errors.KindValidationFailed, "division by zero amount")
	}
	return Rate{num: new(big.Int).Set(numer.units), den: new(big.Int).Set(denom.units)}, nil
}

// RateOne is the multiplicative identity (100%).
func RateOne() Rate { return Rate{num: big.NewInt(1), den: big.NewInt(1)} }

// Add returns r+o.
func (r Rate) Add(o Rate) Rate {
	num := new(big.Int).Add(new(big.Int).Mul(r.num, o.den), new(big.Int).Mul(o.num, r.den))
	den := new(big.Int).Mul(r.den, o.den)
	return Rate{num: num, den: den}
}

// Sub returns r-o.
func (r Rate) Sub(o Rate) Rate {
	num := new(big.Int).Sub(new(big.Int).Mul(r.num, o.den), new(big.Int).Mul(o.num, r.den))
	den := new(big.Int).Mul(r.den, o.den)
	return Rate{num: num, den: den}
}

// Mul returns r*o.
func (r Rate) Mul(o Rate) Rate {
	return Rate{num: new(big.Int).Mul(r.num, o.num), den: new(big.Int).Mul(r.den, o.den)}
}

// Cmp compares r and o.
func (r Rate) Cmp(o Rate) int {
	lhs := new(big.Int).Mul(r.num, o.den)
	rhs := new(big.Int).Mul(o.num, r.den)
	return lhs.Cmp(rhs)
}

// Sign returns -1, 0 or 1.
func (r Rate) Sign() int {
	return r.num.Sign() * r.den.Sign()
}

// Decimal converts the Rate back to a shopspring/decimal.Decimal at the
// given number of fractional digits, for logging/reporting.
func (r Rate) Decimal(scale int32) decimal.Decimal {
	n := decimal.NewFromBigInt(r.num, 0)
	d := decimal.NewFromBigInt(r.den, 0)
	if d.IsZero() {
		return decimal.Zero
	}
	return n.DivRound(d, scale)
}

// String renders the rate as a decimal rounded to 8 fractional digits,
// with trailing zeros trimmed.
func (r Rate) String() string {
	return r.Decimal(8).String()
}
