package money

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = Asset{Symbol: "BTC", Scale: 8}
var usdt = Asset{Symbol: "USDT", Scale: 6}

func TestParseAndString(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1.00000000"},
		{"1.5", "1.50000000"},
		{"-0.00000001", "-0.00000001"},
		{"0", "0.00000000"},
	}
	for _, c := range cases {
		m, err := Parse(btc, c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, m.String())
	}
}

func TestParseRejectsExtraPrecision(t *testing.T) {
	_, err := Parse(btc, "1.123456789")
	require.Error(t, err)
}

func TestAddSubRequireSameAsset(t *testing.T) {
	a, _ := Parse(btc, "1.5")
	b, _ := Parse(usdt, "1.5")
	_, err := a.Add(b)
	require.Error(t, err)
}

func TestAddSub(t *testing.T) {
	a, _ := Parse(btc, "1.5")
	b, _ := Parse(btc, "0.25")
	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "1.75000000", sum.String())

	diff, err := sum.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "1.50000000", diff.String())
}

func TestCmp(t *testing.T) {
	a, _ := Parse(btc, "1.5")
	b, _ := Parse(btc, "2.0")
	c, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, c)
	assert.True(t, b.GreaterThan(a))
	assert.True(t, a.LessThan(b))
}

func TestMulRateHalfEven(t *testing.T) {
	amt, _ := Parse(usdt, "100")
	rate, err := RateFromString("0.001")
	require.NoError(t, err)
	fee := amt.MulRate(rate, RoundHalfEven)
	assert.Equal(t, "0.100000", fee.String())
}

func TestMulRateHalfEvenTie(t *testing.T) {
	m := FromMinorUnits(usdt, big.NewInt(5))
	half := RateFromInts(1, 2)
	got := m.MulRate(half, RoundHalfEven)
	assert.Equal(t, "0.000002", got.String()) // 2.5 rounds to even (2)
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	m, _ := Parse(btc, "3.00000001")
	units := m.MinorUnits()
	m2 := FromMinorUnits(btc, units)
	assert.Equal(t, m.String(), m2.String())
}
