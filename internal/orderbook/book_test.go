package orderbook

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcex/exchange-core/internal/money"
)

var (
	base  = money.Asset{Symbol: "BTC", Scale: 8}
	quote = money.Asset{Symbol: "USDT", Scale: 2}
)

func mustParse(t *testing.T, a money.Asset, s string) money.Money {
	t.Helper()
	m, err := money.Parse(a, s)
	require.NoError(t, err)
	return m
}

func newOrder(t *testing.T, side Side, price, qty string, tif TimeInForce) *Order {
	t.Helper()
	return &Order{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Symbol:         "BTC-USDT",
		Side:           side,
		Price:          mustParse(t, quote, price),
		Quantity:       mustParse(t, base, qty),
		FilledQuantity: money.Zero(base),
		TimeInForce:    tif,
	}
}

func TestAddRestingAndBestPrices(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	buy := newOrder(t, SideBuy, "100.00", "1", TIFGTC)
	sell := newOrder(t, SideSell, "101.00", "1", TIFGTC)

	require.NoError(t, ob.AddResting(buy))
	require.NoError(t, ob.AddResting(sell))

	bid, ok := ob.BestBid()
	require.True(t, ok)
	assert.Equal(t, "100.00", bid.String())

	ask, ok := ob.BestAsk()
	require.True(t, ok)
	assert.Equal(t, "101.00", ask.String())

	assert.False(t, ob.CrossedBook())
}

func TestMatchFIFOWithinPriceLevel(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	first := newOrder(t, SideSell, "100.00", "1", TIFGTC)
	second := newOrder(t, SideSell, "100.00", "1", TIFGTC)
	require.NoError(t, ob.AddResting(first))
	require.NoError(t, ob.AddResting(second))

	taker := newOrder(t, SideBuy, "100.00", "1.5", TIFIOC)
	trades, _, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, first.ID, trades[0].MakerOrderID)
	assert.Equal(t, "1.00000000", trades[0].Quantity.String())
	assert.Equal(t, second.ID, trades[1].MakerOrderID)
	assert.Equal(t, "0.50000000", trades[1].Quantity.String())
}

func TestMatchRespectsLimitPrice(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	require.NoError(t, ob.AddResting(newOrder(t, SideSell, "101.00", "1", TIFGTC)))

	taker := newOrder(t, SideBuy, "100.00", "1", TIFGTC)
	trades, _, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	require.NoError(t, ob.AddResting(newOrder(t, SideSell, "100.00", "1", TIFGTC)))

	taker := newOrder(t, SideBuy, "101.00", "1", TIFGTC)
	taker.PostOnly = true
	err := ob.AddResting(taker)
	require.Error(t, err)
}

func TestCancelRemovesOrder(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	o := newOrder(t, SideBuy, "100.00", "1", TIFGTC)
	require.NoError(t, ob.AddResting(o))

	got, err := ob.Cancel(o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, ok := ob.Get(o.ID)
	assert.False(t, ok)
	_, ok = ob.BestBid()
	assert.False(t, ok)
}

func TestIcebergRefreshesSliceAndLosesPriority(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	iceberg := newOrder(t, SideSell, "100.00", "3", TIFGTC)
	iceberg.DisplayQuantity = mustParse(t, base, "1")
	other := newOrder(t, SideSell, "100.00", "1", TIFGTC)

	require.NoError(t, ob.AddResting(iceberg))
	require.NoError(t, ob.AddResting(other))

	assert.Equal(t, "1.00000000", iceberg.VisibleQuantity().String())

	taker := newOrder(t, SideBuy, "100.00", "1", TIFIOC)
	trades, _, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, iceberg.ID, trades[0].MakerOrderID)

	// iceberg's first slice is now exhausted; it should have re-queued
	// behind "other", so the next taker trades against "other" first.
	taker2 := newOrder(t, SideBuy, "100.00", "1", TIFIOC)
	trades2, _, err := ob.Match(taker2, STPCancelTaker)
	require.NoError(t, err)
	require.Len(t, trades2, 1)
	assert.Equal(t, other.ID, trades2[0].MakerOrderID)
}

func TestIcebergCapsEachFillToVisibleSliceAgainstLargeTaker(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	iceberg := newOrder(t, SideSell, "100.00", "3", TIFGTC)
	iceberg.DisplayQuantity = mustParse(t, base, "1")
	other := newOrder(t, SideSell, "100.00", "1", TIFGTC)

	require.NoError(t, ob.AddResting(iceberg))
	require.NoError(t, ob.AddResting(other))

	// A taker larger than the visible slice must not drain the iceberg's
	// full remaining quantity in one fill: each slice fills separately,
	// one display-quantity unit at a time, and "other" gets its turn
	// between the iceberg's first and second slice once it re-queues.
	taker := newOrder(t, SideBuy, "100.00", "4", TIFIOC)
	trades, _, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	require.Len(t, trades, 4)

	assert.Equal(t, iceberg.ID, trades[0].MakerOrderID)
	assert.Equal(t, "1.00000000", trades[0].Quantity.String())
	assert.Equal(t, other.ID, trades[1].MakerOrderID)
	assert.Equal(t, "1.00000000", trades[1].Quantity.String())
	assert.Equal(t, iceberg.ID, trades[2].MakerOrderID)
	assert.Equal(t, "1.00000000", trades[2].Quantity.String())
	assert.Equal(t, iceberg.ID, trades[3].MakerOrderID)
	assert.Equal(t, "1.00000000", trades[3].Quantity.String())
	assert.Equal(t, "4.00000000", taker.FilledQuantity.String())
}

func TestMarketOrderMatchesAnyPrice(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	require.NoError(t, ob.AddResting(newOrder(t, SideSell, "105.00", "1", TIFGTC)))

	taker := newOrder(t, SideBuy, "0", "1", TIFIOC) // price 0 == market
	trades, _, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "105.00", trades[0].Price.String())
}

func TestSelfTradeCancelTakerStopsMatching(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	user := uuid.New()
	maker := newOrder(t, SideSell, "100.00", "1", TIFGTC)
	maker.UserID = user
	require.NoError(t, ob.AddResting(maker))

	taker := newOrder(t, SideBuy, "100.00", "1", TIFIOC)
	taker.UserID = user
	trades, cancelled, err := ob.Match(taker, STPCancelTaker)
	require.NoError(t, err)
	assert.Empty(t, trades)
	assert.True(t, cancelled)
	// maker is untouched.
	_, ok := ob.Get(maker.ID)
	assert.True(t, ok)
}

func TestSelfTradeDecrementReducesBothWithoutTrade(t *testing.T) {
	ob := New("BTC-USDT", base, quote)
	user := uuid.New()
	maker := newOrder(t, SideSell, "100.00", "1", TIFGTC)
	maker.UserID = user
	other := newOrder(t, SideSell, "100.00", "1", TIFGTC)
	require.NoError(t, ob.AddResting(maker))
	require.NoError(t, ob.AddResting(other))

	taker := newOrder(t, SideBuy, "100.00", "1.5", TIFIOC)
	taker.UserID = user
	trades, cancelled, err := ob.Match(taker, STPDecrement)
	require.NoError(t, err)
	require.False(t, cancelled)
	require.Len(t, trades, 1)
	assert.Equal(t, other.ID, trades[0].MakerOrderID)
	assert.Equal(t, "0.50000000", trades[0].Quantity.String())
	assert.Equal(t, "1.50000000", taker.FilledQuantity.String())
}
