package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orbitcex/exchange-core/internal/ledger"
	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/pkg/errors"
	"github.com/orbitcex/exchange-core/pkg/logger"
)

var (
	btc  = money.Asset{Symbol: "BTC", Scale: 8}
	usdt = money.Asset{Symbol: "USDT", Scale: 6}
)

func newTestActor(t *testing.T) (*SymbolActor, *ledger.Ledger) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	led, err := ledger.New(db, logger.Nop())
	require.NoError(t, err)

	cfg := DefaultSymbolConfig("BTC-USDT", btc, usdt)
	cfg.SelfTradePolicy = orderbook.STPCancelTaker
	cfg.MakerFeeRate = money.RateFromInts(1, 1000)  // 0.1%
	cfg.TakerFeeRate = money.RateFromInts(2, 1000)  // 0.2%

	actor, err := NewSymbolActor(cfg, led, logger.Nop())
	require.NoError(t, err)
	return actor, led
}

func fund(t *testing.T, led *ledger.Ledger, user uuid.UUID, asset money.Asset, amount string) {
	t.Helper()
	amt, err := money.Parse(asset, amount)
	require.NoError(t, err)
	_, err = led.Credit(context.Background(), user, amt, uuid.New().String(), "deposit")
	require.NoError(t, err)
}

func mustMoney(t *testing.T, asset money.Asset, s string) money.Money {
	t.Helper()
	m, err := money.Parse(asset, s)
	require.NoError(t, err)
	return m
}

func TestLimitOrderRestsWithNoLiquidity(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	buyer := uuid.New()
	fund(t, led, buyer, usdt, "10000")

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, report.Status)

	bal := led.GetBalance(buyer, usdt)
	assert.Equal(t, "5000.000000", bal.Locked.String())
}

func TestLimitOrdersCrossAndSettleWithFees(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, report.Status)
	assert.Equal(t, "50000.000000", report.AvgPrice.String())
	require.Len(t, report.Trades, 1)

	buyerBase := led.GetBalance(buyer, btc)
	assert.Equal(t, "1.00000000", buyerBase.Available.String())

	buyerQuote := led.GetBalance(buyer, usdt)
	assert.True(t, buyerQuote.Locked.IsZero())
	assert.Equal(t, "49900.000000", buyerQuote.Available.String())

	sellerQuote := led.GetBalance(seller, usdt)
	assert.Equal(t, "49950.000000", sellerQuote.Available.String())

	fee := led.GetBalance(FeeSinkUserID, usdt)
	assert.Equal(t, "150.000000", fee.Available.String())
}

func TestIOCCancelsResidual(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "0.5")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFIOC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, report.Status)
	assert.Equal(t, "0.50000000", report.FilledQuantity.String())

	_, ok := actor.Book().Get(report.OrderID)
	assert.False(t, ok, "IOC residual must not rest on the book")

	buyerQuote := led.GetBalance(buyer, usdt)
	assert.True(t, buyerQuote.Locked.IsZero())
}

func TestFOKRejectsWithoutFullLiquidity(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "0.5")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFFOK,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, report.Status)
	assert.True(t, report.FilledQuantity.IsZero())

	buyerQuote := led.GetBalance(buyer, usdt)
	assert.True(t, buyerQuote.Locked.IsZero())
	assert.Equal(t, "100000.000000", buyerQuote.Available.String())

	askQty := actor.Book()
	_, asks := askQty.DepthLevels(1)
	require.Len(t, asks, 1)
	assert.Equal(t, "0.50000000", asks[0].Quantity.String())
}

func TestFOKFillsWhenLiquiditySufficient(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFFOK,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, report.Status)
}

func TestPostOnlyRejectedWhenCrossing(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTX,
		PostOnly:    true,
	})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, report.Status)

	buyerQuote := led.GetBalance(buyer, usdt)
	assert.True(t, buyerQuote.Locked.IsZero())
}

func TestMarketBuyReservesSlippageAdjustedCollateral(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, buyer, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeMarket,
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFIOC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, report.Status)
	assert.Equal(t, "50000.000000", report.AvgPrice.String())

	buyerQuote := led.GetBalance(buyer, usdt)
	assert.True(t, buyerQuote.Locked.IsZero())
}

func TestSelfTradePreventionCancelsTaker(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	user := uuid.New()
	fund(t, led, user, btc, "1")
	fund(t, led, user, usdt, "100000")

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      user,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      user,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, report.Status)
	assert.True(t, report.FilledQuantity.IsZero())
}

func TestCancelRestingOrderReleasesCollateral(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	buyer := uuid.New()
	fund(t, led, buyer, usdt, "10000")

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	_, err = actor.Cancel(ctx, report.OrderID)
	require.NoError(t, err)

	bal := led.GetBalance(buyer, usdt)
	assert.True(t, bal.Locked.IsZero())
	assert.Equal(t, "10000.000000", bal.Available.String())
}

func TestStopOrderParksAndActivatesOnTrigger(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	buyer := uuid.New()
	stopUser := uuid.New()
	fund(t, led, seller, btc, "2")
	fund(t, led, buyer, usdt, "100000")
	fund(t, led, stopUser, usdt, "100000")

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:       stopUser,
		Symbol:       "BTC-USDT",
		Side:         orderbook.SideBuy,
		Type:         OrderTypeStop,
		Quantity:     mustMoney(t, btc, "0.2"),
		TriggerPrice: mustMoney(t, usdt, "51000"),
		TimeInForce:  orderbook.TIFIOC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingTrigger, report.Status)
	assert.Equal(t, 1, actor.trigger.Len())

	_, err = actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "51000"),
		Quantity:    mustMoney(t, btc, "2"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	_, err = actor.Place(ctx, PlaceOrderRequest{
		UserID:      buyer,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "51000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, actor.trigger.Len())
	stopBase := led.GetBalance(stopUser, btc)
	assert.Equal(t, "0.20000000", stopBase.Available.String())
}

type fakePositionOracle struct {
	positions map[uuid.UUID]money.Money // signed, base asset
}

func (f *fakePositionOracle) SignedPosition(userID uuid.UUID, symbol string) (money.Money, bool) {
	p, ok := f.positions[userID]
	return p, ok
}

func TestReduceOnlyCapsQuantityToOpenPosition(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	bidder := uuid.New()
	longUser := uuid.New()
	fund(t, led, bidder, usdt, "100000")
	fund(t, led, longUser, btc, "1")

	oracle := &fakePositionOracle{positions: map[uuid.UUID]money.Money{
		longUser: mustMoney(t, btc, "0.3"),
	}}
	actor.WithPositionOracle(oracle)

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      bidder,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	// longUser only has a 0.3 BTC long; a reduce-only sell for 1 BTC must
	// cap to 0.3, not flip the position into a short.
	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      longUser,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeMarket,
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFIOC,
		ReduceOnly:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, report.Status)
	assert.Equal(t, "0.30000000", report.FilledQuantity.String())
}

func TestReduceOnlyRejectsWithNoOpenPosition(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	flatUser := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, flatUser, usdt, "100000")

	actor.WithPositionOracle(&fakePositionOracle{positions: map[uuid.UUID]money.Money{}})

	_, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      flatUser,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeMarket,
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFIOC,
		ReduceOnly:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, report.Status)
}

func TestReduceOnlyWithoutOracleIsConservativelyRejected(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	user := uuid.New()
	fund(t, led, user, btc, "1")

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:      user,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.5"),
		TimeInForce: orderbook.TIFGTC,
		ReduceOnly:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, report.Status)
}

func TestMarkPriceTriggersOrderKeyedToMarkPrice(t *testing.T) {
	actor, led := newTestActor(t)
	ctx := context.Background()
	seller := uuid.New()
	stopUser := uuid.New()
	fund(t, led, seller, btc, "1")
	fund(t, led, stopUser, usdt, "100000")

	report, err := actor.Place(ctx, PlaceOrderRequest{
		UserID:       stopUser,
		Symbol:       "BTC-USDT",
		Side:         orderbook.SideBuy,
		Type:         OrderTypeStop,
		Quantity:     mustMoney(t, btc, "0.2"),
		TriggerPrice: mustMoney(t, usdt, "51000"),
		TriggerType:  TriggerMarkPrice,
		TimeInForce:  orderbook.TIFIOC,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingTrigger, report.Status)

	_, err = actor.Place(ctx, PlaceOrderRequest{
		UserID:      seller,
		Symbol:      "BTC-USDT",
		Side:        orderbook.SideSell,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "51000"),
		Quantity:    mustMoney(t, btc, "1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.NoError(t, err)

	// a last-trade update alone must not fire a mark-price-keyed trigger.
	actor.checkTriggers(ctx, TriggerLastPrice, mustMoney(t, usdt, "51000"))
	assert.Equal(t, 1, actor.trigger.Len())

	actor.UpdateMarkPrice(ctx, mustMoney(t, usdt, "51000"))
	assert.Equal(t, 0, actor.trigger.Len())
}

func TestValidateRejectsSymbolMismatch(t *testing.T) {
	actor, _ := newTestActor(t)
	_, err := actor.Place(context.Background(), PlaceOrderRequest{
		UserID:      uuid.New(),
		Symbol:      "ETH-USDT",
		Side:        orderbook.SideBuy,
		Type:        OrderTypeLimit,
		Price:       mustMoney(t, usdt, "50000"),
		Quantity:    mustMoney(t, btc, "0.1"),
		TimeInForce: orderbook.TIFGTC,
	})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidationFailed))
}
