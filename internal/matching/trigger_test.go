package matching

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcex/exchange-core/internal/orderbook"
)

func TestTriggerTableParkAndCancel(t *testing.T) {
	tbl := NewTriggerTable()
	id := uuid.New()
	tbl.Park(id, PlaceOrderRequest{Type: OrderTypeStop, Side: orderbook.SideBuy, TriggerPrice: mustMoney(t, usdt, "51000")})
	assert.Equal(t, 1, tbl.Len())
	assert.True(t, tbl.Cancel(id))
	assert.Equal(t, 0, tbl.Len())
	assert.False(t, tbl.Cancel(id))
}

func TestTriggerTableFiresStopBuyOnPriceRise(t *testing.T) {
	tbl := NewTriggerTable()
	id := uuid.New()
	req := PlaceOrderRequest{Type: OrderTypeStop, Side: orderbook.SideBuy, TriggerPrice: mustMoney(t, usdt, "51000")}
	tbl.Park(id, req)

	fired := tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "50999"))
	assert.Empty(t, fired)

	fired = tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "51000"))
	require.Len(t, fired, 1)
	assert.Equal(t, 0, tbl.Len())
}

func TestTriggerTableFiresTakeProfitSellOnPriceRise(t *testing.T) {
	tbl := NewTriggerTable()
	id := uuid.New()
	req := PlaceOrderRequest{Type: OrderTypeTakeProfit, Side: orderbook.SideSell, TriggerPrice: mustMoney(t, usdt, "49000")}
	tbl.Park(id, req)

	fired := tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "48999"))
	assert.Empty(t, fired)

	fired = tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "49000"))
	require.Len(t, fired, 1)
}

func TestTrailingStopSellRatchetsUpwardAsPriceRises(t *testing.T) {
	tbl := NewTriggerTable()
	id := uuid.New()
	offset := mustMoney(t, usdt, "1000")
	req := PlaceOrderRequest{
		Type:           OrderTypeTrailingStop,
		Side:           orderbook.SideSell,
		TriggerPrice:   mustMoney(t, usdt, "49000"),
		TrailingOffset: offset,
	}
	tbl.Park(id, req)

	// price rises: trailing extent and trigger both ratchet up.
	fired := tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "55000"))
	assert.Empty(t, fired)
	pt := tbl.pending[id]
	require.NotNil(t, pt)
	assert.Equal(t, "54000.000000", pt.Request.TriggerPrice.String())

	// price falls but stays above the new trigger: no fire, no ratchet back down.
	fired = tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "54500"))
	assert.Empty(t, fired)
	assert.Equal(t, "54000.000000", tbl.pending[id].Request.TriggerPrice.String())

	// price falls through the trigger: fires.
	fired = tbl.Check(TriggerLastPrice, mustMoney(t, usdt, "54000"))
	require.Len(t, fired, 1)
}

func TestStopLimitActivatesAsLimitOrder(t *testing.T) {
	req := PlaceOrderRequest{
		Type:  OrderTypeStopLimit,
		Price: mustMoney(t, usdt, "51500"),
	}
	activated := activateRequest(req)
	assert.Equal(t, OrderTypeLimit, activated.Type)
	assert.Equal(t, "51500.000000", activated.Price.String())
}

func TestStopActivatesAsMarketOrder(t *testing.T) {
	req := PlaceOrderRequest{Type: OrderTypeStop}
	activated := activateRequest(req)
	assert.Equal(t, OrderTypeMarket, activated.Type)
}

func TestTrailingStopActivatesWithTriggerPriceAsLimit(t *testing.T) {
	req := PlaceOrderRequest{Type: OrderTypeTrailingStop, TriggerPrice: mustMoney(t, usdt, "54000")}
	activated := activateRequest(req)
	assert.Equal(t, OrderTypeLimit, activated.Type)
	assert.Equal(t, "54000.000000", activated.Price.String())
}
