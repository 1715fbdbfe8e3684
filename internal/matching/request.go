package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
)

// OrderType is the client-facing order classification. Limit/Market map
// directly onto the order book; the trigger types
// (Stop/StopLimit/TakeProfit/TakeProfitLimit/TrailingStop) are parked in
// the trigger table until their condition fires, at which point they
// re-enter as a Market or Limit order.
type OrderType string

const (
	OrderTypeLimit           OrderType = "limit"
	OrderTypeMarket          OrderType = "market"
	OrderTypeStop            OrderType = "stop"
	OrderTypeStopLimit       OrderType = "stop_limit"
	OrderTypeTakeProfit      OrderType = "take_profit"
	OrderTypeTakeProfitLimit OrderType = "take_profit_limit"
	OrderTypeTrailingStop    OrderType = "trailing_stop"
)

// triggered reports whether t belongs to the stop/take-profit family
// that parks in the trigger table rather than reaching the book
// immediately.
func (t OrderType) triggered() bool {
	switch t {
	case OrderTypeStop, OrderTypeStopLimit, OrderTypeTakeProfit, OrderTypeTakeProfitLimit, OrderTypeTrailingStop:
		return true
	}
	return false
}

// TriggerType names the price feed a parked stop/take-profit order
// watches. The zero value (empty string) is normalized to
// TriggerLastPrice, so callers that never set it keep the original
// last-trade-only behavior.
type TriggerType string

const (
	TriggerLastPrice  TriggerType = "last_price"
	TriggerMarkPrice  TriggerType = "mark_price"
	TriggerIndexPrice TriggerType = "index_price"
)

// normalized returns t with the zero value mapped to TriggerLastPrice.
func (t TriggerType) normalized() TriggerType {
	if t == "" {
		return TriggerLastPrice
	}
	return t
}

// PlaceOrderRequest is the client-facing order placement request,
// this module's equivalent of an HTTP request body, expressed purely as
// a Go type since transport framing is out of scope.
type PlaceOrderRequest struct {
	UserID          uuid.UUID
	Symbol          string
	Side            orderbook.Side
	Type            OrderType
	Price           money.Money // zero for Market
	Quantity        money.Money
	DisplayQuantity money.Money // non-zero makes this an iceberg order
	TimeInForce     orderbook.TimeInForce
	PostOnly        bool
	ReduceOnly      bool

	TriggerPrice   money.Money // Stop/StopLimit/TakeProfit/TakeProfitLimit
	TriggerType    TriggerType // which feed TriggerPrice is compared against; defaults to last trade price
	TrailingOffset money.Money // TrailingStop, in quote-asset minor units
}

// OrderReportStatus is the terminal or interim disposition of a placed
// order.
type OrderReportStatus string

const (
	StatusAccepted        OrderReportStatus = "accepted"
	StatusPartiallyFilled OrderReportStatus = "partially_filled"
	StatusFilled          OrderReportStatus = "filled"
	StatusCancelled       OrderReportStatus = "cancelled"
	StatusRejected        OrderReportStatus = "rejected"
	StatusPendingTrigger  OrderReportStatus = "pending_trigger"
)

// OrderReport is returned from Place for every order, win or lose.
type OrderReport struct {
	OrderID        uuid.UUID
	Status         OrderReportStatus
	FilledQuantity money.Money
	AvgPrice       money.Money // zero if no fill
	Trades         []orderbook.Trade
	RejectReason   string
	CreatedAt      time.Time
}
