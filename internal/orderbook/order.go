// Package orderbook implements a single-symbol, price-time-priority
// limit order book: an ordered map of price levels per side, each level
// a FIFO queue of resting orders, generalized from
// internal/trading/orderbook's btree-backed book to the order types and
// time-in-force values the exchange core supports.
package orderbook

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
)

// Side is which side of the book an order rests on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TimeInForce controls what happens to the unfilled residual of an
// order after it has walked the book once.
type TimeInForce string

const (
	// TIFGTC rests the residual on the book.
	TIFGTC TimeInForce = "GTC"
	// TIFIOC cancels any residual instead of resting it.
	TIFIOC TimeInForce = "IOC"
	// TIFFOK requires the whole order to fill immediately or it is
	// cancelled in full with no partial fill.
	TIFFOK TimeInForce = "FOK"
	// TIFGTX (post-only) is rejected outright if it would cross the
	// book on arrival; it never takes liquidity.
	TIFGTX TimeInForce = "GTX"
)

// Order is a single resting or incoming order. Quantity and
// FilledQuantity are in base-asset units; Price is in quote-asset
// units per unit of base (absent for a market order). DisplayQuantity,
// when non-zero and less than Quantity, makes this an iceberg order:
// only DisplayQuantity (minus whatever of the current slice has been
// consumed) is ever visible to Depth/Snapshot queries, and a new slice
// is carved off the hidden remainder each time the visible slice is
// fully consumed.
type Order struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Symbol          string
	Side            Side
	Price           money.Money
	Quantity        money.Money
	FilledQuantity  money.Money
	DisplayQuantity money.Money
	TimeInForce     TimeInForce
	PostOnly        bool
	ReduceOnly      bool
	CreatedAt       time.Time
	Sequence        uint64 // assigned by the book on insert; breaks ties within a price level
}

// Remaining returns Quantity-FilledQuantity.
func (o *Order) Remaining() money.Money {
	r, err := o.Quantity.Sub(o.FilledQuantity)
	if err != nil {
		panic(err)
	}
	return r
}

// IsIceberg reports whether the order has a hidden remainder.
func (o *Order) IsIceberg() bool {
	return !o.DisplayQuantity.IsZero() && o.DisplayQuantity.LessThan(o.Quantity)
}

// VisibleQuantity returns the quantity Depth queries should count for
// this order: the full remaining quantity for a plain order, or the
// current unconsumed slice of the display quantity for an iceberg.
func (o *Order) VisibleQuantity() money.Money {
	if !o.IsIceberg() {
		return o.Remaining()
	}
	consumedInSlice, err := o.FilledQuantity.Sub(o.sliceFloor())
	if err != nil {
		panic(err)
	}
	visible, err := o.DisplayQuantity.Sub(consumedInSlice)
	if err != nil {
		panic(err)
	}
	if visible.Negative() {
		return money.Zero(o.Quantity.Asset())
	}
	return visible
}

// sliceFloor returns the filled quantity at which the current display
// slice began: the largest multiple of DisplayQuantity <= FilledQuantity.
func (o *Order) sliceFloor() money.Money {
	filled := o.FilledQuantity.MinorUnits()
	disp := o.DisplayQuantity.MinorUnits()
	if disp.Sign() == 0 {
		return money.Zero(o.Quantity.Asset())
	}
	quotient := new(big.Int).Quo(filled, disp)
	floor := new(big.Int).Mul(quotient, disp)
	return money.FromMinorUnits(o.Quantity.Asset(), floor)
}
