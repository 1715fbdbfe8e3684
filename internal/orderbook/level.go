package orderbook

import (
	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
)

// PriceLevel is one price point on one side of the book: a FIFO queue
// of resting orders at that exact price. The queue is a plain slice
// rather than a chunked ring buffer, since this book does not need
// lock-free pooling tricks, since matching here runs single-writer per
// symbol (see internal/matching).
type PriceLevel struct {
	Price  money.Money
	orders []*Order
}

func newPriceLevel(price money.Money) *PriceLevel {
	return &PriceLevel{Price: price}
}

// Push appends order to the back of the FIFO queue.
func (pl *PriceLevel) Push(o *Order) {
	pl.orders = append(pl.orders, o)
}

// Front returns the order at the head of the queue, or nil if empty.
func (pl *PriceLevel) Front() *Order {
	if len(pl.orders) == 0 {
		return nil
	}
	return pl.orders[0]
}

// PopFront removes and returns the head of the queue.
func (pl *PriceLevel) PopFront() *Order {
	if len(pl.orders) == 0 {
		return nil
	}
	o := pl.orders[0]
	pl.orders = pl.orders[1:]
	return o
}

// Remove removes the order with the given ID, preserving FIFO order of
// the rest. Returns false if not found.
func (pl *PriceLevel) Remove(orderID uuid.UUID) bool {
	for i, o := range pl.orders {
		if o.ID == orderID {
			pl.orders = append(pl.orders[:i], pl.orders[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of resting orders at this level.
func (pl *PriceLevel) Len() int { return len(pl.orders) }

// Empty reports whether the level has no resting orders.
func (pl *PriceLevel) Empty() bool { return len(pl.orders) == 0 }

// TotalQuantity sums the visible remaining quantity of every order at
// this level, honoring iceberg display slices.
func (pl *PriceLevel) TotalQuantity(asset money.Asset) money.Money {
	total := money.Zero(asset)
	for _, o := range pl.orders {
		var err error
		total, err = total.Add(o.VisibleQuantity())
		if err != nil {
			panic(err)
		}
	}
	return total
}

// Orders returns the resting orders at this level in FIFO order. The
// returned slice must not be mutated by the caller.
func (pl *PriceLevel) Orders() []*Order { return pl.orders }
