package orderbook

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// priceKeyWidth is wide enough for any realistic minor-unit integer;
// zero-padding to a fixed width is what makes a plain string key sort
// correctly in the underlying btree.Map.
const priceKeyWidth = 40

// priceKey renders a Money price as a fixed-width zero-padded decimal
// string so that ordinary string comparison (what btree.Map uses)
// agrees with numeric comparison.
func priceKey(p money.Money) string {
	units := p.MinorUnits()
	s := units.String()
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for len(s) < priceKeyWidth {
		s = "0" + s
	}
	if neg {
		return "-" + s
	}
	return s
}

// OrderBook is a single-symbol price-time-priority limit order book.
type OrderBook struct {
	Symbol     string
	BaseAsset  money.Asset
	QuoteAsset money.Asset

	mu         sync.RWMutex
	bids       *btree.Map[string, *PriceLevel] // highest price first
	asks       *btree.Map[string, *PriceLevel] // lowest price first
	ordersByID map[uuid.UUID]*Order
	seq        uint64
}

// New creates an empty order book for symbol.
func New(symbol string, base, quote money.Asset) *OrderBook {
	return &OrderBook{
		Symbol:     symbol,
		BaseAsset:  base,
		QuoteAsset: quote,
		bids:       btree.NewMap[string, *PriceLevel](32),
		asks:       btree.NewMap[string, *PriceLevel](32),
		ordersByID: make(map[uuid.UUID]*Order),
	}
}

func (ob *OrderBook) sideBook(side Side) *btree.Map[string, *PriceLevel] {
	if side == SideBuy {
		return ob.bids
	}
	return ob.asks
}

// BestBid returns the highest resting buy price, if any.
func (ob *OrderBook) BestBid() (money.Money, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	_, lvl, ok := ob.bids.Max()
	if !ok {
		return money.Money{}, false
	}
	return lvl.Price, true
}

// BestAsk returns the lowest resting sell price, if any.
func (ob *OrderBook) BestAsk() (money.Money, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	_, lvl, ok := ob.asks.Min()
	if !ok {
		return money.Money{}, false
	}
	return lvl.Price, true
}

// Spread returns BestAsk-BestBid, or an error if either side is empty.
func (ob *OrderBook) Spread() (money.Money, error) {
	bid, ok := ob.BestBid()
	if !ok {
		return money.Money{}, errors.New(errors.KindValidationFailed, "no bids")
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return money.Money{}, errors.New(errors.KindValidationFailed, "no asks")
	}
	return ask.Sub(bid)
}

// nextSeq assigns the tie-breaking sequence number for a newly arrived
// order. Must be called with ob.mu held.
func (ob *OrderBook) nextSeq() uint64 {
	ob.seq++
	return ob.seq
}

// crosses reports whether a resting order at restPrice on restSide
// would cross against the opposite side's best price.
func (ob *OrderBook) crosses(restSide Side, restPrice money.Money) bool {
	if restSide == SideBuy {
		_, lvl, ok := ob.asks.Min()
		if !ok {
			return false
		}
		return !restPrice.LessThan(lvl.Price)
	}
	_, lvl, ok := ob.bids.Max()
	if !ok {
		return false
	}
	return !restPrice.GreaterThan(lvl.Price)
}

// Match walks the book on the opposite side of taker, consuming resting
// liquidity in price-time priority until taker is fully filled, the
// opposite side is exhausted, or taker's limit price (if any) stops
// being marketable. It never mutates the book's resting side beyond
// consuming/removing the orders it matches against; adding taker's own
// residual to the book, if its TimeInForce calls for that, is the
// caller's job via AddResting.
//
// stp is applied whenever the next resting order belongs to the same
// user as taker. The returned bool reports whether the self-trade
// policy cancelled the taker outright (STPCancelTaker/STPCancelBoth),
// in which case the caller must not rest taker's remainder regardless
// of its TimeInForce.
func (ob *OrderBook) Match(taker *Order, stp SelfTradePolicy) ([]Trade, bool, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	oppSide := taker.Side.Opposite()
	oppBook := ob.sideBook(oppSide)

	var trades []Trade
	takerCancelled := false
	for {
		remaining := taker.Remaining()
		if remaining.IsZero() || remaining.Negative() {
			break
		}
		key, lvl, ok := bestOf(oppBook, oppSide)
		if !ok {
			break
		}
		if !marketable(taker, lvl.Price) {
			break
		}

		maker := lvl.Front()
		if maker == nil {
			oppBook.Delete(key)
			continue
		}

		if maker.UserID == taker.UserID {
			switch stp {
			case STPCancelTaker:
				takerCancelled = true
				return trades, takerCancelled, nil
			case STPCancelBoth:
				lvl.PopFront()
				delete(ob.ordersByID, maker.ID)
				if lvl.Empty() {
					oppBook.Delete(key)
				}
				takerCancelled = true
				return trades, takerCancelled, nil
			case STPCancelMaker:
				lvl.PopFront()
				delete(ob.ordersByID, maker.ID)
				if lvl.Empty() {
					oppBook.Delete(key)
				}
				continue
			case STPDecrement:
				overlap, err := money.Min(remaining, maker.Remaining())
				if err != nil {
					return nil, false, err
				}
				taker.FilledQuantity, err = taker.FilledQuantity.Add(overlap)
				if err != nil {
					return nil, false, err
				}
				maker.FilledQuantity, err = maker.FilledQuantity.Add(overlap)
				if err != nil {
					return nil, false, err
				}
				if maker.Remaining().IsZero() {
					lvl.PopFront()
					delete(ob.ordersByID, maker.ID)
					if lvl.Empty() {
						oppBook.Delete(key)
					}
				}
				continue
			default:
				return nil, false, errors.New(errors.KindValidationFailed, "invalid self-trade policy %q", stp)
			}
		}

		// Only the current display slice competes for a fill: an iceberg's
		// hidden remainder never trades ahead of its turn just because a
		// taker is bigger than the visible slice. A taker that outsizes
		// the slice walks it in multiple fills, one per slice, as the
		// outer loop repeats. sliceExhausted is decided against the
		// pre-fill visible amount, not recomputed after FilledQuantity
		// moves, since a filled total that lands exactly on a slice
		// boundary reads back as a fresh, fully-visible slice.
		isIceberg := maker.IsIceberg()
		makerAvailable := maker.Remaining()
		if isIceberg {
			makerAvailable = maker.VisibleQuantity()
		}
		fillQty, err := money.Min(remaining, makerAvailable)
		if err != nil {
			return nil, false, err
		}
		sliceExhausted := isIceberg && !fillQty.LessThan(makerAvailable)

		trade := Trade{
			ID:           uuid.New(),
			Symbol:       ob.Symbol,
			TakerOrderID: taker.ID,
			MakerOrderID: maker.ID,
			TakerUserID:  taker.UserID,
			MakerUserID:  maker.UserID,
			TakerSide:    taker.Side,
			Price:        lvl.Price,
			Quantity:     fillQty,
			CreatedAt:    time.Now(),
		}
		trades = append(trades, trade)

		taker.FilledQuantity, err = taker.FilledQuantity.Add(fillQty)
		if err != nil {
			return nil, false, err
		}
		maker.FilledQuantity, err = maker.FilledQuantity.Add(fillQty)
		if err != nil {
			return nil, false, err
		}

		switch {
		case maker.Remaining().IsZero():
			lvl.PopFront()
			delete(ob.ordersByID, maker.ID)
		case sliceExhausted:
			// the current display slice is exhausted; a fresh slice is
			// carved off the hidden remainder and the order loses its
			// place in the FIFO queue, as a newly-arrived order would.
			lvl.PopFront()
			maker.Sequence = ob.nextSeq()
			lvl.Push(maker)
		}
		if lvl.Empty() {
			oppBook.Delete(key)
		}
	}
	return trades, takerCancelled, nil
}

// CanFullyFill reports whether order could be matched down to zero
// remaining quantity against the book's current state under stp,
// without mutating anything. A FOK order calls this before Match so a
// partial fill never touches the book or the ledger.
func (ob *OrderBook) CanFullyFill(order *Order, stp SelfTradePolicy) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	oppSide := order.Side.Opposite()
	oppBook := ob.sideBook(oppSide)
	need := order.Remaining()

	available := money.Zero(order.Quantity.Asset())
	scan := func(_ string, lvl *PriceLevel) bool {
		if need.IsZero() || need.Negative() {
			return false
		}
		if !marketable(order, lvl.Price) {
			return false
		}
		for _, maker := range lvl.Orders() {
			if maker.UserID == order.UserID {
				if stp == STPCancelMaker || stp == STPDecrement {
					continue
				}
				// STPCancelTaker/STPCancelBoth would cancel the taker on
				// first contact with its own order: no fill happens at all.
				return false
			}
			// Match re-queues an iceberg slice by slice within the level
			// until its whole remainder is consumed, so count all of it.
			available, _ = available.Add(maker.Remaining())
			if !available.LessThan(need) {
				return false
			}
		}
		return true
	}
	if oppSide == SideBuy {
		oppBook.Reverse(scan)
	} else {
		oppBook.Scan(scan)
	}
	return !available.LessThan(need)
}

func bestOf(book *btree.Map[string, *PriceLevel], side Side) (string, *PriceLevel, bool) {
	if side == SideBuy {
		k, v, ok := book.Max()
		return k, v, ok
	}
	k, v, ok := book.Min()
	return k, v, ok
}

func isMarket(o *Order) bool {
	return o.Price.IsZero()
}

// marketable reports whether taker is willing to trade at restPrice,
// the best resting price on the opposite side.
func marketable(taker *Order, restPrice money.Money) bool {
	if isMarket(taker) {
		return true
	}
	if taker.Side == SideBuy {
		return !taker.Price.LessThan(restPrice)
	}
	return !taker.Price.GreaterThan(restPrice)
}

// AddResting inserts order onto the book as a new resting order on its
// own Side at its own Price. PostOnly orders that would cross the book
// are rejected rather than inserted; internal/matching relies on this
// check for GTX orders and calls AddResting without running Match first.
func (ob *OrderBook) AddResting(order *Order) error {
	if isMarket(order) {
		return errors.New(errors.KindValidationFailed, "cannot rest a market order on the book")
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if order.PostOnly && ob.crosses(order.Side, order.Price) {
		return errors.New(errors.KindValidationFailed, "post-only order would cross the book")
	}

	order.Sequence = ob.nextSeq()
	book := ob.sideBook(order.Side)
	key := priceKey(order.Price)
	lvl, ok := book.Get(key)
	if !ok {
		lvl = newPriceLevel(order.Price)
		book.Set(key, lvl)
	}
	lvl.Push(order)
	ob.ordersByID[order.ID] = order
	return nil
}

// Cancel removes a resting order from the book.
func (ob *OrderBook) Cancel(orderID uuid.UUID) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	order, ok := ob.ordersByID[orderID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "order %s not found", orderID)
	}
	book := ob.sideBook(order.Side)
	key := priceKey(order.Price)
	lvl, ok := book.Get(key)
	if ok {
		lvl.Remove(orderID)
		if lvl.Empty() {
			book.Delete(key)
		}
	}
	delete(ob.ordersByID, orderID)
	return order, nil
}

// Get returns the resting order with the given ID, if present.
func (ob *OrderBook) Get(orderID uuid.UUID) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	o, ok := ob.ordersByID[orderID]
	return o, ok
}

// CrossedBook reports whether the book currently violates the
// no-crossed-book invariant (best bid >= best ask). Used by tests and
// by an operator-facing health check, never expected to return true in
// production; Match/AddResting never let it happen.
func (ob *OrderBook) CrossedBook() bool {
	bid, okb := ob.BestBid()
	ask, oka := ob.BestAsk()
	if !okb || !oka {
		return false
	}
	return !bid.LessThan(ask)
}

// DepthLevels returns up to n price levels per side, best first.
func (ob *OrderBook) DepthLevels(n int) (bids, asks []PriceLevelView) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	count := 0
	ob.bids.Reverse(func(_ string, lvl *PriceLevel) bool {
		if count >= n {
			return false
		}
		bids = append(bids, PriceLevelView{Price: lvl.Price, Quantity: lvl.TotalQuantity(ob.BaseAsset)})
		count++
		return true
	})
	count = 0
	ob.asks.Scan(func(_ string, lvl *PriceLevel) bool {
		if count >= n {
			return false
		}
		asks = append(asks, PriceLevelView{Price: lvl.Price, Quantity: lvl.TotalQuantity(ob.BaseAsset)})
		count++
		return true
	})
	return bids, asks
}

// PriceLevelView is a read-only snapshot of one price level's total
// visible quantity, for depth/snapshot queries outside the package.
type PriceLevelView struct {
	Price    money.Money
	Quantity money.Money
}

func (ob *OrderBook) String() string {
	bids, asks := ob.DepthLevels(3)
	return fmt.Sprintf("%s bids=%v asks=%v", ob.Symbol, bids, asks)
}
