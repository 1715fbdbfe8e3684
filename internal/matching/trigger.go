package matching

import (
	"sync"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
)

// pendingTrigger is a parked Stop/StopLimit/TakeProfit/TakeProfitLimit/
// TrailingStop order waiting for the price feed named by its
// TriggerType (last trade, mark or index) to cross its trigger
// condition.
type pendingTrigger struct {
	OrderID        uuid.UUID
	Request        PlaceOrderRequest
	TrailingExtent money.Money // best price seen so far, for TrailingStop
}

// triggerFiresUp reports whether req's trigger fires on a price
// rising through TriggerPrice or falling through it.
//
// Stop-loss orders protect an existing position: a Stop buy triggers
// when price rises above the trigger (covering a short), a Stop sell
// triggers when price falls below it (protecting a long). Take-profit
// orders are the mirror image.
func triggerFiresUp(req PlaceOrderRequest) bool {
	switch req.Type {
	case OrderTypeStop, OrderTypeStopLimit:
		return req.Side == orderbook.SideBuy
	case OrderTypeTakeProfit, OrderTypeTakeProfitLimit:
		return req.Side == orderbook.SideSell
	case OrderTypeTrailingStop:
		return req.Side == orderbook.SideBuy
	}
	return false
}

// TriggerTable holds every parked triggered order for one symbol,
// keyed only by order ID: matching against (side, trigger_price,
// trigger_type) is a linear scan over this table on every price
// update, which is cheap at the size a single symbol's resting
// trigger set reaches in practice.
type TriggerTable struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingTrigger
}

func NewTriggerTable() *TriggerTable {
	return &TriggerTable{pending: make(map[uuid.UUID]*pendingTrigger)}
}

// Park adds a triggered order to the table.
func (t *TriggerTable) Park(orderID uuid.UUID, req PlaceOrderRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pt := &pendingTrigger{OrderID: orderID, Request: req}
	if req.Type == OrderTypeTrailingStop {
		pt.TrailingExtent = req.TriggerPrice
	}
	t.pending[orderID] = pt
}

// Cancel removes a parked order, reporting whether it was present.
func (t *TriggerTable) Cancel(orderID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[orderID]; !ok {
		return false
	}
	delete(t.pending, orderID)
	return true
}

// FiredTrigger is one parked order whose condition has just fired.
type FiredTrigger struct {
	OrderID uuid.UUID
	Request PlaceOrderRequest
}

// Check advances every parked trailing-stop watching kind's feed and
// returns every order keyed to kind whose condition price has now
// fired, removing them from the table. The caller re-submits each as a
// Market (Stop/TakeProfit) or Limit (StopLimit/TakeProfitLimit) order.
// Orders parked against a different feed (mark vs. index vs. last
// trade) are left untouched until their own feed updates.
func (t *TriggerTable) Check(kind TriggerType, price money.Money) []FiredTrigger {
	kind = kind.normalized()
	t.mu.Lock()
	defer t.mu.Unlock()

	var fired []FiredTrigger
	for id, pt := range t.pending {
		if pt.Request.TriggerType.normalized() != kind {
			continue
		}
		if pt.Request.Type == OrderTypeTrailingStop {
			t.advanceTrailing(pt, price)
		}
		if triggerCondition(pt, price) {
			fired = append(fired, FiredTrigger{OrderID: id, Request: pt.Request})
			delete(t.pending, id)
		}
	}
	return fired
}

func (t *TriggerTable) advanceTrailing(pt *pendingTrigger, lastPrice money.Money) {
	// For a sell trailing stop, TrailingExtent tracks the highest price
	// seen; the effective trigger trails behind it by TrailingOffset.
	// For a buy trailing stop it tracks the lowest price seen.
	if pt.Request.Side == orderbook.SideSell {
		if lastPrice.GreaterThan(pt.TrailingExtent) {
			pt.TrailingExtent = lastPrice
		}
		trigger, err := pt.TrailingExtent.Sub(pt.Request.TrailingOffset)
		if err == nil {
			pt.Request.TriggerPrice = trigger
		}
		return
	}
	if lastPrice.LessThan(pt.TrailingExtent) {
		pt.TrailingExtent = lastPrice
	}
	trigger, err := pt.TrailingExtent.Add(pt.Request.TrailingOffset)
	if err == nil {
		pt.Request.TriggerPrice = trigger
	}
}

func triggerCondition(pt *pendingTrigger, lastPrice money.Money) bool {
	if triggerFiresUp(pt.Request) {
		return !lastPrice.LessThan(pt.Request.TriggerPrice)
	}
	return !lastPrice.GreaterThan(pt.Request.TriggerPrice)
}

// Len reports the number of parked orders, for metrics.
func (t *TriggerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
