package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/orbitcex/exchange-core/internal/ledger"
	"github.com/orbitcex/exchange-core/internal/metrics"
	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
	"github.com/orbitcex/exchange-core/internal/telemetry"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// PositionOracle answers what a user's current signed position on a
// symbol is (positive long, negative short), so a reduce-only order can
// be capped at the size it is actually meant to close. Kept as an
// interface here (rather than importing internal/risk directly) so the
// dependency runs the same direction as internal/risk's own OrderPlacer:
// risk knows about matching's shape, matching never needs to know
// risk's.
type PositionOracle interface {
	SignedPosition(userID uuid.UUID, symbol string) (money.Money, bool)
}

// FeeSinkUserID is the house account every maker/taker fee is credited
// to. It is a fixed, well-known UUID rather than configuration because
// every symbol actor in a process shares one fee sink.
var FeeSinkUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SymbolActor owns one symbol's order book end to end: validation,
// collateral reservation, matching, fee settlement, and the trigger
// table for parked stop/take-profit orders. Per the concurrency model,
// exactly one goroutine ever calls Place/Cancel/UpdateMarkPrice/
// UpdateIndexPrice for a given
// SymbolActor, callers serialize through a mailbox (see Mailbox).
type SymbolActor struct {
	cfg          SymbolConfig
	book         *orderbook.OrderBook
	ledger       *ledger.Ledger
	trigger      *TriggerTable
	triggerStore *TriggerStore
	events       *EventPublisher
	positions    PositionOracle
	logger       *zap.Logger

	lastPrice  money.Money
	markPrice  money.Money
	indexPrice money.Money
}

// NewSymbolActor validates cfg and constructs a SymbolActor for it.
func NewSymbolActor(cfg SymbolConfig, led *ledger.Ledger, log *zap.Logger) (*SymbolActor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SymbolActor{
		cfg:     cfg,
		book:    orderbook.New(cfg.Symbol, cfg.BaseAsset, cfg.QuoteAsset),
		ledger:  led,
		trigger: NewTriggerTable(),
		logger:  log,
	}, nil
}

// WithTriggerStore attaches durable trigger-order persistence and
// replays every previously-parked order for this symbol into the
// in-memory trigger table before returning. Call once at startup,
// before the actor's mailbox accepts new orders.
func (a *SymbolActor) WithTriggerStore(store *TriggerStore) error {
	a.triggerStore = store
	records, err := store.ReplayAll(a.cfg.Symbol)
	if err != nil {
		return err
	}
	for _, rec := range records {
		a.trigger.Park(rec.OrderID, rec.Request)
	}
	return nil
}

// WithEvents attaches trade/liquidation event publication.
func (a *SymbolActor) WithEvents(pub *EventPublisher) {
	a.events = pub
}

// WithPositionOracle attaches the position lookup a reduce-only order
// caps itself against. Without one, every ReduceOnly order (including
// the liquidation scanner's) is treated as reducing a flat position and
// is rejected.
func (a *SymbolActor) WithPositionOracle(oracle PositionOracle) {
	a.positions = oracle
}

// Book exposes the underlying order book for read-only aggregator/
// router use.
func (a *SymbolActor) Book() *orderbook.OrderBook { return a.book }

// PlaceReduceOnlyMarket places a reduce-only market order on behalf of
// a caller that has already sized qty to the position being closed
// (the liquidation scanner in internal/risk); it satisfies
// risk.OrderPlacer without internal/matching importing internal/risk.
func (a *SymbolActor) PlaceReduceOnlyMarket(ctx context.Context, userID uuid.UUID, symbol string, side orderbook.Side, qty money.Money) error {
	_, err := a.Place(ctx, PlaceOrderRequest{
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Type:        OrderTypeMarket,
		Quantity:    qty,
		TimeInForce: orderbook.TIFIOC,
		ReduceOnly:  true,
	})
	return err
}

func (a *SymbolActor) validate(req PlaceOrderRequest) error {
	if req.Symbol != a.cfg.Symbol {
		return errors.New(errors.KindValidationFailed, "symbol %s does not match actor %s", req.Symbol, a.cfg.Symbol)
	}
	if req.Quantity.IsZero() || req.Quantity.Negative() {
		return errors.New(errors.KindValidationFailed, "quantity must be positive")
	}
	if req.Quantity.LessThan(a.cfg.MinQty) || req.Quantity.GreaterThan(a.cfg.MaxQty) {
		return errors.New(errors.KindValidationFailed, "quantity outside [%s,%s]", a.cfg.MinQty, a.cfg.MaxQty)
	}
	if !alignedTo(req.Quantity, a.cfg.LotSize) {
		return errors.New(errors.KindValidationFailed, "quantity not aligned to lot size %s", a.cfg.LotSize)
	}
	// Stop/TakeProfit activate as Market orders and TrailingStop takes its
	// limit from TriggerPrice (see activateRequest), so none carries a Price.
	needsPrice := req.Type != OrderTypeMarket && req.Type != OrderTypeStop &&
		req.Type != OrderTypeTakeProfit && req.Type != OrderTypeTrailingStop
	if needsPrice {
		if req.Price.IsZero() || req.Price.Negative() {
			return errors.New(errors.KindValidationFailed, "price must be positive for %s orders", req.Type)
		}
		if req.Price.LessThan(a.cfg.MinPrice) || req.Price.GreaterThan(a.cfg.MaxPrice) {
			return errors.New(errors.KindValidationFailed, "price outside [%s,%s]", a.cfg.MinPrice, a.cfg.MaxPrice)
		}
		if !alignedTo(req.Price, a.cfg.TickSize) {
			return errors.New(errors.KindValidationFailed, "price not aligned to tick size %s", a.cfg.TickSize)
		}
	}
	if req.PostOnly && req.TimeInForce != orderbook.TIFGTX {
		return errors.New(errors.KindValidationFailed, "post-only orders must use GTX time in force")
	}
	return nil
}

// reserveCollateral computes and locks the collateral a new order
// requires before it can touch the book, returning the locked amount
// so it can be unlocked/settled precisely as fills happen.
func (a *SymbolActor) reserveCollateral(ctx context.Context, req PlaceOrderRequest, orderID uuid.UUID) (money.Money, error) {
	if req.Side == orderbook.SideSell {
		if _, err := a.ledger.Lock(ctx, req.UserID, req.Quantity, orderID.String(), "order_reserve"); err != nil {
			return money.Money{}, err
		}
		return req.Quantity, nil
	}

	var refPrice money.Money
	switch req.Type {
	case OrderTypeMarket:
		best, ok := a.book.BestAsk()
		if !ok {
			return money.Money{}, errors.New(errors.KindValidationFailed, "no liquidity to price a market buy")
		}
		slippageFactor := money.RateOne().Add(a.cfg.MaxSlippage)
		refPrice = best.MulRate(slippageFactor, money.RoundUp)
	default:
		refPrice = req.Price
	}
	notional := refPrice.MulQuantity(req.Quantity, money.RoundUp)
	if _, err := a.ledger.Lock(ctx, req.UserID, notional, orderID.String(), "order_reserve"); err != nil {
		return money.Money{}, err
	}
	return notional, nil
}

// capReduceOnlyQuantity caps req.Quantity at the size of the position
// it would reduce: a sell can close at most a positive (long) position,
// a buy can close at most the absolute value of a negative (short) one.
// With no position oracle attached, or no tracked position at all, it
// falls back to the position being flat, so the order caps to zero
// rather than matching uncapped.
func (a *SymbolActor) capReduceOnlyQuantity(req PlaceOrderRequest) money.Money {
	zero := money.Zero(a.cfg.BaseAsset)
	if a.positions == nil {
		return zero
	}
	pos, ok := a.positions.SignedPosition(req.UserID, req.Symbol)
	if !ok {
		return zero
	}

	var capacity money.Money
	if req.Side == orderbook.SideSell {
		if pos.Sign() > 0 {
			capacity = pos
		} else {
			capacity = zero
		}
	} else {
		if pos.Sign() < 0 {
			capacity, _ = zero.Sub(pos)
		} else {
			capacity = zero
		}
	}
	if req.Quantity.GreaterThan(capacity) {
		return capacity
	}
	return req.Quantity
}

// Place validates, reserves collateral, matches, settles every
// resulting trade, and either rests, cancels, or parks the residual
// per the request's type and time in force. It wraps place with the
// latency/throughput counters every deployment needs to see, so the
// core matching logic itself stays free of metrics plumbing.
func (a *SymbolActor) Place(ctx context.Context, req PlaceOrderRequest) (*OrderReport, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "matching.Place",
		trace.WithAttributes(attribute.String("symbol", a.cfg.Symbol), attribute.String("side", string(req.Side))))
	defer span.End()

	start := time.Now()
	report, err := a.place(ctx, req)
	metrics.OrderLatency.WithLabelValues(a.cfg.Symbol).Observe(time.Since(start).Seconds())
	if report != nil {
		metrics.OrdersProcessed.WithLabelValues(a.cfg.Symbol, string(report.Status)).Inc()
		metrics.FillsTotal.WithLabelValues(a.cfg.Symbol).Add(float64(len(report.Trades)))
		span.SetAttributes(attribute.String("status", string(report.Status)), attribute.Int("fills", len(report.Trades)))
	}
	if err != nil {
		span.RecordError(err)
	}
	return report, err
}

func (a *SymbolActor) place(ctx context.Context, req PlaceOrderRequest) (*OrderReport, error) {
	if err := a.validate(req); err != nil {
		return &OrderReport{Status: StatusRejected, RejectReason: err.Error(), CreatedAt: time.Now()}, err
	}

	orderID := uuid.New()

	if req.Type.triggered() {
		a.trigger.Park(orderID, req)
		if a.triggerStore != nil {
			if err := a.triggerStore.Persist(orderID, req); err != nil {
				a.logger.Error("failed to persist parked trigger order", zap.Error(err), zap.String("order_id", orderID.String()))
			}
		}
		return &OrderReport{OrderID: orderID, Status: StatusPendingTrigger, FilledQuantity: money.Zero(a.cfg.BaseAsset), CreatedAt: time.Now()}, nil
	}

	if req.ReduceOnly {
		capped := a.capReduceOnlyQuantity(req)
		if capped.IsZero() {
			return &OrderReport{OrderID: orderID, Status: StatusRejected, RejectReason: "reduce-only order has no open position to reduce", FilledQuantity: money.Zero(a.cfg.BaseAsset), CreatedAt: time.Now()}, nil
		}
		req.Quantity = capped
	}

	reserved, err := a.reserveCollateral(ctx, req, orderID)
	if err != nil {
		return &OrderReport{OrderID: orderID, Status: StatusRejected, RejectReason: err.Error(), CreatedAt: time.Now()}, err
	}

	order := &orderbook.Order{
		ID:              orderID,
		UserID:          req.UserID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Price:           req.Price,
		Quantity:        req.Quantity,
		FilledQuantity:  money.Zero(a.cfg.BaseAsset),
		DisplayQuantity: req.DisplayQuantity,
		TimeInForce:     req.TimeInForce,
		PostOnly:        req.PostOnly,
		ReduceOnly:      req.ReduceOnly,
		CreatedAt:       time.Now(),
	}
	if req.Type == OrderTypeMarket {
		order.Price = money.Zero(a.cfg.QuoteAsset)
	}

	if order.PostOnly {
		report, err := a.placePostOnly(ctx, req, order, reserved)
		return report, err
	}

	if order.TimeInForce == orderbook.TIFFOK && !a.book.CanFullyFill(order, a.cfg.SelfTradePolicy) {
		a.unlock(ctx, req.UserID, orderID, reserved)
		return &OrderReport{OrderID: orderID, Status: StatusRejected, RejectReason: "fill or kill could not be fully filled", CreatedAt: time.Now()}, nil
	}

	trades, cancelled, err := a.book.Match(order, a.cfg.SelfTradePolicy)
	if err != nil {
		a.unlock(ctx, req.UserID, orderID, reserved)
		return &OrderReport{OrderID: orderID, Status: StatusRejected, RejectReason: err.Error(), CreatedAt: time.Now()}, err
	}

	spentNotional, err := a.settleTrades(ctx, order, trades)
	if err != nil {
		return &OrderReport{OrderID: orderID, Status: StatusRejected, RejectReason: err.Error(), CreatedAt: time.Now()}, err
	}
	if len(trades) > 0 {
		a.lastPrice = trades[len(trades)-1].Price
		a.checkTriggers(ctx, TriggerLastPrice, a.lastPrice)
	}

	status := disposition(order, cancelled)
	a.finalizeResidual(ctx, req, order, reserved, spentNotional, cancelled)

	report := &OrderReport{
		OrderID:        orderID,
		Status:         status,
		FilledQuantity: order.FilledQuantity,
		AvgPrice:       avgPrice(trades),
		Trades:         trades,
		CreatedAt:      order.CreatedAt,
	}
	a.events.PublishOrder(ctx, a.cfg.Symbol, report, req.UserID.String())
	return report, nil
}

func disposition(order *orderbook.Order, selfTradeCancelled bool) OrderReportStatus {
	switch {
	case order.Remaining().IsZero():
		return StatusFilled
	case selfTradeCancelled:
		return StatusCancelled
	case !order.FilledQuantity.IsZero():
		return StatusPartiallyFilled
	default:
		return StatusAccepted
	}
}

// finalizeResidual disposes of whatever quantity Match left unfilled,
// according to the order's TimeInForce, and reconciles the collateral
// locked at placement against what settlement actually consumed.
//
// Sell-side collateral is base-asset quantity, locked 1:1 with no price
// involved, so only the unfilled remainder is ever releasable. Buy-side
// collateral is quote-asset notional sized off a reference price at
// placement (the limit price, or a slippage-padded best ask for a
// market order) that can legitimately differ from the notional actually
// settled per fill: price improvement on a limit order, or the
// slippage buffer on a market order that never gets fully spent. spent
// is what settleTrades actually drew from the buyer's lock; whatever of
// reserved exceeds spent plus what must stay locked for a resting
// remainder is released here.
func (a *SymbolActor) finalizeResidual(ctx context.Context, req PlaceOrderRequest, order *orderbook.Order, reserved, spent money.Money, selfTradeCancelled bool) {
	remaining := order.Remaining()
	willRest := !selfTradeCancelled && order.TimeInForce == orderbook.TIFGTC && req.Type != OrderTypeMarket && !remaining.IsZero()

	if order.Side == orderbook.SideSell {
		if !remaining.IsZero() && !willRest {
			a.unlock(ctx, req.UserID, order.ID, remaining)
		}
		if willRest {
			if err := a.book.AddResting(order); err != nil {
				a.logger.Error("failed to rest residual order", zap.Error(err), zap.String("order_id", order.ID.String()))
				a.unlock(ctx, req.UserID, order.ID, remaining)
			}
		}
		return
	}

	shouldRemainLocked := money.Zero(a.cfg.QuoteAsset)
	if willRest {
		shouldRemainLocked = order.Price.MulQuantity(remaining, money.RoundUp)
	}
	actuallyLocked, err := reserved.Sub(spent)
	if err != nil {
		a.logger.Error("collateral accounting error", zap.Error(err), zap.String("order_id", order.ID.String()))
		return
	}
	toRelease, err := actuallyLocked.Sub(shouldRemainLocked)
	if err == nil && toRelease.Sign() > 0 {
		a.unlock(ctx, req.UserID, order.ID, toRelease)
	}
	if willRest {
		if err := a.book.AddResting(order); err != nil {
			a.logger.Error("failed to rest residual order", zap.Error(err), zap.String("order_id", order.ID.String()))
			a.unlock(ctx, req.UserID, order.ID, shouldRemainLocked)
		}
	}
}

// placePostOnly rejects outright rather than taking liquidity.
func (a *SymbolActor) placePostOnly(ctx context.Context, req PlaceOrderRequest, order *orderbook.Order, reserved money.Money) (*OrderReport, error) {
	if err := a.book.AddResting(order); err != nil {
		a.unlock(ctx, req.UserID, order.ID, reserved)
		return &OrderReport{OrderID: order.ID, Status: StatusRejected, RejectReason: err.Error(), CreatedAt: order.CreatedAt}, err
	}
	return &OrderReport{OrderID: order.ID, Status: StatusAccepted, FilledQuantity: money.Zero(a.cfg.BaseAsset), CreatedAt: order.CreatedAt}, nil
}

// unlock releases amount of a user's locked collateral tied to orderID,
// logging rather than propagating a failure; collateral release is a
// best-effort cleanup step once matching/settlement has already
// committed.
func (a *SymbolActor) unlock(ctx context.Context, userID, orderID uuid.UUID, amount money.Money) {
	if amount.IsZero() || amount.Negative() {
		return
	}
	if _, err := a.ledger.Unlock(ctx, userID, amount, orderID.String(), "order_release"); err != nil {
		a.logger.Error("failed to release collateral", zap.Error(err), zap.String("order_id", orderID.String()))
	}
}

func avgPrice(trades []orderbook.Trade) money.Money {
	if len(trades) == 0 {
		return money.Money{}
	}
	asset := trades[0].Price.Asset()
	totalNotional := money.Zero(asset)
	totalQty := money.Zero(trades[0].Quantity.Asset())
	for _, t := range trades {
		n := t.Price.MulQuantity(t.Quantity, money.RoundHalfEven)
		totalNotional, _ = totalNotional.Add(n)
		totalQty, _ = totalQty.Add(t.Quantity)
	}
	if totalQty.IsZero() {
		return money.Zero(asset)
	}
	return totalNotional.DivQuantity(totalQty, money.RoundHalfEven)
}

// Cancel removes a resting order and releases any collateral still
// locked against it. Parked trigger orders reserve no collateral at
// placement time (see Place), so cancelling one is a pure trigger-table
// removal with nothing to unlock.
func (a *SymbolActor) Cancel(ctx context.Context, orderID uuid.UUID) (*orderbook.Order, error) {
	if a.trigger.Cancel(orderID) {
		if a.triggerStore != nil {
			if err := a.triggerStore.Remove(a.cfg.Symbol, orderID); err != nil {
				a.logger.Error("failed to remove cancelled trigger order", zap.Error(err), zap.String("order_id", orderID.String()))
			}
		}
		return nil, nil
	}
	order, err := a.book.Cancel(orderID)
	if err != nil {
		return nil, err
	}
	remaining := order.Remaining()
	var toRelease money.Money
	if order.Side == orderbook.SideSell {
		toRelease = remaining
	} else {
		toRelease = order.Price.MulQuantity(remaining, money.RoundUp)
	}
	a.unlock(ctx, order.UserID, orderID, toRelease)
	return order, nil
}

// UpdateMarkPrice records the venue's current mark price and fires any
// stop/take-profit order parked against TriggerMarkPrice, on top of the
// per-trade scan against last price that Place already performs. Call
// this from whatever process feeds mark prices into the engine (a
// funding/index worker, typically).
func (a *SymbolActor) UpdateMarkPrice(ctx context.Context, price money.Money) {
	a.markPrice = price
	a.checkTriggers(ctx, TriggerMarkPrice, price)
}

// UpdateIndexPrice records the venue's current index price and fires
// any stop/take-profit order parked against TriggerIndexPrice.
func (a *SymbolActor) UpdateIndexPrice(ctx context.Context, price money.Money) {
	a.indexPrice = price
	a.checkTriggers(ctx, TriggerIndexPrice, price)
}

// checkTriggers re-submits every parked order keyed to kind whose
// condition price has just satisfied its trigger.
func (a *SymbolActor) checkTriggers(ctx context.Context, kind TriggerType, price money.Money) {
	fired := a.trigger.Check(kind, price)
	for _, ft := range fired {
		if a.triggerStore != nil {
			if err := a.triggerStore.Remove(a.cfg.Symbol, ft.OrderID); err != nil {
				a.logger.Error("failed to remove fired trigger order", zap.Error(err), zap.String("order_id", ft.OrderID.String()))
			}
		}
		activated := activateRequest(ft.Request)
		if _, err := a.Place(ctx, activated); err != nil {
			a.logger.Warn("triggered order rejected on activation", zap.Error(err))
		}
	}
}

// activateRequest converts a fired trigger request into the order type
// it triggers into: Stop/TakeProfit become Market, StopLimit/
// TakeProfitLimit/TrailingStop become Limit (TrailingStop carries a
// limit price equal to its trailing-adjusted TriggerPrice).
func activateRequest(req PlaceOrderRequest) PlaceOrderRequest {
	switch req.Type {
	case OrderTypeStop, OrderTypeTakeProfit:
		req.Type = OrderTypeMarket
	case OrderTypeStopLimit, OrderTypeTakeProfitLimit:
		req.Type = OrderTypeLimit
	case OrderTypeTrailingStop:
		req.Type = OrderTypeLimit
		req.Price = req.TriggerPrice
	}
	return req
}

// settleTrades posts every trade's settlement and returns the total
// quote notional drawn from taker's own lock, non-zero only when taker
// is on the buy side, since that is the only lock with a reference-
// price-vs-actual-price gap for finalizeResidual to reconcile.
func (a *SymbolActor) settleTrades(ctx context.Context, taker *orderbook.Order, trades []orderbook.Trade) (money.Money, error) {
	spent := money.Zero(a.cfg.QuoteAsset)
	for _, t := range trades {
		notional, err := a.settleOneTrade(ctx, taker, t)
		if err != nil {
			return money.Money{}, err
		}
		if taker.Side == orderbook.SideBuy {
			spent, err = spent.Add(notional)
			if err != nil {
				return money.Money{}, err
			}
		}
	}
	return spent, nil
}

func (a *SymbolActor) settleOneTrade(ctx context.Context, taker *orderbook.Order, t orderbook.Trade) (money.Money, error) {
	notional := t.Price.MulQuantity(t.Quantity, money.RoundHalfEven)

	var buyerUser, sellerUser uuid.UUID
	var buyerFeeRate, sellerFeeRate money.Rate
	if taker.Side == orderbook.SideBuy {
		buyerUser, sellerUser = t.TakerUserID, t.MakerUserID
		buyerFeeRate, sellerFeeRate = a.cfg.TakerFeeRate, a.cfg.MakerFeeRate
	} else {
		buyerUser, sellerUser = t.MakerUserID, t.TakerUserID
		buyerFeeRate, sellerFeeRate = a.cfg.MakerFeeRate, a.cfg.TakerFeeRate
	}
	buyerFee := notional.MulRate(buyerFeeRate, money.RoundHalfEven)
	sellerFee := notional.MulRate(sellerFeeRate, money.RoundHalfEven)

	sellerQuoteCredit, err := notional.Sub(sellerFee)
	if err != nil {
		return money.Money{}, err
	}
	totalFee, err := buyerFee.Add(sellerFee)
	if err != nil {
		return money.Money{}, err
	}

	// The buyer's quote reservation (see reserveCollateral) locks exactly
	// the notional, not notional+fee; the fee is charged separately out
	// of available balance rather than sized into the lock, since the
	// buyer's eventual maker/taker fee rate for a given fill isn't known
	// at order placement time.
	legs := []ledger.PostingLeg{
		{UserID: buyerUser, Asset: a.cfg.QuoteAsset, Op: ledger.OpSettleLocked, Amount: notional},
		{UserID: buyerUser, Asset: a.cfg.QuoteAsset, Op: ledger.OpDebit, Amount: buyerFee},
		{UserID: sellerUser, Asset: a.cfg.QuoteAsset, Op: ledger.OpCredit, Amount: sellerQuoteCredit},
		{UserID: FeeSinkUserID, Asset: a.cfg.QuoteAsset, Op: ledger.OpCredit, Amount: totalFee},
		{UserID: sellerUser, Asset: a.cfg.BaseAsset, Op: ledger.OpSettleLocked, Amount: t.Quantity},
		{UserID: buyerUser, Asset: a.cfg.BaseAsset, Op: ledger.OpCredit, Amount: t.Quantity},
	}
	ref := fmt.Sprintf("trade:%s", t.ID)
	if _, err := a.ledger.Post(ctx, ref, ledger.ReasonTradeSettlement, legs); err != nil {
		return money.Money{}, err
	}
	a.events.PublishTrade(ctx, a.cfg.Symbol, t)
	return notional, nil
}
