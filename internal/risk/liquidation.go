package risk

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orbitcex/exchange-core/internal/metrics"
	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/orderbook"
)

// OrderPlacer is the subset of internal/matching.SymbolActor the
// liquidation loop needs: placing a reduce-only market order. Kept as
// an interface here (rather than importing internal/matching directly)
// so risk stays the caller, never the callee, of the matching engine.
type OrderPlacer interface {
	PlaceReduceOnlyMarket(ctx context.Context, userID uuid.UUID, symbol string, side orderbook.Side, qty money.Money) error
}

// InsuranceFund absorbs the residual loss a liquidation leaves behind
// when the position's own margin doesn't cover the bankruptcy gap.
type InsuranceFund struct {
	mu      sync.Mutex
	balance money.Money
}

func NewInsuranceFund(asset money.Asset) *InsuranceFund {
	return &InsuranceFund{balance: money.Zero(asset)}
}

// Absorb draws down the fund by loss, returning the shortfall (zero if
// fully absorbed) that must be passed to the ADL queue.
func (f *InsuranceFund) Absorb(loss money.Money) money.Money {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.balance.LessThan(loss) {
		f.balance, _ = f.balance.Sub(loss)
		return money.Zero(loss.Asset())
	}
	shortfall, _ := loss.Sub(f.balance)
	f.balance = money.Zero(f.balance.Asset())
	return shortfall
}

// Replenish credits the fund, e.g. from liquidation penalty fees.
func (f *InsuranceFund) Replenish(amount money.Money) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance, _ = f.balance.Add(amount)
}

// Balance returns the fund's current balance.
func (f *InsuranceFund) Balance() money.Money {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

// ADLCandidate is a counterparty ranked for auto-deleveraging.
type ADLCandidate struct {
	Position Position
	Score    float64 // higher score deleveraged first
}

// RankADL orders opposite-side positions by unrealized profit times
// leverage, highest score first.
func RankADL(positions []Position) []ADLCandidate {
	out := make([]ADLCandidate, 0, len(positions))
	for _, p := range positions {
		pnl, err := p.UnrealizedPnL()
		if err != nil {
			continue
		}
		out = append(out, ADLCandidate{Position: p, Score: moneyToFloat(pnl) * rateToFloat(p.Leverage)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func moneyToFloat(m money.Money) float64 {
	units := new(big.Float).SetInt(m.MinorUnits())
	scale := new(big.Float).SetFloat64(math.Pow10(m.Asset().Scale))
	units.Quo(units, scale)
	f, _ := units.Float64()
	return f
}

func rateToFloat(r money.Rate) float64 {
	f, _ := r.Decimal(8).Float64()
	return f
}

// Scanner periodically evaluates every tracked position and routes
// liquidatable ones back into the matching engine as reduce-only
// market orders (Open Question decision: periodic, not per-trade).
type Scanner struct {
	book      *Book
	placers   map[string]OrderPlacer // symbol -> actor
	insurance *InsuranceFund
	interval  time.Duration
	logger    *zap.Logger
}

func NewScanner(book *Book, placers map[string]OrderPlacer, insurance *InsuranceFund, interval time.Duration, logger *zap.Logger) *Scanner {
	return &Scanner{book: book, placers: placers, insurance: insurance, interval: interval, logger: logger}
}

// Run blocks ticking at the scanner's interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	for _, p := range s.book.All() {
		if !p.Liquidatable() {
			continue
		}
		s.liquidate(ctx, p)
	}
}

func (s *Scanner) liquidate(ctx context.Context, p Position) {
	placer, ok := s.placers[p.Symbol]
	if !ok {
		s.logger.Error("no order placer for symbol", zap.String("symbol", p.Symbol))
		return
	}
	side := orderbook.SideSell
	qty := p.SizeSigned
	if p.SizeSigned.Negative() {
		side = orderbook.SideBuy
		qty, _ = money.Zero(qty.Asset()).Sub(qty)
	}
	if err := placer.PlaceReduceOnlyMarket(ctx, p.UserID, p.Symbol, side, qty); err != nil {
		s.logger.Error("liquidation order failed", zap.Error(err), zap.String("user", p.UserID.String()), zap.String("symbol", p.Symbol))
		return
	}
	s.book.Remove(p.UserID, p.Symbol)
	metrics.LiquidationsTotal.WithLabelValues(p.Symbol).Inc()
	s.logger.Warn("position liquidated", zap.String("user", p.UserID.String()), zap.String("symbol", p.Symbol), zap.String("qty", qty.String()))
}

// SettleBankruptcy is called once the liquidation fill's realized loss
// is known: the insurance fund absorbs what it can, and any shortfall
// is handed to the ADL queue to deleverage ranked counterparties at the
// bankruptcy price.
func (s *Scanner) SettleBankruptcy(loss money.Money, counterparties []Position) (shortfall money.Money, adlOrder []ADLCandidate) {
	shortfall = s.insurance.Absorb(loss)
	if shortfall.IsZero() {
		return shortfall, nil
	}
	return shortfall, RankADL(counterparties)
}
