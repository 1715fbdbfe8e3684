// Package risk tracks derivatives positions and margin, and runs the
// periodic liquidation scan that routes undercollateralized positions
// back into the matching engine as reduce-only market orders.
package risk

import (
	"sync"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
)

// MarginType distinguishes isolated vs. cross margin accounting.
type MarginType string

const (
	MarginIsolated MarginType = "isolated"
	MarginCross    MarginType = "cross"
)

// Position is one user's open derivatives exposure on one symbol.
type Position struct {
	UserID             uuid.UUID
	Symbol             string
	SizeSigned         money.Money // positive long, negative short, base asset
	EntryPrice         money.Money
	MarkPrice          money.Money
	Leverage           money.Rate
	MarginType         MarginType
	Margin             money.Money // quote asset
	MaintenanceMargin  money.Rate  // rate of notional
	RealizedPnL        money.Money
}

// UnrealizedPnL is a pure function of (size, entry, mark): for a long,
// profit when mark rises above entry; for a short, the reverse.
func (p Position) UnrealizedPnL() (money.Money, error) {
	diff, err := p.MarkPrice.Sub(p.EntryPrice)
	if err != nil {
		return money.Money{}, err
	}
	absSize := p.SizeSigned
	if absSize.Negative() {
		absSize, _ = money.Zero(absSize.Asset()).Sub(absSize)
		diff, _ = money.Zero(diff.Asset()).Sub(diff)
	}
	return diff.MulQuantity(absSize, money.RoundHalfEven), nil
}

// MarginRatio = margin / (|size| * mark_price * maintenance_margin_rate).
// Liquidation condition is margin_ratio <= 1.
func (p Position) MarginRatio() (money.Rate, error) {
	absSize := p.SizeSigned
	if absSize.Negative() {
		absSize, _ = money.Zero(absSize.Asset()).Sub(absSize)
	}
	notional := p.MarkPrice.MulQuantity(absSize, money.RoundHalfEven)
	requirement := notional.MulRate(p.MaintenanceMargin, money.RoundHalfEven)
	if requirement.IsZero() {
		return money.RateOne(), nil
	}
	return money.RateFromMoneyRatio(p.Margin, requirement)
}

// Liquidatable reports whether margin_ratio <= 1.
func (p Position) Liquidatable() bool {
	ratio, err := p.MarginRatio()
	if err != nil {
		return false
	}
	return ratio.Cmp(money.RateOne()) <= 0
}

type key struct {
	user   uuid.UUID
	symbol string
}

// Book is a mutex-guarded position store, one entry per (user, symbol).
// A plain unsynchronized map would race under concurrent writers; this
// book uses one RWMutex instead since liquidation scanning is a
// low-frequency periodic sweep, not a per-trade hot path, so lock-free
// complexity buys nothing here.
type Book struct {
	mu        sync.RWMutex
	positions map[key]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[key]*Position)}
}

// Upsert records a position's latest state (e.g. after a fill or a mark
// price update).
func (b *Book) Upsert(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{p.UserID, p.Symbol}
	stored := p
	b.positions[k] = &stored
}

// Get returns a copy of the position for (user, symbol), if any.
func (b *Book) Get(userID uuid.UUID, symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[key{userID, symbol}]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// SignedPosition returns the user's current signed size on symbol
// (positive long, negative short, zero/false if untracked). It
// satisfies internal/matching's PositionOracle interface so a
// reduce-only order can be capped at the position it is meant to
// close, without internal/matching importing internal/risk.
func (b *Book) SignedPosition(userID uuid.UUID, symbol string) (money.Money, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[key{userID, symbol}]
	if !ok {
		return money.Money{}, false
	}
	return p.SizeSigned, true
}

// Remove deletes a closed position.
func (b *Book) Remove(userID uuid.UUID, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.positions, key{userID, symbol})
}

// UpdateMark applies a new mark price to every position on a symbol,
// returning the ones that are now liquidatable.
func (b *Book) UpdateMark(symbol string, mark money.Money) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	var liquidatable []Position
	for k, p := range b.positions {
		if k.symbol != symbol {
			continue
		}
		p.MarkPrice = mark
		if p.Liquidatable() {
			liquidatable = append(liquidatable, *p)
		}
	}
	return liquidatable
}

// All returns a snapshot of every tracked position, for the periodic
// scan loop to evaluate independent of mark-price update timing.
func (b *Book) All() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}
