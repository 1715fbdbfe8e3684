// Package ledger implements the double-entry balance ledger: per-user,
// per-asset balance cells split into available/locked/staked, mutated
// only through atomic multi-leg Postings (trade-settlement postings must
// net to zero per asset), with every posting appended to a
// monotonically increasing log for replay and audit.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
)

// BalanceCell holds one user's balance of one asset, split into three
// states: available, locked, and staked. Total is always
// available+locked+staked and is never stored independently; it's
// derived so it can't drift out of sync with its parts.
type BalanceCell struct {
	UserID    uuid.UUID
	Asset     money.Asset
	Available money.Money
	Locked    money.Money
	Staked    money.Money
}

// Total returns available+locked+staked.
func (c BalanceCell) Total() money.Money {
	t, err := c.Available.Add(c.Locked)
	if err != nil {
		panic(err)
	}
	t, err = t.Add(c.Staked)
	if err != nil {
		panic(err)
	}
	return t
}

// nonNegative reports whether every component of the cell is >= 0.
func (c BalanceCell) nonNegative() bool {
	return !c.Available.Negative() && !c.Locked.Negative() && !c.Staked.Negative()
}

// LegOp names the balance-state transition a PostingLeg applies.
type LegOp string

const (
	// OpCredit adds delta to Available.
	OpCredit LegOp = "credit"
	// OpDebit subtracts delta from Available.
	OpDebit LegOp = "debit"
	// OpLock moves delta from Available to Locked.
	OpLock LegOp = "lock"
	// OpUnlock moves delta from Locked back to Available.
	OpUnlock LegOp = "unlock"
	// OpStake moves delta from Available to Staked.
	OpStake LegOp = "stake"
	// OpUnstake moves delta from Staked back to Available.
	OpUnstake LegOp = "unstake"
	// OpSettleLocked removes delta from Locked outright (a trade fill
	// consuming reserved collateral, or a fee debited from a lock).
	OpSettleLocked LegOp = "settle_locked"
)

// PostingLeg is one balance mutation within a Posting. Amount is always
// non-negative; the sign of the effect is implied by Op.
type PostingLeg struct {
	UserID uuid.UUID
	Asset  money.Asset
	Op     LegOp
	Amount money.Money
}

// Posting is an atomic, multi-leg balance mutation. All legs apply or
// none do. ReferenceID ties the posting back to the order/trade/deposit
// that caused it; Reason is a short machine-stable tag for audit.
type Posting struct {
	ID          uuid.UUID
	LSN         uint64
	ReferenceID string
	Reason      string
	Legs        []PostingLeg
	CreatedAt   time.Time
}
