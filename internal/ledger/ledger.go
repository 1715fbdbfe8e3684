package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/pkg/errors"
)

// ReasonTradeSettlement marks a Posting whose legs must net to zero per
// asset; the conservation invariant is enforced only for postings
// tagged with this reason (or any other internal-transfer reason added
// later), never for deposits/withdrawals, which are intentionally
// non-conserving: the counterparty lives outside this ledger.
const ReasonTradeSettlement = "trade_settlement"

type cellKey struct {
	userID uuid.UUID
	asset  string
}

// Ledger is the per-process balance authority. It keeps the live
// balance cells in memory, guarded by one mutex per user so that
// unrelated users never contend, and persists every committed Posting
// to the append-only log via gorm before the in-memory cells are
// considered durable.
type Ledger struct {
	db     *gorm.DB
	logger *zap.Logger

	userLocksMu sync.Mutex
	userLocks   map[uuid.UUID]*sync.Mutex

	cellsMu sync.RWMutex
	cells   map[cellKey]*BalanceCell
}

// New opens a Ledger over db, auto-migrating the balance and posting-log
// tables. db is expected to be a gorm.DB using either the postgres or
// sqlite driver.
func New(db *gorm.DB, logger *zap.Logger) (*Ledger, error) {
	if err := db.AutoMigrate(&BalanceRecord{}, &PostingRecord{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &Ledger{
		db:        db,
		logger:    logger,
		userLocks: make(map[uuid.UUID]*sync.Mutex),
		cells:     make(map[cellKey]*BalanceCell),
	}, nil
}

func (l *Ledger) lockFor(userID uuid.UUID) *sync.Mutex {
	l.userLocksMu.Lock()
	defer l.userLocksMu.Unlock()
	m, ok := l.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.userLocks[userID] = m
	}
	return m
}

func (l *Ledger) cellLocked(userID uuid.UUID, asset money.Asset) *BalanceCell {
	key := cellKey{userID: userID, asset: asset.Symbol}
	l.cellsMu.Lock()
	defer l.cellsMu.Unlock()
	c, ok := l.cells[key]
	if !ok {
		c = &BalanceCell{
			UserID:    userID,
			Asset:     asset,
			Available: money.Zero(asset),
			Locked:    money.Zero(asset),
			Staked:    money.Zero(asset),
		}
		l.cells[key] = c
	}
	return c
}

// GetBalance returns a snapshot of one user's balance cell for asset.
func (l *Ledger) GetBalance(userID uuid.UUID, asset money.Asset) BalanceCell {
	l.cellsMu.RLock()
	defer l.cellsMu.RUnlock()
	key := cellKey{userID: userID, asset: asset.Symbol}
	if c, ok := l.cells[key]; ok {
		return *c
	}
	return BalanceCell{UserID: userID, Asset: asset, Available: money.Zero(asset), Locked: money.Zero(asset), Staked: money.Zero(asset)}
}

func applyLeg(c *BalanceCell, leg PostingLeg) error {
	switch leg.Op {
	case OpCredit:
		v, err := c.Available.Add(leg.Amount)
		if err != nil {
			return err
		}
		c.Available = v
	case OpDebit:
		v, err := c.Available.Sub(leg.Amount)
		if err != nil {
			return err
		}
		c.Available = v
	case OpLock:
		av, err := c.Available.Sub(leg.Amount)
		if err != nil {
			return err
		}
		lk, err := c.Locked.Add(leg.Amount)
		if err != nil {
			return err
		}
		c.Available, c.Locked = av, lk
	case OpUnlock:
		lk, err := c.Locked.Sub(leg.Amount)
		if err != nil {
			return err
		}
		av, err := c.Available.Add(leg.Amount)
		if err != nil {
			return err
		}
		c.Available, c.Locked = av, lk
	case OpStake:
		av, err := c.Available.Sub(leg.Amount)
		if err != nil {
			return err
		}
		st, err := c.Staked.Add(leg.Amount)
		if err != nil {
			return err
		}
		c.Available, c.Staked = av, st
	case OpUnstake:
		st, err := c.Staked.Sub(leg.Amount)
		if err != nil {
			return err
		}
		av, err := c.Available.Add(leg.Amount)
		if err != nil {
			return err
		}
		c.Available, c.Staked = av, st
	case OpSettleLocked:
		v, err := c.Locked.Sub(leg.Amount)
		if err != nil {
			return err
		}
		c.Locked = v
	default:
		return errors.New(errors.KindValidationFailed, "unknown posting op %q", leg.Op)
	}
	return nil
}

// netEffect returns the signed change in Total() that leg represents,
// used to check the conservation invariant. Lock/Unlock/Stake/Unstake
// move between states within the same cell and never change the total.
func netEffect(leg PostingLeg) money.Money {
	z := money.Zero(leg.Asset)
	switch leg.Op {
	case OpCredit:
		v, _ := z.Add(leg.Amount)
		return v
	case OpDebit, OpSettleLocked:
		v, _ := z.Sub(leg.Amount)
		return v
	default:
		return z
	}
}

// Post atomically applies legs as a single Posting. Legs are locked in
// ascending user-ID order regardless of the order they're given in, so
// two concurrent Postings touching the same pair of users can never
// deadlock against each other.
//
// When reason is ReasonTradeSettlement, the per-asset sum of netEffect
// across all legs must be exactly zero (money moved between users, not
// created) and Post returns a ConservationViolation error without
// applying anything if it isn't.
func (l *Ledger) Post(ctx context.Context, referenceID, reason string, legs []PostingLeg) (*Posting, error) {
	if len(legs) == 0 {
		return nil, errors.New(errors.KindValidationFailed, "posting has no legs")
	}

	if reason == ReasonTradeSettlement {
		totals := map[string]money.Money{}
		for _, leg := range legs {
			cur, ok := totals[leg.Asset.Symbol]
			if !ok {
				cur = money.Zero(leg.Asset)
			}
			delta := netEffect(leg)
			sum, err := cur.Add(delta)
			if err != nil {
				return nil, err
			}
			totals[leg.Asset.Symbol] = sum
		}
		for sym, total := range totals {
			if !total.IsZero() {
				return nil, errors.New(errors.KindConservationViolation,
					"posting %s: asset %s nets to %s, want 0", referenceID, sym, total)
			}
		}
	}

	users := map[uuid.UUID]struct{}{}
	for _, leg := range legs {
		users[leg.UserID] = struct{}{}
	}
	ordered := make([]uuid.UUID, 0, len(users))
	for u := range users {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	var mus []*sync.Mutex
	for _, u := range ordered {
		mu := l.lockFor(u)
		mu.Lock()
		mus = append(mus, mu)
	}
	defer func() {
		for _, mu := range mus {
			mu.Unlock()
		}
	}()

	cells := make([]*BalanceCell, len(legs))
	snapshots := make([]BalanceCell, len(legs))
	for i, leg := range legs {
		c := l.cellLocked(leg.UserID, leg.Asset)
		cells[i] = c
		snapshots[i] = *c
	}

	for i, leg := range legs {
		if err := applyLeg(cells[i], leg); err != nil {
			l.rollback(cells, snapshots)
			return nil, err
		}
		if !cells[i].nonNegative() {
			l.rollback(cells, snapshots)
			return nil, errors.New(errors.KindInsufficientFunds,
				"posting %s: leg %d on user %s asset %s would drive a balance negative",
				referenceID, i, leg.UserID, leg.Asset.Symbol)
		}
	}

	posting := &Posting{
		ID:          uuid.New(),
		ReferenceID: referenceID,
		Reason:      reason,
		Legs:        legs,
		CreatedAt:   time.Now(),
	}

	if err := l.persist(ctx, posting); err != nil {
		l.rollback(cells, snapshots)
		return nil, err
	}

	return posting, nil
}

func (l *Ledger) rollback(cells []*BalanceCell, snapshots []BalanceCell) {
	for i, c := range cells {
		*c = snapshots[i]
	}
}

// legJSON is the wire shape for one PostingLeg in the append-only log.
// PostingLeg itself carries a money.Money with unexported fields, so it
// can't be marshaled directly, so this flattens it to the asset symbol,
// scale, and a decimal-text amount.
type legJSON struct {
	UserID      uuid.UUID `json:"user_id"`
	AssetSymbol string    `json:"asset_symbol"`
	AssetScale  int       `json:"asset_scale"`
	Op          LegOp     `json:"op"`
	AmountUnits string    `json:"amount_units"`
}

func (l *Ledger) persist(ctx context.Context, p *Posting) error {
	wireLegs := make([]legJSON, len(p.Legs))
	for i, leg := range p.Legs {
		wireLegs[i] = legJSON{
			UserID:      leg.UserID,
			AssetSymbol: leg.Asset.Symbol,
			AssetScale:  leg.Asset.Scale,
			Op:          leg.Op,
			AmountUnits: leg.Amount.MinorUnits().String(),
		}
	}
	legsJSON, err := json.Marshal(wireLegs)
	if err != nil {
		return fmt.Errorf("ledger: marshal legs: %w", err)
	}
	record := &PostingRecord{
		PostingID:   p.ID,
		ReferenceID: p.ReferenceID,
		Reason:      p.Reason,
		LegsJSON:    string(legsJSON),
		CreatedAt:   p.CreatedAt,
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("ledger: append posting log: %w", err)
		}
		p.LSN = record.LSN
		for _, leg := range p.Legs {
			c := l.cellLocked(leg.UserID, leg.Asset)
			rec := BalanceRecord{
				UserID:         leg.UserID,
				AssetSymbol:    leg.Asset.Symbol,
				AssetScale:     leg.Asset.Scale,
				AvailableUnits: c.Available.MinorUnits().String(),
				LockedUnits:    c.Locked.MinorUnits().String(),
				StakedUnits:    c.Staked.MinorUnits().String(),
				UpdatedAt:      p.CreatedAt,
			}
			if err := tx.Save(&rec).Error; err != nil {
				return fmt.Errorf("ledger: save balance: %w", err)
			}
		}
		return nil
	})
}

// Credit, Debit, Lock, Unlock, Stake, and Unstake are single-leg
// convenience wrappers around Post for the common case of mutating one
// user's one-asset balance outside of a multi-party settlement.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpCredit, Amount: amt}})
}

func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpDebit, Amount: amt}})
}

func (l *Ledger) Lock(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpLock, Amount: amt}})
}

func (l *Ledger) Unlock(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpUnlock, Amount: amt}})
}

func (l *Ledger) Stake(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpStake, Amount: amt}})
}

func (l *Ledger) Unstake(ctx context.Context, userID uuid.UUID, amt money.Money, referenceID, reason string) (*Posting, error) {
	return l.Post(ctx, referenceID, reason, []PostingLeg{{UserID: userID, Asset: amt.Asset(), Op: OpUnstake, Amount: amt}})
}

// Replay rebuilds the in-memory balance cells from the persisted balance
// table, for process restart. The posting log itself (PostingRecord) is
// the source of truth for audit; this reads the materialized balances
// rather than re-applying every posting from LSN 0, which would be
// unbounded work on a long-lived ledger.
func (l *Ledger) Replay(ctx context.Context) error {
	var records []BalanceRecord
	if err := l.db.WithContext(ctx).Find(&records).Error; err != nil {
		return fmt.Errorf("ledger: replay: %w", err)
	}
	l.cellsMu.Lock()
	defer l.cellsMu.Unlock()
	for _, r := range records {
		asset := money.Asset{Symbol: r.AssetSymbol, Scale: r.AssetScale}
		avail, err := parseUnits(asset, r.AvailableUnits)
		if err != nil {
			return err
		}
		locked, err := parseUnits(asset, r.LockedUnits)
		if err != nil {
			return err
		}
		staked, err := parseUnits(asset, r.StakedUnits)
		if err != nil {
			return err
		}
		key := cellKey{userID: r.UserID, asset: r.AssetSymbol}
		l.cells[key] = &BalanceCell{
			UserID:    r.UserID,
			Asset:     asset,
			Available: avail,
			Locked:    locked,
			Staked:    staked,
		}
	}
	return nil
}

func parseUnits(asset money.Asset, s string) (money.Money, error) {
	return money.ParseMinorUnits(asset, s)
}
