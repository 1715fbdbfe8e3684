// Package venue defines the uniform contract every external venue
// integration satisfies, plus a static registry, redis-backed
// per-venue rate limiting, and exponential backoff with jitter around
// transient venue errors.
package venue

import (
	"context"
	"time"

	"github.com/orbitcex/exchange-core/internal/money"
)

// MarketKind distinguishes the trading product a venue quotes.
type MarketKind string

const (
	MarketSpot    MarketKind = "spot"
	MarketFutures MarketKind = "futures"
	MarketMargin  MarketKind = "margin"
	MarketOptions MarketKind = "options"
	MarketETF     MarketKind = "etf"
)

// Level is a single price/quantity rung of a venue's order book.
type Level struct {
	Price    money.Money
	Quantity money.Money
}

// Book is a venue's order book snapshot for one symbol.
type Book struct {
	Venue     string
	Symbol    string
	Market    MarketKind
	Bids      []Level // highest price first
	Asks      []Level // lowest price first
	Seq       uint64
	Ts        time.Time
	LatencyMs int64
	Stale     bool
}

// Ticker24h is the rolling 24h summary required from every venue.
type Ticker24h struct {
	Venue     string
	Symbol    string
	Volume    money.Money
	Last      money.Money
	Ts        time.Time
	LatencyMs int64
	Stale     bool
}

// UpdateKind distinguishes a full resend from an incremental delta.
type UpdateKind string

const (
	UpdateSnapshot    UpdateKind = "snapshot"
	UpdateIncremental UpdateKind = "incremental"
)

// BookUpdate is one message on a subscribe_book stream.
type BookUpdate struct {
	Kind UpdateKind
	Book Book
}

// Adapter is the uniform contract every external venue implementation
// satisfies. Implementations own their own connection pool and
// are never locked against each other.
type Adapter interface {
	Name() string
	SupportedMarkets() []MarketKind
	SnapshotBook(ctx context.Context, symbol string, market MarketKind) (*Book, error)
	SubscribeBook(ctx context.Context, symbols []string, market MarketKind, onUpdate func(BookUpdate)) error
	Ticker24h(ctx context.Context, symbol string, market MarketKind) (*Ticker24h, error)
}

// Credentials is the configuration record supplied at startup for a
// venue: API key material and endpoint overrides.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	Testnet    bool
	Enabled    bool
}
