package orderbook

import (
	"time"

	"github.com/google/uuid"

	"github.com/orbitcex/exchange-core/internal/money"
)

// Trade is one fill produced by matching a taker order against a
// resting maker order. Price is always the maker's resting price,
// per price-time priority: the maker who was already on the book sets
// the execution price.
type Trade struct {
	ID            uuid.UUID
	Symbol        string
	TakerOrderID  uuid.UUID
	MakerOrderID  uuid.UUID
	TakerUserID   uuid.UUID
	MakerUserID   uuid.UUID
	TakerSide     Side
	Price         money.Money
	Quantity      money.Money
	CreatedAt     time.Time
}
