package ledger

import (
	"time"

	"github.com/google/uuid"
)

// BalanceRecord is the gorm-persisted row backing one BalanceCell. Minor
// units are stored as decimal text, never as a float column: gorm's
// float64 mapping is exactly what this module's fixed-point Money type
// exists to avoid.
type BalanceRecord struct {
	UserID          uuid.UUID `gorm:"primaryKey;type:uuid"`
	AssetSymbol     string    `gorm:"primaryKey"`
	AssetScale      int       `gorm:"not null"`
	AvailableUnits  string    `gorm:"not null"`
	LockedUnits     string    `gorm:"not null"`
	StakedUnits     string    `gorm:"not null"`
	UpdatedAt       time.Time
}

func (BalanceRecord) TableName() string { return "ledger_balances" }

// PostingRecord is the append-only log row for one committed Posting.
// LSN is assigned by the database as an auto-incrementing primary key so
// replay order is exactly commit order.
type PostingRecord struct {
	LSN         uint64    `gorm:"primaryKey;autoIncrement"`
	PostingID   uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	ReferenceID string    `gorm:"index"`
	Reason      string    `gorm:"index"`
	LegsJSON    string    `gorm:"type:text;not null"`
	CreatedAt   time.Time
}

func (PostingRecord) TableName() string { return "ledger_postings" }
