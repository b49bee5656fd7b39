package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the cached balance of one (user, currency) pair. It always equals
// the BalanceAfter of the pair's newest Transaction.
type Wallet struct {
	ID        uint64          `gorm:"primaryKey;column:id"`
	UserID    string          `gorm:"size:64;not null;uniqueIndex:idx_wallet_user_currency"`
	Currency  string          `gorm:"size:10;not null;uniqueIndex:idx_wallet_user_currency"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version   uint64          `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }
