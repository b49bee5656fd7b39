package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types the platform emits. Callers may use others.
const (
	TypeAdminTopup = "admin_topup"
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
	TypeDealOpen   = "deal_open"
	TypeDealClose  = "deal_close"
	TypeProfit     = "profit"
)

// Metadata is stored verbatim and never interpreted by the ledger.
type Metadata map[string]any

// Transaction is an immutable ledger entry. Amount is signed: credit > 0, debit < 0.
type Transaction struct {
	ID             uint64          `gorm:"primaryKey" json:"id"`
	WalletID       uint64          `gorm:"not null;index" json:"-"`
	UserID         string          `gorm:"size:64;not null;index:idx_tx_user_currency" json:"user_id"`
	Currency       string          `gorm:"size:10;not null;index:idx_tx_user_currency" json:"currency"`
	Type           string          `gorm:"size:32;not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"amount"`
	BalanceBefore  decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_before"`
	BalanceAfter   decimal.Decimal `gorm:"type:numeric(20,8);not null" json:"balance_after"`
	IdempotencyKey *string         `gorm:"size:128;uniqueIndex" json:"idempotency_key,omitempty"`
	Metadata       Metadata        `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (Transaction) TableName() string { return "transaction" }
