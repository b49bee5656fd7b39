package model

import "time"

const (
	AggregateWallet     = "wallet"
	EventBalanceUpdated = "balance_updated"
)

type OutboxEvent struct {
	ID          uint64    `gorm:"primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID uint64    `gorm:"not null"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }

// All lists every table for AutoMigrate.
func All() []any {
	return []any{&Wallet{}, &Transaction{}, &OutboxEvent{}}
}
