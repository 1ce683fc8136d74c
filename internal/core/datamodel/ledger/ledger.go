package ledger

import "time"

// Entry records one wallet mutation tied to exactly one transaction. The
// unique index on transaction_id is the idempotency guard: a racing duplicate
// apply becomes a detectable key conflict instead of a silent double credit.
type Entry struct {
	ID            int64     `gorm:"primaryKey"`
	TransactionID string    `gorm:"column:transaction_id;not null;uniqueIndex"`
	OwnerID       string    `gorm:"column:owner_id;not null;index"`
	Delta         int64     `gorm:"column:delta;not null"`
	BalanceAfter  int64     `gorm:"column:balance_after;not null"`
	AppliedAt     time.Time `gorm:"column:applied_at"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}

// WalletBalance is only ever mutated inside the same database transaction as
// the Entry insert. Consumption flows decrement it elsewhere; reconciliation
// only credits.
type WalletBalance struct {
	OwnerID      string    `gorm:"column:owner_id;primaryKey"`
	TokenBalance int64     `gorm:"column:token_balance;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (WalletBalance) TableName() string {
	return "wallet_balances"
}
