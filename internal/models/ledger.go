package models

import (
	"time"
)

// EntryKind classifies a balance-affecting event.
type EntryKind string

const (
	KindPurchase   EntryKind = "purchase"
	KindDebitUsage EntryKind = "debit_usage"
	KindRefund     EntryKind = "refund"
	KindAdjustment EntryKind = "adjustment"
)

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindPurchase, KindDebitUsage, KindRefund, KindAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of a single balance mutation.
type LedgerEntry struct {
	ID             string    `json:"id" db:"entry_id"`
	AccountID      string    `json:"account_id" db:"account_id"`
	Kind           EntryKind `json:"kind" db:"kind"`
	Amount         int64     `json:"amount" db:"amount"` // signed, in credits
	BalanceAfter   int64     `json:"balance_after" db:"balance_after"`
	ExternalRef    *string   `json:"external_ref,omitempty" db:"external_ref"`
	IdempotencyKey string    `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

const (
	AccountStatusActive   = "active"
	AccountStatusInactive = "inactive"
)

type Account struct {
	ID        string    `json:"id" db:"account_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"` // for optimistic locking
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Ref returns a pointer to s, or nil when s is empty.
func Ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
