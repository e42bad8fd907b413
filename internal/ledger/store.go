package ledger

import (
	"context"
	"time"

	"github.com/banglalekha/backend/internal/models"
)

// Store is the durable home of accounts (the balance store) and ledger
// entries (the transaction log). Only the Engine mutates balances, and only
// through a Tx.
type Store interface {
	// Begin opens a unit of work. Every balance mutation happens inside one.
	Begin(ctx context.Context) (Tx, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	SetAccountStatus(ctx context.Context, accountID, status string) error

	EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	ListEntries(ctx context.Context, accountID string, opts ListOptions) ([]models.LedgerEntry, error)
	UsageSummary(ctx context.Context, accountID string) ([]models.FeatureUsage, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is an atomic unit of work. Rollback after Commit must be a no-op so
// callers can always defer it.
type Tx interface {
	// LockAccount loads the account and holds it exclusively until the Tx ends.
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)
	EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
	// InsertEntry returns ErrDuplicateKey if the idempotency key is taken.
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	// UpdateBalance sets the balance and bumps the version, failing with
	// ErrVersionConflict when the stored version no longer matches.
	UpdateBalance(ctx context.Context, accountID string, balance, version int64, at time.Time) error
	Commit() error
	Rollback() error
}

// ListOptions filters and pages ledger history.
type ListOptions struct {
	Kind      models.EntryKind
	Limit     int // 0 means no limit here; Engine.History caps it at 100
	Offset    int
	Ascending bool // oldest first; default is newest first
}
