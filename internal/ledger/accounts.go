package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/banglalekha/backend/internal/metrics"
	"github.com/banglalekha/backend/internal/models"
)

const (
	welcomeGrantRef    = "welcome_grant"
	welcomeGrantPrefix = "welcome:"
	maxHistoryLimit    = 100
)

// OpenAccount creates an account with a zero balance and records the optional
// welcome grant as an adjustment. Calling it again for the same account is a no-op.
func (e *Engine) OpenAccount(ctx context.Context, accountID string, welcomeGrant int64) (*models.Account, error) {
	if accountID == "" {
		return nil, ValidationError{Field: "account_id", Message: "required"}
	}
	if welcomeGrant < 0 {
		return nil, ValidationError{Field: "welcome_grant", Message: "must not be negative"}
	}

	now := e.now()
	account := &models.Account{
		ID:        accountID,
		Balance:   0,
		Version:   1,
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created := true
	if err := e.store.CreateAccount(ctx, account); err != nil {
		if !errors.Is(err, ErrAccountExists) {
			return nil, err
		}
		created = false
	}

	if welcomeGrant > 0 {
		if _, err := e.Apply(ctx, ApplyRequest{
			AccountID:      accountID,
			Amount:         welcomeGrant,
			Kind:           models.KindAdjustment,
			ExternalRef:    welcomeGrantRef,
			IdempotencyKey: welcomeGrantPrefix + accountID,
		}); err != nil {
			return nil, fmt.Errorf("welcome grant: %w", err)
		}
	}

	if created {
		e.audit.LogOperation(accountID, "ACCOUNT_OPENED", map[string]string{
			"welcome_grant": fmt.Sprintf("%d", welcomeGrant),
		})
	}
	return e.store.GetAccount(ctx, accountID)
}

// DeactivateAccount stops new purchases and usage debits. The account and its
// history are kept.
func (e *Engine) DeactivateAccount(ctx context.Context, accountID string) error {
	if err := e.store.SetAccountStatus(ctx, accountID, models.AccountStatusInactive); err != nil {
		return err
	}
	e.audit.LogOperation(accountID, "ACCOUNT_DEACTIVATED", nil)
	return e.cache.Invalidate(ctx, accountID)
}

// Account returns the stored account record.
func (e *Engine) Account(ctx context.Context, accountID string) (*models.Account, error) {
	return e.store.GetAccount(ctx, accountID)
}

// Balance returns a possibly stale balance, consulting the cache first.
func (e *Engine) Balance(ctx context.Context, accountID string) (int64, error) {
	if balance, ok := e.cache.Get(ctx, accountID); ok {
		metrics.BalanceCacheLookupsTotal.WithLabelValues("hit").Inc()
		return balance, nil
	}
	metrics.BalanceCacheLookupsTotal.WithLabelValues("miss").Inc()

	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	e.cache.Set(ctx, accountID, account.Balance)
	return account.Balance, nil
}

// EntryByKey looks up the entry recorded for an idempotency key.
func (e *Engine) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	return e.store.EntryByKey(ctx, key)
}

// History lists entries for an account, newest first unless opts say otherwise.
// A limit of zero, or one above 100, returns at most 100 entries.
func (e *Engine) History(ctx context.Context, accountID string, opts ListOptions) ([]models.LedgerEntry, error) {
	if opts.Limit <= 0 || opts.Limit > maxHistoryLimit {
		opts.Limit = maxHistoryLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", opts.Kind)}
	}
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListEntries(ctx, accountID, opts)
}

// UsageSummary aggregates net credits spent per feature.
func (e *Engine) UsageSummary(ctx context.Context, accountID string) ([]models.FeatureUsage, error) {
	return e.store.UsageSummary(ctx, accountID)
}

// VerifyReport is the outcome of an integrity audit over one account.
type VerifyReport struct {
	AccountID string   `json:"account_id"`
	Entries   int      `json:"entries"`
	Balance   int64    `json:"balance"`
	Sum       int64    `json:"sum"`
	Problems  []string `json:"problems,omitempty"`
}

// OK reports whether no invariant violations were found.
func (r *VerifyReport) OK() bool { return len(r.Problems) == 0 }

// Verify replays the full history of an account and checks that every
// balance_after chains from its predecessor, that no balance was ever
// negative, and that the stored balance equals the sum of all amounts.
func (e *Engine) Verify(ctx context.Context, accountID string) (*VerifyReport, error) {
	account, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := e.store.ListEntries(ctx, accountID, ListOptions{Ascending: true})
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{AccountID: accountID, Entries: len(entries), Balance: account.Balance}
	var running int64
	for i, entry := range entries {
		running += entry.Amount
		if entry.BalanceAfter != running {
			report.Problems = append(report.Problems,
				fmt.Sprintf("entry %d (%s): balance_after %d, expected %d", i, entry.ID, entry.BalanceAfter, running))
			running = entry.BalanceAfter
		}
		if entry.BalanceAfter < 0 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("entry %d (%s): negative balance %d", i, entry.ID, entry.BalanceAfter))
		}
	}
	for _, entry := range entries {
		report.Sum += entry.Amount
	}
	if report.Sum != account.Balance {
		report.Problems = append(report.Problems,
			fmt.Sprintf("stored balance %d differs from entry sum %d", account.Balance, report.Sum))
	}
	return report, nil
}
