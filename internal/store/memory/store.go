package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
)

// Store keeps accounts and entries in process memory. Each account carries
// its own mutex which a Tx holds from LockAccount until Commit or Rollback,
// so applies on different accounts run in parallel.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*accountRecord
	entries  []models.LedgerEntry
	byKey    map[string]int // idempotency key -> index into entries
}

type accountRecord struct {
	lock    sync.Mutex
	account models.Account
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*accountRecord),
		entries:  make([]models.LedgerEntry, 0),
		byKey:    make(map[string]int),
	}
}

func (s *Store) Begin(ctx context.Context) (ledger.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, ledger.Unavailable("begin", err)
	}
	return &tx{store: s}, nil
}

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return ledger.ErrAccountExists
	}
	s.accounts[account.ID] = &accountRecord{account: *account}
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.accounts[accountID]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	account := rec.account
	return &account, nil
}

func (s *Store) SetAccountStatus(_ context.Context, accountID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.accounts[accountID]
	if !ok {
		return ledger.ErrAccountNotFound
	}
	rec.account.Status = status
	rec.account.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) EntryByKey(_ context.Context, key string) (*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entryByKeyLocked(key)
}

func (s *Store) entryByKeyLocked(key string) (*models.LedgerEntry, error) {
	idx, ok := s.byKey[key]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	entry := s.entries[idx]
	return &entry, nil
}

func (s *Store) ListEntries(_ context.Context, accountID string, opts ledger.ListOptions) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.AccountID != accountID {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		result = append(result, e)
	}
	if !opts.Ascending {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) UsageSummary(_ context.Context, accountID string) ([]models.FeatureUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byFeature := make(map[models.Feature]*models.FeatureUsage)
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Kind != models.KindDebitUsage || e.ExternalRef == nil {
			continue
		}
		feature := models.Feature(*e.ExternalRef)
		u, ok := byFeature[feature]
		if !ok {
			u = &models.FeatureUsage{Feature: feature}
			byFeature[feature] = u
		}
		u.Invocations++
		u.CreditsUsed += -e.Amount
	}
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Kind != models.KindRefund || e.ExternalRef == nil {
			continue
		}
		debit, err := s.entryByKeyLocked(*e.ExternalRef)
		if err != nil || debit.Kind != models.KindDebitUsage || debit.ExternalRef == nil {
			continue
		}
		if u, ok := byFeature[models.Feature(*debit.ExternalRef)]; ok {
			u.Refunds++
			u.CreditsUsed -= e.Amount
		}
	}

	result := make([]models.FeatureUsage, 0, len(byFeature))
	for _, u := range byFeature {
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Feature < result[j].Feature })
	return result, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

type tx struct {
	store   *Store
	locked  *accountRecord
	entries []models.LedgerEntry
	update  *balanceUpdate
	done    bool
}

// balanceUpdate carries only the fields an apply owns, so a concurrent
// SetAccountStatus survives the commit.
type balanceUpdate struct {
	balance int64
	version int64
	at      time.Time
}

func (t *tx) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	t.store.mu.RLock()
	rec, ok := t.store.accounts[accountID]
	t.store.mu.RUnlock()
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, ledger.Unavailable("lock account", err)
	}

	rec.lock.Lock()
	t.locked = rec

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	account := rec.account
	return &account, nil
}

func (t *tx) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	for i := range t.entries {
		if t.entries[i].IdempotencyKey == key {
			entry := t.entries[i]
			return &entry, nil
		}
	}
	return t.store.EntryByKey(ctx, key)
}

func (t *tx) InsertEntry(_ context.Context, entry *models.LedgerEntry) error {
	t.store.mu.RLock()
	_, taken := t.store.byKey[entry.IdempotencyKey]
	t.store.mu.RUnlock()
	if taken {
		return ledger.ErrDuplicateKey
	}
	t.entries = append(t.entries, *entry)
	return nil
}

func (t *tx) UpdateBalance(_ context.Context, accountID string, balance, version int64, at time.Time) error {
	if t.locked == nil {
		return ledger.ErrAccountNotFound
	}

	t.store.mu.RLock()
	id, current := t.locked.account.ID, t.locked.account.Version
	t.store.mu.RUnlock()

	if id != accountID {
		return ledger.ErrAccountNotFound
	}
	if current != version {
		return ledger.ErrVersionConflict
	}
	t.update = &balanceUpdate{balance: balance, version: version + 1, at: at}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return nil
	}
	defer t.release()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, e := range t.entries {
		if _, taken := t.store.byKey[e.IdempotencyKey]; taken {
			return ledger.ErrDuplicateKey
		}
	}
	for _, e := range t.entries {
		t.store.byKey[e.IdempotencyKey] = len(t.store.entries)
		t.store.entries = append(t.store.entries, e)
	}
	if t.update != nil {
		t.locked.account.Balance = t.update.balance
		t.locked.account.Version = t.update.version
		t.locked.account.UpdatedAt = t.update.at
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	if t.locked != nil {
		t.locked.lock.Unlock()
	}
}
