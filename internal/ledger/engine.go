package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banglalekha/backend/internal/audit"
	"github.com/banglalekha/backend/internal/metrics"
	"github.com/banglalekha/backend/internal/models"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	maxIdempotencyKeyLength = 255
	defaultConflictRetries  = 3
)

// BalanceCache is a read-through view of account balances. It is never a
// source of truth: the engine invalidates it after every committed apply.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (int64, bool)
	Set(ctx context.Context, accountID string, balance int64)
	Invalidate(ctx context.Context, accountID string) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (int64, bool) { return 0, false }
func (noopCache) Set(context.Context, string, int64)        {}
func (noopCache) Invalidate(context.Context, string) error  { return nil }

// ApplyRequest describes one balance mutation.
type ApplyRequest struct {
	AccountID      string
	Amount         int64
	Kind           models.EntryKind
	ExternalRef    string
	IdempotencyKey string
}

// Result is the outcome of a successful apply. Replayed is set when the
// idempotency key had already been applied and nothing new was written.
type Result struct {
	BalanceAfter int64
	Entry        *models.LedgerEntry
	Replayed     bool
}

// Engine is the single authority for balance mutations.
type Engine struct {
	store           Store
	cache           BalanceCache
	audit           *audit.AuditLogger
	logger          zerolog.Logger
	now             func() time.Time
	newID           func() string
	conflictRetries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache sets the balance cache.
func WithCache(c BalanceCache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(a *audit.AuditLogger) Option {
	return func(e *Engine) { e.audit = a }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithConflictRetries bounds how often a version conflict is retried.
func WithConflictRetries(n int) Option {
	return func(e *Engine) { e.conflictRetries = n }
}

// NewEngine creates a ledger engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		cache:           noopCache{},
		audit:           audit.NewAuditLogger(),
		logger:          log.With().Str("component", "ledger").Logger(),
		now:             func() time.Time { return time.Now().UTC() },
		newID:           func() string { return ulid.Make().String() },
		conflictRetries: defaultConflictRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply atomically records req against the account balance. A repeated
// idempotency key returns the originally recorded balance without writing.
func (e *Engine) Apply(ctx context.Context, req ApplyRequest) (*Result, error) {
	if err := req.validate(); err != nil {
		metrics.LedgerAppliesTotal.WithLabelValues(string(req.Kind), "rejected").Inc()
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.LedgerApplyDuration.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())
	}()

	var (
		res *Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = e.apply(ctx, req)
		if !errors.Is(err, ErrVersionConflict) || attempt >= e.conflictRetries {
			break
		}
		metrics.LedgerVersionConflictsTotal.Inc()
		e.logger.Debug().
			Str("account_id", req.AccountID).
			Int("attempt", attempt+1).
			Msg("version conflict, retrying apply")
	}

	if err != nil {
		outcome := "failed"
		if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrAccountNotFound) ||
			errors.Is(err, ErrAccountInactive) || errors.Is(err, ErrIdempotencyConflict) {
			outcome = "rejected"
		}
		metrics.LedgerAppliesTotal.WithLabelValues(string(req.Kind), outcome).Inc()
		e.audit.LogRejection(req.AccountID, string(req.Kind), req.IdempotencyKey, req.Amount, err)
		return nil, err
	}

	if res.Replayed {
		metrics.LedgerAppliesTotal.WithLabelValues(string(req.Kind), "replayed").Inc()
		e.audit.LogEntry(res.Entry, true)
		return res, nil
	}

	metrics.LedgerAppliesTotal.WithLabelValues(string(req.Kind), "committed").Inc()
	e.audit.LogEntry(res.Entry, false)
	if err := e.cache.Invalidate(ctx, req.AccountID); err != nil {
		e.logger.Warn().Err(err).Str("account_id", req.AccountID).Msg("balance cache invalidation failed")
	}
	return res, nil
}

func (e *Engine) apply(ctx context.Context, req ApplyRequest) (*Result, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := tx.LockAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	// Checked under the account lock so that concurrent deliveries of the
	// same key serialize here instead of racing on insert.
	existing, err := tx.EntryByKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil:
		return replay(existing, req)
	case !errors.Is(err, ErrEntryNotFound):
		return nil, err
	}

	if account.Status != models.AccountStatusActive &&
		(req.Kind == models.KindPurchase || req.Kind == models.KindDebitUsage) {
		return nil, ErrAccountInactive
	}

	balanceAfter := account.Balance + req.Amount
	if req.Amount > 0 && balanceAfter < account.Balance {
		return nil, ValidationError{Field: "amount", Message: "balance overflow"}
	}
	if balanceAfter < 0 {
		return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, account.Balance, -req.Amount)
	}

	now := e.now()
	entry := &models.LedgerEntry{
		ID:             e.newID(),
		AccountID:      account.ID,
		Kind:           req.Kind,
		Amount:         req.Amount,
		BalanceAfter:   balanceAfter,
		ExternalRef:    models.Ref(req.ExternalRef),
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}

	if err := tx.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			tx.Rollback()
			return e.replayCommitted(ctx, req)
		}
		return nil, err
	}

	if err := tx.UpdateBalance(ctx, account.ID, balanceAfter, account.Version, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, ErrDuplicateKey) {
			return e.replayCommitted(ctx, req)
		}
		return nil, err
	}

	return &Result{BalanceAfter: balanceAfter, Entry: entry}, nil
}

// replayCommitted resolves a key collision detected at write time, which
// happens when the same key raced in on a different account.
func (e *Engine) replayCommitted(ctx context.Context, req ApplyRequest) (*Result, error) {
	existing, err := e.store.EntryByKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return replay(existing, req)
}

func replay(existing *models.LedgerEntry, req ApplyRequest) (*Result, error) {
	if existing.AccountID != req.AccountID || existing.Kind != req.Kind || existing.Amount != req.Amount {
		return nil, fmt.Errorf("%w: key %q", ErrIdempotencyConflict, req.IdempotencyKey)
	}
	return &Result{BalanceAfter: existing.BalanceAfter, Entry: existing, Replayed: true}, nil
}

func (r ApplyRequest) validate() error {
	switch {
	case r.AccountID == "":
		return ValidationError{Field: "account_id", Message: "required"}
	case r.IdempotencyKey == "":
		return ValidationError{Field: "idempotency_key", Message: "required"}
	case len(r.IdempotencyKey) > maxIdempotencyKeyLength:
		return ValidationError{Field: "idempotency_key", Message: "too long"}
	case !r.Kind.Valid():
		return ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", r.Kind)}
	case r.Amount == 0:
		return ValidationError{Field: "amount", Message: "must be non-zero"}
	}

	switch r.Kind {
	case models.KindPurchase, models.KindRefund:
		if r.Amount < 0 {
			return ValidationError{Field: "amount", Message: string(r.Kind) + " must credit"}
		}
	case models.KindDebitUsage:
		if r.Amount > 0 {
			return ValidationError{Field: "amount", Message: "usage must debit"}
		}
	}
	return nil
}
