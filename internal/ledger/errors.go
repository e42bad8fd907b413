package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine and its stores.
var (
	// Caller-facing errors
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrAccountExists       = errors.New("ledger: account already exists")
	ErrAccountInactive     = errors.New("ledger: account is inactive")
	ErrInvalidInput        = errors.New("ledger: invalid input")
	ErrIdempotencyConflict = errors.New("ledger: idempotency key reused with different parameters")
	ErrUnavailable         = errors.New("ledger: storage unavailable")

	// Store-level errors, mostly handled inside the engine
	ErrEntryNotFound   = errors.New("ledger: entry not found")
	ErrDuplicateKey    = errors.New("ledger: duplicate idempotency key")
	ErrVersionConflict = errors.New("ledger: account version changed")
)

// ValidationError describes a rejected field of an apply request.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Unavailable wraps a storage failure so that errors.Is(err, ErrUnavailable) holds
// while the original cause stays inspectable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// IsRetryable returns true if the operation may be retried as-is.
// Usage debits should still confirm via EntryByKey before retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrVersionConflict)
}
