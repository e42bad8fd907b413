package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lockAccountQuery = "SELECT account_id, balance, version, status, created_at, updated_at FROM accounts WHERE account_id = \\$1 FOR UPDATE"
	entryByKeyQuery  = "SELECT entry_id, account_id, kind, amount, balance_after, external_ref, idempotency_key, created_at FROM ledger_entries WHERE idempotency_key = \\$1"
	insertEntryQuery = "INSERT INTO ledger_entries \\(entry_id, account_id, kind, amount, balance_after, external_ref, idempotency_key, created_at\\)"
	updateBalanceSQL = "UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE account_id = \\$3 AND version = \\$4"
)

var (
	accountColumns = []string{"account_id", "balance", "version", "status", "created_at", "updated_at"}
	entryCols      = []string{"entry_id", "account_id", "kind", "amount", "balance_after", "external_ref", "idempotency_key", "created_at"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func accountRow(id string, balance, version int64, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(accountColumns).AddRow(id, balance, version, status, now, now)
}

func TestStore_ApplyThroughEngine(t *testing.T) {
	t.Run("purchase commits entry and balance", func(t *testing.T) {
		store, mock := newMockStore(t)
		engine := ledger.NewEngine(store, ledger.WithIDGenerator(func() string { return "entry-1" }))

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("user-1").
			WillReturnRows(accountRow("user-1", 20, 4, models.AccountStatusActive))
		mock.ExpectQuery(entryByKeyQuery).
			WithArgs("pay-1").
			WillReturnRows(sqlmock.NewRows(entryCols))
		mock.ExpectExec(insertEntryQuery).
			WithArgs("entry-1", "user-1", "purchase", 100, 120, "pay-1", "pay-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(120, sqlmock.AnyArg(), "user-1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		res, err := engine.Apply(context.Background(), ledger.ApplyRequest{
			AccountID:      "user-1",
			Amount:         100,
			Kind:           models.KindPurchase,
			ExternalRef:    "pay-1",
			IdempotencyKey: "pay-1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(120), res.BalanceAfter)
		assert.False(t, res.Replayed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed key returns recorded balance", func(t *testing.T) {
		store, mock := newMockStore(t)
		engine := ledger.NewEngine(store)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("user-1").
			WillReturnRows(accountRow("user-1", 120, 5, models.AccountStatusActive))
		mock.ExpectQuery(entryByKeyQuery).
			WithArgs("pay-1").
			WillReturnRows(sqlmock.NewRows(entryCols).
				AddRow("entry-1", "user-1", "purchase", 100, 120, "pay-1", "pay-1", time.Now()))
		mock.ExpectRollback()

		res, err := engine.Apply(context.Background(), ledger.ApplyRequest{
			AccountID:      "user-1",
			Amount:         100,
			Kind:           models.KindPurchase,
			ExternalRef:    "pay-1",
			IdempotencyKey: "pay-1",
		})
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, int64(120), res.BalanceAfter)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance rolls back", func(t *testing.T) {
		store, mock := newMockStore(t)
		engine := ledger.NewEngine(store)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("user-1").
			WillReturnRows(accountRow("user-1", 3, 2, models.AccountStatusActive))
		mock.ExpectQuery(entryByKeyQuery).
			WithArgs("req-1").
			WillReturnRows(sqlmock.NewRows(entryCols))
		mock.ExpectRollback()

		_, err := engine.Apply(context.Background(), ledger.ApplyRequest{
			AccountID:      "user-1",
			Amount:         -5,
			Kind:           models.KindDebitUsage,
			ExternalRef:    "ocr_extract",
			IdempotencyKey: "req-1",
		})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		store, mock := newMockStore(t)
		engine := ledger.NewEngine(store)

		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(accountColumns))
		mock.ExpectRollback()

		_, err := engine.Apply(context.Background(), ledger.ApplyRequest{
			AccountID:      "ghost",
			Amount:         10,
			Kind:           models.KindPurchase,
			IdempotencyKey: "pay-9",
		})
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTx_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("stale version is a conflict", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(updateBalanceSQL).
			WithArgs(50, sqlmock.AnyArg(), "user-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		err = tx.UpdateBalance(ctx, "user-1", 50, 3, time.Now())
		assert.ErrorIs(t, err, ledger.ErrVersionConflict)
		require.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("check constraint is insufficient balance", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(updateBalanceSQL).
			WillReturnError(&pq.Error{Code: checkViolation})
		mock.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		err = tx.UpdateBalance(ctx, "user-1", -1, 3, time.Now())
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		require.NoError(t, tx.Rollback())
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(insertEntryQuery).
			WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectRollback()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		err = tx.InsertEntry(ctx, &models.LedgerEntry{
			ID:             "entry-2",
			AccountID:      "user-1",
			Kind:           models.KindPurchase,
			Amount:         100,
			BalanceAfter:   100,
			IdempotencyKey: "pay-1",
			CreatedAt:      time.Now(),
		})
		assert.ErrorIs(t, err, ledger.ErrDuplicateKey)
		require.NoError(t, tx.Rollback())
	})

	t.Run("rollback after commit is a no-op", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failures are classified", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp 10.0.0.5:5432: connect: connection refused"))

		_, err := store.Begin(ctx)
		require.Error(t, err)
		assert.False(t, ledger.IsRetryable(err), "plain errors are not classified as connectivity failures")

		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "08006"})
		_, err = store.Begin(ctx)
		assert.ErrorIs(t, err, ledger.ErrUnavailable)
	})
}

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()

	t.Run("create duplicate account", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs("user-1", 0, 1, models.AccountStatusActive, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: uniqueViolation})

		now := time.Now()
		err := store.CreateAccount(ctx, &models.Account{ID: "user-1", Version: 1, Status: models.AccountStatusActive, CreatedAt: now, UpdatedAt: now})
		assert.ErrorIs(t, err, ledger.ErrAccountExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing account", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT account_id, balance, version, status, created_at, updated_at FROM accounts WHERE account_id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := store.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})

	t.Run("deactivate missing account", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectExec("UPDATE accounts SET status = \\$1, updated_at = \\$2 WHERE account_id = \\$3").
			WithArgs(models.AccountStatusInactive, sqlmock.AnyArg(), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.SetAccountStatus(ctx, "ghost", models.AccountStatusInactive)
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
	})
}

func TestStore_ListEntries(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT .* FROM ledger_entries WHERE account_id = \\$1 AND kind = \\$2 ORDER BY seq DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs("user-1", "debit_usage", 2, 1).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e3", "user-1", "debit_usage", -15, 85, "text_refine", "req-3", now).
			AddRow("e2", "user-1", "debit_usage", -5, 100, nil, "req-2", now))

	entries, err := store.ListEntries(context.Background(), "user-1", ledger.ListOptions{
		Kind:   models.KindDebitUsage,
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].ExternalRef)
	assert.Equal(t, "text_refine", *entries[0].ExternalRef)
	assert.Nil(t, entries[1].ExternalRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UsageSummary(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT d.external_ref").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"external_ref", "invocations", "refunds", "credits_used"}).
			AddRow("ocr_extract", 4, 1, 15).
			AddRow("text_refine", 1, 0, 15))

	usage, err := store.UsageSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []models.FeatureUsage{
		{Feature: models.FeatureOCRExtract, Invocations: 4, Refunds: 1, CreditsUsed: 15},
		{Feature: models.FeatureTextRefine, Invocations: 1, Refunds: 0, CreditsUsed: 15},
	}, usage)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"bad connection", driver.ErrBadConn, true},
		{"deadline", context.DeadlineExceeded, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"syntax error", &pq.Error{Code: "42601"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			assert.Equal(t, tt.retryable, errors.Is(err, ledger.ErrUnavailable))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	assert.NoError(t, classify("op", nil))
}
