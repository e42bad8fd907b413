package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/banglalekha/backend/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(t *testing.T, s *memory.Store, id string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, s.CreateAccount(context.Background(), &models.Account{
		ID:        id,
		Status:    models.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestCommit_KeepsStatusChangedDuringTx(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	newAccount(t, s, "u1")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	account, err := tx.LockAccount(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, tx.InsertEntry(ctx, &models.LedgerEntry{
		ID:             "e1",
		AccountID:      "u1",
		Kind:           models.KindAdjustment,
		Amount:         10,
		BalanceAfter:   10,
		IdempotencyKey: "k1",
	}))
	require.NoError(t, tx.UpdateBalance(ctx, "u1", 10, account.Version, time.Now().UTC()))

	require.NoError(t, s.SetAccountStatus(ctx, "u1", models.AccountStatusInactive))
	require.NoError(t, tx.Commit())

	got, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusInactive, got.Status)
	assert.Equal(t, int64(10), got.Balance)
	assert.Equal(t, account.Version+1, got.Version)
}

func TestSetAccountStatus_ConcurrentWithApply(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	newAccount(t, s, "u1")
	e := ledger.NewEngine(s)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := e.Apply(ctx, ledger.ApplyRequest{
				AccountID:      "u1",
				Amount:         1,
				Kind:           models.KindAdjustment,
				ExternalRef:    "grant",
				IdempotencyKey: fmt.Sprintf("grant-%d", i),
			})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			status := models.AccountStatusActive
			if i%2 == 0 {
				status = models.AccountStatusInactive
			}
			assert.NoError(t, s.SetAccountStatus(ctx, "u1", status))
		}
	}()
	wg.Wait()

	require.NoError(t, s.SetAccountStatus(ctx, "u1", models.AccountStatusInactive))
	got, err := s.GetAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusInactive, got.Status)
	assert.Equal(t, int64(50), got.Balance)
}

func TestInsertEntry_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	newAccount(t, s, "u1")
	e := ledger.NewEngine(s)

	_, err := e.Apply(ctx, ledger.ApplyRequest{
		AccountID: "u1", Amount: 5, Kind: models.KindAdjustment, ExternalRef: "grant", IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.LockAccount(ctx, "u1")
	require.NoError(t, err)
	err = tx.InsertEntry(ctx, &models.LedgerEntry{ID: "e2", AccountID: "u1", Amount: 1, IdempotencyKey: "k1"})
	assert.ErrorIs(t, err, ledger.ErrDuplicateKey)
}
