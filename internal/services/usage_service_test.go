package services

import (
	"context"
	"errors"
	"testing"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/banglalekha/backend/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newUsageFixture(t *testing.T, balance int64) (*UsageService, *ledger.Engine) {
	t.Helper()
	engine := ledger.NewEngine(memory.New())
	_, err := engine.OpenAccount(context.Background(), "user-1", balance)
	require.NoError(t, err)
	return NewUsageService(engine, nil, fastRetry), engine
}

func accountBalance(t *testing.T, engine *ledger.Engine, accountID string) int64 {
	t.Helper()
	account, err := engine.Account(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func TestUsageService_Cost(t *testing.T) {
	svc := NewUsageService(new(MockLedger), nil, RetryConfig{})

	cost, err := svc.Cost(models.FeatureOCRExtract)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cost)

	cost, err = svc.Cost(models.FeatureTextRefine)
	require.NoError(t, err)
	assert.Equal(t, int64(15), cost)

	_, err = svc.Cost("translate")
	assert.ErrorIs(t, err, ErrUnknownFeature)

	costs := svc.Costs()
	costs[models.FeatureOCRExtract] = 0
	cost, _ = svc.Cost(models.FeatureOCRExtract)
	assert.Equal(t, int64(5), cost)
}

func TestUsageService_Charge(t *testing.T) {
	ctx := context.Background()

	t.Run("debits feature cost once per request", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 20)

		charge, err := svc.Charge(ctx, "user-1", models.FeatureOCRExtract, "req-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), charge.Cost)
		assert.Equal(t, int64(15), charge.BalanceAfter)
		assert.False(t, charge.Replayed)

		again, err := svc.Charge(ctx, "user-1", models.FeatureOCRExtract, "req-1")
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, int64(15), again.BalanceAfter)
		assert.Equal(t, int64(15), accountBalance(t, engine, "user-1"))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 3)

		_, err := svc.Charge(ctx, "user-1", models.FeatureOCRExtract, "req-1")
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.Equal(t, int64(3), accountBalance(t, engine, "user-1"))
	})

	t.Run("unknown feature", func(t *testing.T) {
		svc, _ := newUsageFixture(t, 20)

		_, err := svc.Charge(ctx, "user-1", "translate", "req-1")
		assert.ErrorIs(t, err, ErrUnknownFeature)
	})

	t.Run("confirms debit after storage failure", func(t *testing.T) {
		l := new(MockLedger)
		l.On("Apply", mock.Anything, mock.Anything).
			Return(nil, ledger.Unavailable("commit", errors.New("connection reset"))).Once()
		l.On("EntryByKey", mock.Anything, "req-1").Return(&models.LedgerEntry{
			AccountID:      "user-1",
			Kind:           models.KindDebitUsage,
			Amount:         -15,
			BalanceAfter:   85,
			IdempotencyKey: "req-1",
		}, nil).Once()

		charge, err := NewUsageService(l, nil, fastRetry).Charge(ctx, "user-1", models.FeatureTextRefine, "req-1")
		require.NoError(t, err)
		assert.Equal(t, int64(85), charge.BalanceAfter)
		l.AssertExpectations(t)
	})

	t.Run("reports outage when debit did not commit", func(t *testing.T) {
		l := new(MockLedger)
		l.On("Apply", mock.Anything, mock.Anything).
			Return(nil, ledger.Unavailable("commit", errors.New("connection reset"))).Once()
		l.On("EntryByKey", mock.Anything, "req-1").Return(nil, ledger.ErrEntryNotFound).Once()

		_, err := NewUsageService(l, nil, fastRetry).Charge(ctx, "user-1", models.FeatureTextRefine, "req-1")
		assert.ErrorIs(t, err, ledger.ErrUnavailable)
		l.AssertNumberOfCalls(t, "Apply", 1)
	})
}

func TestUsageService_Refund(t *testing.T) {
	ctx := context.Background()

	t.Run("refunds at most once", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 10)
		_, err := svc.Charge(ctx, "user-1", models.FeatureOCRExtract, "req1")
		require.NoError(t, err)

		res, err := svc.Refund(ctx, "user-1", "req1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.BalanceAfter)
		assert.Equal(t, "req1:refund", res.Entry.IdempotencyKey)
		require.NotNil(t, res.Entry.ExternalRef)
		assert.Equal(t, "req1", *res.Entry.ExternalRef)

		again, err := svc.Refund(ctx, "user-1", "req1")
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, int64(10), accountBalance(t, engine, "user-1"))
	})

	t.Run("nothing to refund", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 10)
		_, err := engine.OpenAccount(ctx, "user-2", 10)
		require.NoError(t, err)
		_, err = svc.Charge(ctx, "user-2", models.FeatureOCRExtract, "req-2")
		require.NoError(t, err)

		_, err = svc.Refund(ctx, "user-1", "req-missing")
		assert.ErrorIs(t, err, ErrNothingToRefund)

		_, err = svc.Refund(ctx, "user-1", "req-2")
		assert.ErrorIs(t, err, ErrNothingToRefund)

		// The welcome grant is not a usage debit.
		_, err = svc.Refund(ctx, "user-1", "welcome:user-1")
		assert.ErrorIs(t, err, ErrNothingToRefund)
	})
}

func TestUsageService_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("success keeps the charge", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 20)
		called := false

		charge, err := svc.Run(ctx, "user-1", models.FeatureTextRefine, "req-1", func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.False(t, charge.Refunded)
		assert.Equal(t, int64(5), accountBalance(t, engine, "user-1"))
	})

	t.Run("failure refunds the charge", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 20)
		providerErr := errors.New("tesseract: no text found")

		charge, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req-1", func(context.Context) error {
			return providerErr
		})
		assert.ErrorIs(t, err, ErrFeatureFailed)
		assert.ErrorIs(t, err, providerErr)
		require.NotNil(t, charge)
		assert.True(t, charge.Refunded)
		assert.Equal(t, int64(20), charge.BalanceAfter)
		assert.Equal(t, int64(20), accountBalance(t, engine, "user-1"))

		usage, err := engine.UsageSummary(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, usage, 1)
		assert.Equal(t, int64(1), usage[0].Refunds)
		assert.Equal(t, int64(0), usage[0].CreditsUsed)
	})

	t.Run("refund lands after caller cancels", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 20)
		runCtx, cancel := context.WithCancel(ctx)

		_, err := svc.Run(runCtx, "user-1", models.FeatureOCRExtract, "req-1", func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		})
		assert.ErrorIs(t, err, ErrFeatureFailed)
		assert.Equal(t, int64(20), accountBalance(t, engine, "user-1"))
	})

	t.Run("refunded request id cannot be rerun", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 100)

		_, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req1", func(context.Context) error {
			return errors.New("provider down")
		})
		require.ErrorIs(t, err, ErrFeatureFailed)
		require.Equal(t, int64(100), accountBalance(t, engine, "user-1"))

		called := false
		charge, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req1", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ErrRequestRefunded)
		assert.Nil(t, charge)
		assert.False(t, called)
		assert.Equal(t, int64(100), accountBalance(t, engine, "user-1"))

		charge, err = svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req2", func(context.Context) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, int64(95), charge.BalanceAfter)
	})

	t.Run("replay of a successful request is charged once", func(t *testing.T) {
		svc, engine := newUsageFixture(t, 20)
		ok := func(context.Context) error { return nil }

		_, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req-1", ok)
		require.NoError(t, err)
		charge, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req-1", ok)
		require.NoError(t, err)
		assert.True(t, charge.Replayed)
		assert.Equal(t, int64(15), accountBalance(t, engine, "user-1"))
	})

	t.Run("refund lookup failure does not invoke the feature", func(t *testing.T) {
		l := new(MockLedger)
		svc := NewUsageService(l, nil, fastRetry)
		debit := &models.LedgerEntry{AccountID: "user-1", Kind: models.KindDebitUsage, Amount: -5, BalanceAfter: 15}
		l.On("Apply", mock.Anything, mock.Anything).Return(&ledger.Result{BalanceAfter: 15, Entry: debit, Replayed: true}, nil)
		l.On("EntryByKey", mock.Anything, RefundKey("req-1")).Return(nil, ledger.Unavailable("entry by key", errors.New("conn reset")))

		called := false
		_, err := svc.Run(ctx, "user-1", models.FeatureOCRExtract, "req-1", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ledger.ErrUnavailable)
		assert.False(t, called)
		l.AssertExpectations(t)
	})

	t.Run("feature is not invoked without credits", func(t *testing.T) {
		svc, _ := newUsageFixture(t, 0)
		called := false

		_, err := svc.Run(ctx, "user-1", models.FeatureTextRefine, "req-1", func(context.Context) error {
			called = true
			return nil
		})
		assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		assert.False(t, called)
	})
}
