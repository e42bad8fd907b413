package services

import (
	"context"
	"time"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Apply(ctx context.Context, req ledger.ApplyRequest) (*ledger.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Result), args.Error(1)
}

func (m *MockLedger) Account(ctx context.Context, accountID string) (*models.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

func (m *MockLedger) EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Package(ctx context.Context, id string) (*models.CreditPackage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CreditPackage), args.Error(1)
}

func (m *MockCatalog) Packages(ctx context.Context) ([]models.CreditPackage, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CreditPackage), args.Error(1)
}

// fastRetry keeps backoff tests quick.
var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	MaxElapsed:      time.Second,
}
