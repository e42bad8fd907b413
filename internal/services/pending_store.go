package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banglalekha/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

var ErrPendingNotFound = errors.New("pending purchase not found")

// PendingStore holds checkout sessions between redirect and callback.
type PendingStore interface {
	Save(ctx context.Context, p *models.PendingPurchase) error
	Get(ctx context.Context, paymentID string) (*models.PendingPurchase, error)
	Delete(ctx context.Context, paymentID string) error
	// MarkFailed keeps the record indefinitely for manual investigation.
	MarkFailed(ctx context.Context, paymentID, reason string) error
	// Sweep drops pending records that expired before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

const pendingKeyPrefix = "credits:pending:"

// RedisPendingStore relies on key TTLs for expiry.
type RedisPendingStore struct {
	redis *redis.Client
}

func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{redis: client}
}

func pendingKey(paymentID string) string {
	return fmt.Sprintf("%s%s", pendingKeyPrefix, paymentID)
}

func (s *RedisPendingStore) Save(ctx context.Context, p *models.PendingPurchase) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ttl := time.Until(p.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("pending purchase %s already expired", p.PaymentID)
	}
	return s.redis.Set(ctx, pendingKey(p.PaymentID), data, ttl).Err()
}

func (s *RedisPendingStore) Get(ctx context.Context, paymentID string) (*models.PendingPurchase, error) {
	data, err := s.redis.Get(ctx, pendingKey(paymentID)).Bytes()
	if err == redis.Nil {
		return nil, ErrPendingNotFound
	}
	if err != nil {
		return nil, err
	}

	var p models.PendingPurchase
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, paymentID string) error {
	return s.redis.Del(ctx, pendingKey(paymentID)).Err()
}

func (s *RedisPendingStore) MarkFailed(ctx context.Context, paymentID, reason string) error {
	p, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	p.Status = models.PendingStatusFailed
	p.FailureReason = reason

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	// Zero expiration removes the TTL.
	return s.redis.Set(ctx, pendingKey(paymentID), data, 0).Err()
}

func (s *RedisPendingStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// MemoryPendingStore is used when Redis is unavailable and in tests.
type MemoryPendingStore struct {
	mu      sync.Mutex
	pending map[string]models.PendingPurchase
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{pending: make(map[string]models.PendingPurchase)}
}

func (s *MemoryPendingStore) Save(_ context.Context, p *models.PendingPurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.PaymentID] = *p
	return nil
}

func (s *MemoryPendingStore) Get(_ context.Context, paymentID string) (*models.PendingPurchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[paymentID]
	if !ok || p.Expired(time.Now()) {
		return nil, ErrPendingNotFound
	}
	return &p, nil
}

func (s *MemoryPendingStore) Delete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, paymentID)
	return nil
}

func (s *MemoryPendingStore) MarkFailed(_ context.Context, paymentID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[paymentID]
	if !ok {
		return ErrPendingNotFound
	}
	p.Status = models.PendingStatusFailed
	p.FailureReason = reason
	s.pending[paymentID] = p
	return nil
}

func (s *MemoryPendingStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.pending {
		if p.Expired(now) {
			delete(s.pending, id)
			removed++
		}
	}
	return removed, nil
}
