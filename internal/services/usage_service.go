package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/metrics"
	"github.com/banglalekha/backend/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownFeature  = errors.New("unknown feature")
	ErrNothingToRefund = errors.New("no usage debit to refund")
	ErrFeatureFailed   = errors.New("feature invocation failed")
	ErrRequestRefunded = errors.New("request already failed and was refunded, retry with a new key")
)

// DefaultFeatureCosts are the per-invocation prices in credits.
func DefaultFeatureCosts() map[models.Feature]int64 {
	return map[models.Feature]int64{
		models.FeatureOCRExtract: 5,
		models.FeatureTextRefine: 15,
	}
}

// UsageCharge is the debit recorded for one feature invocation.
type UsageCharge struct {
	RequestID    string         `json:"request_id"`
	Feature      models.Feature `json:"feature"`
	Cost         int64          `json:"cost"`
	BalanceAfter int64          `json:"balance_after"`
	Replayed     bool           `json:"replayed,omitempty"`
	Refunded     bool           `json:"refunded,omitempty"`
}

// UsageService debits credits for metered features and refunds them when the
// feature fails after the debit.
type UsageService struct {
	ledger CreditLedger
	costs  map[models.Feature]int64
	retry  RetryConfig
	logger zerolog.Logger
}

func NewUsageService(l CreditLedger, costs map[models.Feature]int64, retry RetryConfig) *UsageService {
	if len(costs) == 0 {
		costs = DefaultFeatureCosts()
	}
	return &UsageService{
		ledger: l,
		costs:  costs,
		retry:  retry.withDefaults(),
		logger: log.With().Str("component", "usage").Logger(),
	}
}

// Cost returns the price of feature.
func (s *UsageService) Cost(feature models.Feature) (int64, error) {
	cost, ok := s.costs[feature]
	if !ok || cost <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	return cost, nil
}

// Costs returns a copy of the price list.
func (s *UsageService) Costs() map[models.Feature]int64 {
	out := make(map[models.Feature]int64, len(s.costs))
	for f, c := range s.costs {
		out[f] = c
	}
	return out
}

// Charge debits the feature cost under requestID. A storage failure is not
// retried blindly: the entry is looked up first to learn whether the debit
// committed.
func (s *UsageService) Charge(ctx context.Context, accountID string, feature models.Feature, requestID string) (*UsageCharge, error) {
	cost, err := s.Cost(feature)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.Apply(ctx, ledger.ApplyRequest{
		AccountID:      accountID,
		Amount:         -cost,
		Kind:           models.KindDebitUsage,
		ExternalRef:    string(feature),
		IdempotencyKey: requestID,
	})
	if errors.Is(err, ledger.ErrUnavailable) {
		res, err = s.confirmDebit(ctx, accountID, feature, requestID, cost, err)
	}
	if err != nil {
		outcome := "failed"
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			outcome = "insufficient"
		}
		metrics.UsageChargesTotal.WithLabelValues(string(feature), outcome).Inc()
		return nil, err
	}

	outcome := "charged"
	if res.Replayed {
		outcome = "replayed"
	}
	metrics.UsageChargesTotal.WithLabelValues(string(feature), outcome).Inc()

	return &UsageCharge{
		RequestID:    requestID,
		Feature:      feature,
		Cost:         cost,
		BalanceAfter: res.BalanceAfter,
		Replayed:     res.Replayed,
	}, nil
}

func (s *UsageService) confirmDebit(ctx context.Context, accountID string, feature models.Feature, requestID string, cost int64, applyErr error) (*ledger.Result, error) {
	entry, err := s.ledger.EntryByKey(ctx, requestID)
	if err != nil {
		s.logger.Warn().Err(err).Str("request_id", requestID).Msg("could not confirm usage debit after storage failure")
		return nil, applyErr
	}
	if entry.AccountID != accountID || entry.Kind != models.KindDebitUsage || entry.Amount != -cost {
		return nil, fmt.Errorf("%w: key %q", ledger.ErrIdempotencyConflict, requestID)
	}
	s.logger.Info().Str("request_id", requestID).Str("feature", string(feature)).Msg("usage debit committed despite storage error")
	return &ledger.Result{BalanceAfter: entry.BalanceAfter, Entry: entry}, nil
}

// Refund credits back the debit recorded under requestID. The refund is keyed
// requestID + ":refund" and references requestID, so it happens at most once.
func (s *UsageService) Refund(ctx context.Context, accountID, requestID string) (*ledger.Result, error) {
	debit, err := s.ledger.EntryByKey(ctx, requestID)
	if errors.Is(err, ledger.ErrEntryNotFound) {
		return nil, ErrNothingToRefund
	}
	if err != nil {
		return nil, err
	}
	if debit.AccountID != accountID || debit.Kind != models.KindDebitUsage {
		return nil, ErrNothingToRefund
	}

	res, err := applyWithRetry(ctx, s.ledger, ledger.ApplyRequest{
		AccountID:      accountID,
		Amount:         -debit.Amount,
		Kind:           models.KindRefund,
		ExternalRef:    requestID,
		IdempotencyKey: RefundKey(requestID),
	}, s.retry, s.logger)
	if err != nil {
		return nil, err
	}

	feature := ""
	if debit.ExternalRef != nil {
		feature = *debit.ExternalRef
	}
	if !res.Replayed {
		metrics.UsageRefundsTotal.WithLabelValues(feature).Inc()
	}
	s.logger.Info().
		Str("request_id", requestID).
		Str("feature", feature).
		Int64("amount", -debit.Amount).
		Bool("replayed", res.Replayed).
		Msg("usage refunded")
	return res, nil
}

func (s *UsageService) ensureNotRefunded(ctx context.Context, feature models.Feature, requestID string) error {
	_, err := s.ledger.EntryByKey(ctx, RefundKey(requestID))
	switch {
	case err == nil:
		metrics.UsageChargesTotal.WithLabelValues(string(feature), "refunded_replay").Inc()
		return fmt.Errorf("%w: %q", ErrRequestRefunded, requestID)
	case errors.Is(err, ledger.ErrEntryNotFound):
		return nil
	default:
		return err
	}
}

// RefundKey is the idempotency key of the refund for a usage debit.
func RefundKey(requestID string) string {
	return requestID + ":refund"
}

// Run charges for feature, invokes fn, and refunds the charge if fn fails.
// A request id whose debit was already refunded is spent: fn is not invoked.
func (s *UsageService) Run(ctx context.Context, accountID string, feature models.Feature, requestID string, fn func(context.Context) error) (*UsageCharge, error) {
	charge, err := s.Charge(ctx, accountID, feature, requestID)
	if err != nil {
		return nil, err
	}
	if charge.Replayed {
		if err := s.ensureNotRefunded(ctx, feature, requestID); err != nil {
			return nil, err
		}
	}

	fnErr := fn(ctx)
	if fnErr == nil {
		return charge, nil
	}

	s.logger.Warn().Err(fnErr).
		Str("request_id", requestID).
		Str("feature", string(feature)).
		Msg("feature failed after charge, refunding")

	// The caller's context may already be cancelled; the refund must still land.
	refundCtx := context.WithoutCancel(ctx)
	res, err := s.Refund(refundCtx, accountID, requestID)
	if err != nil {
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("usage refund failed")
		return charge, errors.Join(fmt.Errorf("%w: %s: %w", ErrFeatureFailed, feature, fnErr), err)
	}

	charge.Refunded = true
	charge.BalanceAfter = res.BalanceAfter
	return charge, fmt.Errorf("%w: %s: %w", ErrFeatureFailed, feature, fnErr)
}
