package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banglalekha/backend/internal/audit"
	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/metrics"
	"github.com/banglalekha/backend/internal/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrPaymentMismatch = errors.New("payment callback does not match pending purchase")
	ErrUnknownStatus   = errors.New("unknown payment status")
)

// Payment statuses reported by the provider callback.
const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailure = "failure"
	PaymentStatusCancel  = "cancel"
)

// Purchase states exposed to the buyer.
const (
	PurchaseStateCompleted = "completed"
	PurchaseStatePending   = "pending"
	PurchaseStateFailed    = "failed"
)

// CreditLedger is the subset of the ledger engine the adapters depend on.
type CreditLedger interface {
	Apply(ctx context.Context, req ledger.ApplyRequest) (*ledger.Result, error)
	Account(ctx context.Context, accountID string) (*models.Account, error)
	EntryByKey(ctx context.Context, key string) (*models.LedgerEntry, error)
}

// RetryConfig bounds retries of idempotent ledger writes.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 30 * time.Second
	}
	return c
}

// applyWithRetry retries only while the ledger reports itself unavailable.
// Callers must pass an idempotent request.
func applyWithRetry(ctx context.Context, l CreditLedger, req ledger.ApplyRequest, cfg RetryConfig, logger zerolog.Logger) (*ledger.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	return backoff.Retry(ctx, func() (*ledger.Result, error) {
		res, err := l.Apply(ctx, req)
		if err != nil && !errors.Is(err, ledger.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).
				Str("idempotency_key", req.IdempotencyKey).
				Dur("retry_in", next).
				Msg("ledger unavailable, retrying apply")
		}),
	)
}

// PaymentConfig configures checkout creation and callback handling.
type PaymentConfig struct {
	CallbackURL string
	PendingTTL  time.Duration
	Retry       RetryConfig
}

// PaymentService turns confirmed provider payments into purchase entries.
type PaymentService struct {
	ledger  CreditLedger
	catalog catalog.Catalog
	pending PendingStore
	gateway PaymentGateway
	audit   *audit.AuditLogger
	config  PaymentConfig
	logger  zerolog.Logger
	now     func() time.Time
}

func NewPaymentService(l CreditLedger, c catalog.Catalog, pending PendingStore, gateway PaymentGateway, cfg PaymentConfig) *PaymentService {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}
	cfg.Retry = cfg.Retry.withDefaults()
	return &PaymentService{
		ledger:  l,
		catalog: c,
		pending: pending,
		gateway: gateway,
		audit:   audit.NewAuditLogger(),
		config:  cfg,
		logger:  log.With().Str("component", "payments").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PurchaseSession is returned to the buyer when a checkout is started.
type PurchaseSession struct {
	PaymentID   string               `json:"payment_id"`
	CheckoutURL string               `json:"checkout_url"`
	QRCode      string               `json:"qr_code,omitempty"`
	ExpiresAt   time.Time            `json:"expires_at"`
	Package     models.CreditPackage `json:"package"`
}

// StartPurchase opens a checkout session with the provider and records it as
// pending until the callback arrives.
func (s *PaymentService) StartPurchase(ctx context.Context, accountID, packageID string) (*PurchaseSession, error) {
	pkg, err := s.catalog.Package(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Account(ctx, accountID); err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		PayerReference: accountID,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		CallbackURL:    s.config.CallbackURL,
		InvoiceNumber:  "INV-" + ulid.Make().String(),
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	pending := &models.PendingPurchase{
		PaymentID:           session.PaymentID,
		AccountID:           accountID,
		PackageID:           pkg.ID,
		Credits:             pkg.TotalCredits(),
		Price:               pkg.Price,
		Currency:            pkg.Currency,
		PaymentSessionToken: session.Token,
		Status:              models.PendingStatusPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.PendingTTL),
	}
	if err := s.pending.Save(ctx, pending); err != nil {
		return nil, fmt.Errorf("save pending purchase: %w", err)
	}

	qr, err := RenderCheckoutQR(session.CheckoutURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("payment_id", session.PaymentID).Msg("failed to render checkout QR code")
	}

	metrics.PurchasesStartedTotal.WithLabelValues(pkg.ID).Inc()
	s.audit.LogOperation(accountID, "PURCHASE_STARTED", map[string]string{
		"payment_id": session.PaymentID,
		"package_id": pkg.ID,
	})

	return &PurchaseSession{
		PaymentID:   session.PaymentID,
		CheckoutURL: session.CheckoutURL,
		QRCode:      qr,
		ExpiresAt:   pending.ExpiresAt,
		Package:     *pkg,
	}, nil
}

// DefaultPaymentMethod is assumed when a callback does not name its method.
const DefaultPaymentMethod = "bkash"

// PaymentCallback is the provider's notification about a payment. Amount and
// currency are what the provider actually collected.
type PaymentCallback struct {
	PaymentID     string `json:"payment_id" validate:"required,max=128"`
	Status        string `json:"status" validate:"required,oneof=success failure cancel"`
	AccountID     string `json:"account_id" validate:"required,max=128"`
	PackageID     string `json:"package_id" validate:"required,max=64"`
	Amount        int64  `json:"amount" validate:"required_if=Status success,gte=0"`
	Currency      string `json:"currency" validate:"required_if=Status success,max=3"`
	Method        string `json:"method,omitempty" validate:"max=32"`
	TransactionID string `json:"trx_id,omitempty" validate:"max=128"`
}

func (cb PaymentCallback) method() string {
	if cb.Method == "" {
		return DefaultPaymentMethod
	}
	return strings.ToLower(cb.Method)
}

// ReconcileResult describes what a callback did to the ledger.
type ReconcileResult struct {
	PaymentID    string `json:"payment_id"`
	Status       string `json:"status"`
	Credits      int64  `json:"credits,omitempty"`
	BalanceAfter int64  `json:"balance_after,omitempty"`
	Replayed     bool   `json:"replayed,omitempty"`
}

// purchaseTerms is what the buyer was quoted: credits granted for a price.
type purchaseTerms struct {
	credits  int64
	price    int64
	currency string
}

// Reconcile applies a provider callback. Only successful payments touch the
// ledger; they are applied as a purchase keyed by the payment id, so repeated
// callbacks credit the account once. The grant comes from the pending record
// snapshot taken at checkout, or from the catalog for callbacks that arrive
// after the pending record is gone.
func (s *PaymentService) Reconcile(ctx context.Context, cb PaymentCallback) (*ReconcileResult, error) {
	logger := s.logger.With().Str("payment_id", cb.PaymentID).Str("account_id", cb.AccountID).Logger()

	switch cb.Status {
	case PaymentStatusSuccess:
	case PaymentStatusFailure, PaymentStatusCancel:
		logger.Info().Str("status", cb.Status).Msg("payment not completed, no credits applied")
		metrics.ReconciliationsTotal.WithLabelValues("ignored").Inc()
		s.audit.LogOperation(cb.AccountID, "PURCHASE_ABANDONED", s.callbackDetails(cb, nil))
		return &ReconcileResult{PaymentID: cb.PaymentID, Status: cb.Status}, nil
	default:
		metrics.ReconciliationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, cb.Status)
	}

	pending, err := s.pending.Get(ctx, cb.PaymentID)
	switch {
	case err == nil:
		if pending.AccountID != cb.AccountID || pending.PackageID != cb.PackageID {
			metrics.ReconciliationsTotal.WithLabelValues("rejected").Inc()
			return nil, ErrPaymentMismatch
		}
	case errors.Is(err, ErrPendingNotFound):
		// Expired or already consumed; the ledger key still guards against double credit.
		pending = nil
	default:
		logger.Warn().Err(err).Msg("pending purchase lookup failed")
		pending = nil
	}

	if pending == nil {
		res, err := s.replayCommitted(ctx, cb)
		if err != nil || res != nil {
			return res, err
		}
	}

	terms, err := s.termsFor(ctx, cb, pending)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, catalog.ErrPackageNotFound) {
			s.markFailed(ctx, logger, pending, "package not found")
			logger.Error().Str("package_id", cb.PackageID).Msg("paid for unknown package, manual review required")
		}
		return nil, err
	}

	if cb.Amount != terms.price || !strings.EqualFold(cb.Currency, terms.currency) {
		metrics.ReconciliationsTotal.WithLabelValues("rejected").Inc()
		s.markFailed(ctx, logger, pending, "payment does not match purchase")
		details := s.callbackDetails(cb, nil)
		details["expected_amount"] = strconv.FormatInt(terms.price, 10)
		details["expected_currency"] = terms.currency
		s.audit.LogOperation(cb.AccountID, "PURCHASE_MISMATCH", details)
		logger.Error().
			Int64("amount", cb.Amount).Str("currency", cb.Currency).
			Int64("expected_amount", terms.price).Str("expected_currency", terms.currency).
			Msg("paid amount does not match purchase, manual review required")
		return nil, fmt.Errorf("%w: paid %d %s, expected %d %s",
			ErrPaymentMismatch, cb.Amount, cb.Currency, terms.price, terms.currency)
	}

	res, err := applyWithRetry(ctx, s.ledger, ledger.ApplyRequest{
		AccountID:      cb.AccountID,
		Amount:         terms.credits,
		Kind:           models.KindPurchase,
		ExternalRef:    cb.PaymentID,
		IdempotencyKey: cb.PaymentID,
	}, s.config.Retry, logger)
	if err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Msg("failed to apply purchase")
		return nil, err
	}

	if err := s.pending.Delete(ctx, cb.PaymentID); err != nil {
		logger.Warn().Err(err).Msg("failed to clear pending purchase")
	}

	outcome := "applied"
	if res.Replayed {
		outcome = "replayed"
	}
	metrics.ReconciliationsTotal.WithLabelValues(outcome).Inc()
	s.audit.LogOperation(cb.AccountID, "PURCHASE_RECONCILED", s.callbackDetails(cb, res))
	logger.Info().
		Int64("credits", terms.credits).
		Int64("balance_after", res.BalanceAfter).
		Str("method", cb.method()).
		Bool("replayed", res.Replayed).
		Msg("payment reconciled")

	return &ReconcileResult{
		PaymentID:    cb.PaymentID,
		Status:       PurchaseStateCompleted,
		Credits:      creditedAmount(res, terms.credits),
		BalanceAfter: res.BalanceAfter,
		Replayed:     res.Replayed,
	}, nil
}

// replayCommitted answers a redelivered callback from the ledger entry it
// already produced, so later catalog changes cannot turn it into a conflict.
// It returns nil, nil when the payment has not been credited yet.
func (s *PaymentService) replayCommitted(ctx context.Context, cb PaymentCallback) (*ReconcileResult, error) {
	entry, err := s.ledger.EntryByKey(ctx, cb.PaymentID)
	if err != nil {
		// Not found, or unknown: the apply below settles it either way.
		return nil, nil
	}
	if entry.AccountID != cb.AccountID || entry.Kind != models.KindPurchase {
		metrics.ReconciliationsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrPaymentMismatch
	}

	res := &ledger.Result{BalanceAfter: entry.BalanceAfter, Entry: entry, Replayed: true}
	metrics.ReconciliationsTotal.WithLabelValues("replayed").Inc()
	s.audit.LogOperation(cb.AccountID, "PURCHASE_RECONCILED", s.callbackDetails(cb, res))
	return &ReconcileResult{
		PaymentID:    cb.PaymentID,
		Status:       PurchaseStateCompleted,
		Credits:      entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Replayed:     true,
	}, nil
}

func creditedAmount(res *ledger.Result, fallback int64) int64 {
	if res.Entry != nil {
		return res.Entry.Amount
	}
	return fallback
}

func (s *PaymentService) termsFor(ctx context.Context, cb PaymentCallback, pending *models.PendingPurchase) (purchaseTerms, error) {
	if pending != nil && pending.Credits > 0 {
		currency := pending.Currency
		if currency == "" {
			currency = catalog.DefaultCurrency
		}
		return purchaseTerms{credits: pending.Credits, price: pending.Price, currency: currency}, nil
	}

	pkg, err := s.catalog.Package(ctx, cb.PackageID)
	if errors.Is(err, catalog.ErrPackageNotFound) {
		return purchaseTerms{}, err
	}
	if err != nil {
		return purchaseTerms{}, fmt.Errorf("%w: package lookup: %w", ledger.ErrUnavailable, err)
	}
	return purchaseTerms{credits: pkg.TotalCredits(), price: pkg.Price, currency: pkg.Currency}, nil
}

func (s *PaymentService) markFailed(ctx context.Context, logger zerolog.Logger, pending *models.PendingPurchase, reason string) {
	if pending == nil {
		return
	}
	if err := s.pending.MarkFailed(ctx, pending.PaymentID, reason); err != nil {
		logger.Error().Err(err).Msg("failed to mark pending purchase as failed")
	}
}

func (s *PaymentService) callbackDetails(cb PaymentCallback, res *ledger.Result) map[string]string {
	details := map[string]string{
		"payment_id": cb.PaymentID,
		"package_id": cb.PackageID,
		"method":     cb.method(),
		"amount":     strconv.FormatInt(cb.Amount, 10),
		"currency":   cb.Currency,
	}
	if cb.TransactionID != "" {
		details["trx_id"] = cb.TransactionID
	}
	if res != nil && res.Entry != nil {
		details["credits"] = strconv.FormatInt(res.Entry.Amount, 10)
		details["replayed"] = strconv.FormatBool(res.Replayed)
	}
	return details
}

// PurchaseStatus reports where a purchase stands for the buying account.
type PurchaseStatus struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	Credits       int64  `json:"credits,omitempty"`
	BalanceAfter  int64  `json:"balance_after,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// PurchaseStatus looks up a payment in the ledger first and falls back to the
// pending record.
func (s *PaymentService) PurchaseStatus(ctx context.Context, accountID, paymentID string) (*PurchaseStatus, error) {
	entry, err := s.ledger.EntryByKey(ctx, paymentID)
	switch {
	case err == nil:
		if entry.AccountID != accountID || entry.Kind != models.KindPurchase {
			return nil, ErrPendingNotFound
		}
		return &PurchaseStatus{
			PaymentID:    paymentID,
			Status:       PurchaseStateCompleted,
			Credits:      entry.Amount,
			BalanceAfter: entry.BalanceAfter,
		}, nil
	case !errors.Is(err, ledger.ErrEntryNotFound):
		return nil, err
	}

	pending, err := s.pending.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if pending.AccountID != accountID {
		return nil, ErrPendingNotFound
	}

	status := PurchaseStatePending
	if pending.Status == models.PendingStatusFailed {
		status = PurchaseStateFailed
	}
	return &PurchaseStatus{
		PaymentID:     paymentID,
		Status:        status,
		Credits:       pending.Credits,
		FailureReason: pending.FailureReason,
	}, nil
}

// RunSweeper periodically removes expired pending purchases until ctx is done.
func (s *PaymentService) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := s.pending.Sweep(ctx, s.now())
			if err != nil {
				s.logger.Warn().Err(err).Msg("pending purchase sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.Info().Int("removed", removed).Msg("expired pending purchases removed")
			}
		}
	}
}
