package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/logging"
	mw "github.com/banglalekha/backend/internal/middleware"
	"github.com/banglalekha/backend/internal/models"
	"github.com/banglalekha/backend/internal/services"
)

const maxJSONBody = 1_048_576

// AccountLedger is the read side of the ledger engine used by the handlers.
type AccountLedger interface {
	OpenAccount(ctx context.Context, accountID string, welcomeGrant int64) (*models.Account, error)
	Account(ctx context.Context, accountID string) (*models.Account, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	History(ctx context.Context, accountID string, opts ledger.ListOptions) ([]models.LedgerEntry, error)
	UsageSummary(ctx context.Context, accountID string) ([]models.FeatureUsage, error)
}

// EnsureAccount opens a credit account the first time an authenticated user
// shows up.
func EnsureAccount(l AccountLedger, welcomeGrant int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID, ok := mw.AccountID(r.Context())
			if !ok {
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}

			_, err := l.Account(r.Context(), accountID)
			if errors.Is(err, ledger.ErrAccountNotFound) {
				_, err = l.OpenAccount(r.Context(), accountID, welcomeGrant)
			}
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func accountFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	accountID, ok := mw.AccountID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return accountID, true
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		services.SendErrorResponse(w, "Insufficient credits", http.StatusPaymentRequired, nil)
	case errors.Is(err, ledger.ErrAccountNotFound):
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrAccountInactive):
		services.SendErrorResponse(w, "Account is inactive", http.StatusForbidden, nil)
	case errors.Is(err, ledger.ErrIdempotencyConflict):
		services.SendErrorResponse(w, "Idempotency key already used for a different request", http.StatusConflict, nil)
	case errors.Is(err, services.ErrRequestRefunded):
		services.SendErrorResponse(w, "Request already failed and was refunded, retry with a new Idempotency-Key", http.StatusConflict, nil)
	case errors.Is(err, services.ErrPaymentMismatch):
		services.SendErrorResponse(w, "Payment does not match purchase", http.StatusConflict, nil)
	case errors.Is(err, catalog.ErrPackageNotFound):
		services.SendErrorResponse(w, "Package not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrPendingNotFound):
		services.SendErrorResponse(w, "Purchase not found", http.StatusNotFound, nil)
	case errors.Is(err, services.ErrUnknownFeature), errors.Is(err, services.ErrUnknownStatus):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrVersionConflict):
		services.SendErrorResponse(w, "Service temporarily unavailable", http.StatusServiceUnavailable, nil)
	default:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
