package handlers

import (
	"errors"
	"net/http"

	"github.com/banglalekha/backend/internal/catalog"
	"github.com/banglalekha/backend/internal/ledger"
	"github.com/banglalekha/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type PurchaseHandler struct {
	payments  *services.PaymentService
	validator *services.ValidationHelper
}

func NewPurchaseHandler(payments *services.PaymentService) *PurchaseHandler {
	return &PurchaseHandler{
		payments:  payments,
		validator: services.NewValidationHelper(),
	}
}

type StartPurchaseRequest struct {
	PackageID string `json:"package_id" validate:"required,max=64"`
}

// StartPurchase opens a checkout session for a credit package
// @Summary Start credit purchase
// @Tags Purchases
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body StartPurchaseRequest true "Package to buy"
// @Success 201 {object} services.PurchaseSession
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /credits/purchases [post]
func (h *PurchaseHandler) StartPurchase(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	var req StartPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := h.payments.StartPurchase(r.Context(), accountID, req.PackageID)
	if err != nil {
		if isDomainError(err) {
			writeError(w, r, err)
			return
		}
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to start checkout")
		services.SendErrorResponse(w, "Payment provider unavailable", http.StatusBadGateway, nil)
		return
	}

	services.SendJSON(w, http.StatusCreated, session)
}

// PurchaseStatus reports whether a purchase completed
// @Summary Purchase status
// @Tags Purchases
// @Produce json
// @Security BearerAuth
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} services.PurchaseStatus
// @Failure 404 {object} services.ErrorResponse
// @Router /credits/purchases/{paymentId} [get]
func (h *PurchaseHandler) PurchaseStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountFromRequest(w, r)
	if !ok {
		return
	}

	status, err := h.payments.PurchaseStatus(r.Context(), accountID, chi.URLParam(r, "paymentId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	services.SendJSON(w, http.StatusOK, status)
}

// Callback receives payment notifications from the provider
// @Summary Payment provider callback
// @Tags Purchases
// @Accept json
// @Produce json
// @Param X-Signature header string true "HMAC-SHA256 of the body"
// @Param request body services.PaymentCallback true "Payment notification"
// @Success 200 {object} services.ReconcileResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse
// @Router /payments/callback [post]
func (h *PurchaseHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var cb services.PaymentCallback
	if !decodeJSON(w, r, &cb) {
		return
	}
	if err := h.validator.ValidateStruct(&cb); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.payments.Reconcile(r.Context(), cb)
	if err != nil {
		// The provider retries on 5xx only; fatal outcomes are acknowledged
		// with a 4xx and left for manual review.
		if errors.Is(err, catalog.ErrPackageNotFound) {
			services.SendErrorResponse(w, "Unknown package", http.StatusUnprocessableEntity, nil)
			return
		}
		writeError(w, r, err)
		return
	}

	services.SendJSON(w, http.StatusOK, result)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ledger.ErrInvalidInput, ledger.ErrAccountNotFound, ledger.ErrAccountInactive,
		ledger.ErrUnavailable, catalog.ErrPackageNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
