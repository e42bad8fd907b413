package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/banglalekha/backend/internal/ledger"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid callback", func(t *testing.T) {
		cb := PaymentCallback{
			PaymentID: "TR0011abc",
			Status:    PaymentStatusSuccess,
			AccountID: "user-1",
			PackageID: "popular",
			Amount:    2000,
			Currency:  "BDT",
			Method:    "bkash",
		}
		assert.NoError(t, vh.ValidateStruct(&cb))
	})

	t.Run("failed payment needs no amount", func(t *testing.T) {
		cb := PaymentCallback{
			PaymentID: "TR0011abc",
			Status:    PaymentStatusFailure,
			AccountID: "user-1",
			PackageID: "popular",
		}
		assert.NoError(t, vh.ValidateStruct(&cb))
	})

	t.Run("missing required fields", func(t *testing.T) {
		err := vh.ValidateStruct(&PaymentCallback{Status: PaymentStatusSuccess})
		require.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Len(t, validationErrors, 5) // PaymentID, AccountID, PackageID, Amount, Currency
	})

	t.Run("unknown status", func(t *testing.T) {
		err := vh.ValidateStruct(&PaymentCallback{
			PaymentID: "TR0011abc",
			Status:    "refunded",
			AccountID: "user-1",
			PackageID: "popular",
		})
		require.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		require.Len(t, validationErrors, 1)
		assert.Equal(t, "Status", validationErrors[0].Field())
		assert.Equal(t, "oneof", validationErrors[0].Tag())
	})

	t.Run("payment id too long", func(t *testing.T) {
		err := vh.ValidateStruct(&PaymentCallback{
			PaymentID: strings.Repeat("x", 129),
			Status:    PaymentStatusCancel,
			AccountID: "user-1",
			PackageID: "popular",
		})
		assert.Error(t, err)
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("struct validation errors become details", func(t *testing.T) {
		validationErr := NewValidationHelper().ValidateStruct(&PaymentCallback{Status: "bogus"})
		require.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "PaymentID")
		assert.Contains(t, response.Details, "Status")
		assert.Equal(t, "Field Validation Failed on 'oneof' tag", response.Details["Status"])
	})

	t.Run("ledger validation errors become details", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest,
			ledger.ValidationError{Field: "amount", Message: "must be non-zero"})

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, map[string]string{"amount": "must be non-zero"}, response.Details)
	})

	t.Run("other errors are not exposed", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, assert.AnError)

		var response ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Nil(t, response.Details)
		assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	})
}

func TestSendJSON(t *testing.T) {
	w := httptest.NewRecorder()
	SendJSON(w, http.StatusCreated, map[string]int64{"balance": 42})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"balance":42}`, w.Body.String())
}
