package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/banglalekha/backend/internal/services"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader  = "X-Signature"
	maxSignedBodyLen = 1_048_576
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature rejects requests whose body does not carry a valid
// X-Signature. The body is restored for the next handler.
func VerifySignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				log.Error().Msg("webhook secret not configured, rejecting callback")
				services.SendErrorResponse(w, "Webhook not configured", http.StatusServiceUnavailable, nil)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBodyLen+1))
			if err != nil || len(body) > maxSignedBodyLen {
				services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
				return
			}

			given, err := hex.DecodeString(strings.TrimPrefix(r.Header.Get(SignatureHeader), "sha256="))
			expected, _ := hex.DecodeString(Sign(secret, body))
			if err != nil || !hmac.Equal(given, expected) {
				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("callback signature mismatch")
				services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
