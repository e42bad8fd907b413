package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/banglalekha/backend/internal/services"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const accountIDKey ctxKey = "accountID"

// AccountID returns the authenticated account id set by Auth.
func AccountID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

// WithAccountID stores an authenticated account id on ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

// Auth validates HS256 bearer tokens issued by the identity provider and puts
// the subject on the request context as the account id.
func Auth(secret, issuer string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Get token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				services.SendErrorResponse(w, "Authorization header required", http.StatusUnauthorized, nil)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				services.SendErrorResponse(w, "Invalid authorization header format", http.StatusUnauthorized, nil)
				return
			}

			accountID, err := validateToken(parts[1], secret, issuer)
			if err != nil {
				services.SendErrorResponse(w, "Invalid token", http.StatusUnauthorized, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
		})
	}
}

func validateToken(tokenString, secret, issuer string) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if userID, ok := claims["user_id"]; ok && userID != nil {
		return fmt.Sprintf("%v", userID), nil
	}
	return "", errors.New("token has no subject")
}
