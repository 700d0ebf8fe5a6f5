// Package auth verifies bearer tokens and puts the caller's user id on
// the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rebooked/order-service/internal/faults"
)

type ctxKey struct{}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKey{}).(string)
	return v, ok && v != ""
}

// WithUserID is used by tests and internal callers.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware rejects requests without a valid HMAC-signed bearer token.
func Middleware(secret string, denied func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				denied(w, faults.New(faults.KindUnauthorized, "missing bearer token"))
				return
			}
			sub, err := Verify(secret, raw)
			if err != nil {
				denied(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
		})
	}
}

// Verify parses and validates the token, returning its subject.
func Verify(secret, raw string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return "", faults.Wrap(faults.KindUnauthorized, "invalid token", err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", faults.New(faults.KindUnauthorized, "invalid claims")
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return "", faults.New(faults.KindUnauthorized, "token has no subject")
	}
	return sub, nil
}
