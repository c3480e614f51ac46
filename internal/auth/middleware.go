package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	claimsContextKey contextKey = "access_claims"
	tokenContextKey  contextKey = "access_token"
)

// Middleware validates the bearer access token and stores its claims in the
// request context. Requests without a valid token are rejected before any
// handler runs.
func Middleware(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeUnauthorized(w)
				return
			}

			tokenString := strings.TrimPrefix(header, "Bearer ")
			claims, err := tm.ValidateAccessToken(tokenString)
			if err != nil {
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, tokenContextKey, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaimsFromContext returns the validated access claims, or nil when the
// request did not pass through Middleware.
func GetClaimsFromContext(r *http.Request) *AccessClaims {
	claims, _ := r.Context().Value(claimsContextKey).(*AccessClaims)
	return claims
}

// GetAccountIDFromContext returns the authenticated account id, or uuid.Nil.
func GetAccountIDFromContext(r *http.Request) uuid.UUID {
	claims := GetClaimsFromContext(r)
	if claims == nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"Authentication required"}`))
}
