package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bher20/meterbill/internal/storage"
	"github.com/rs/zerolog/log"
)

type contextKey string

const TokenContextKey contextKey = "token"

// WithToken returns a copy of ctx carrying the authenticated token.
func WithToken(ctx context.Context, t *storage.Token) context.Context {
	return context.WithValue(ctx, TokenContextKey, t)
}

// TokenFromContext returns the token stored by Middleware.
func TokenFromContext(ctx context.Context) (*storage.Token, bool) {
	t, ok := ctx.Value(TokenContextKey).(*storage.Token)
	return t, ok && t != nil
}

// Middleware requires a valid "Bearer" access token on every request.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication credentials were not provided.")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization header")
			return
		}

		token, err := s.ValidateAccess(r.Context(), parts[1])
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) {
				log.Error().Err(err).Msg("token validation failed")
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithToken(r.Context(), token)))
	})
}

// RequirePermission checks the caller's role against obj. Safe methods need
// "read", everything else needs "write".
func (s *Service) RequirePermission(obj string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := TokenFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
				return
			}

			act := "write"
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				act = "read"
			}

			allowed, err := s.Enforce(token.Role, obj, act)
			if err != nil {
				log.Error().Err(err).Str("obj", obj).Msg("policy check failed")
				writeError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
				return
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden", "You do not have permission to perform this action.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}
