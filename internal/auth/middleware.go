package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"kiosk-fleet/internal/repo"
)

type claimsKey struct{}

type profileKey struct{}

// ClaimsFromContext returns the verified token claims, or nil on unauthenticated requests.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// ProfileFromContext returns the profile loaded by RequireRole, if any.
func ProfileFromContext(ctx context.Context) *repo.Profile {
	profile, _ := ctx.Value(profileKey{}).(*repo.Profile)
	return profile
}

// WithClaims stores claims on ctx. Tests use it to bypass token parsing.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// Middleware enforces a valid bearer token on every request it wraps.
func Middleware(issuer *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("access_token"))
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			claims, err := issuer.Parse(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole re-reads the caller's profile and rejects the request unless its stored role matches.
// A profile demoted after sign-in loses access immediately.
func RequireRole(profiles ProfileStore, role repo.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			profile, err := profiles.GetProfile(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "invalid_token")
					return
				}
				logger.Error("role lookup failed", "error", err, "profile_id", claims.UserID)
				writeError(w, http.StatusInternalServerError, "internal_error")
				return
			}
			if profile.Role != role {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := context.WithValue(r.Context(), profileKey{}, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
