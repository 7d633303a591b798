package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// publicEndpoints lists paths that bypass authentication: health probes and
// the metrics scrape endpoint only.
var publicEndpoints = map[string]bool{} //nolint:gochecknoglobals

// RegisterPublicEndpoint marks a path as reachable without an API key. Only
// call this during route setup, and only for health and metrics endpoints.
func RegisterPublicEndpoint(path string) {
	publicEndpoints[path] = true
}

type (
	// KeyVerifier checks an API key and returns the caller it belongs to.
	// Implemented by api.KeyStore; verification must be constant-time with
	// respect to the key material.
	KeyVerifier interface {
		Verify(ctx context.Context, key string) (caller string, ok bool)
	}

	callerKey struct{}
)

// Authentication errors.
var (
	// ErrMissingAPIKey is returned when no API key accompanies the request.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidAPIKey covers malformed and unknown keys. One generic error
	// prevents key enumeration.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// GetCaller returns the authenticated caller name, or "" when the request
// was not authenticated.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(callerKey{}).(string); ok {
		return caller
	}

	return ""
}

// APIKeyAuth validates the X-Api-Key header (or Authorization: Bearer) and
// stores the caller name in the request context. Public endpoints pass
// through untouched.
func APIKeyAuth(verifier KeyVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			key, found := extractAPIKey(r)
			if !found {
				writeAuthFailure(w, r, logger, ErrMissingAPIKey, correlationID)

				return
			}

			authStart := time.Now()

			caller, ok := verifier.Verify(r.Context(), key)
			if !ok {
				writeAuthFailure(w, r, logger, ErrInvalidAPIKey, correlationID)

				return
			}

			logger.Debug("api key authenticated",
				slog.String("caller", caller),
				slog.Duration("auth_latency", time.Since(authStart)),
				slog.String("correlation_id", correlationID),
			)

			ctx := context.WithValue(r.Context(), callerKey{}, caller)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractAPIKey reads the key from X-Api-Key, falling back to a Bearer
// token. Keys with newlines are rejected outright.
func extractAPIKey(r *http.Request) (string, bool) {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return cleanKey(key)
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return cleanKey(strings.TrimPrefix(auth, "Bearer "))
	}

	return "", false
}

func cleanKey(key string) (string, bool) {
	if strings.ContainsAny(key, "\r\n") {
		return "", false
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}

	return key, true
}

func writeAuthFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, authErr error, correlationID string) {
	logger.Warn("authentication failed",
		slog.String("reason", authErr.Error()),
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("correlation_id", correlationID),
	)

	if err := writeProblem(w, r, http.StatusUnauthorized, authErr.Error(), correlationID); err != nil {
		http.Error(w, authErr.Error(), http.StatusUnauthorized)
	}
}
