// Package middleware provides HTTP middleware for the layerpack API.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderToken carries the API token. "Authorization: Bearer <token>" is
// accepted as well.
const HeaderToken = "X-Layerpack-Token"

// =============================================================================
// Token Middleware
// =============================================================================

// TokenConfig holds configuration for the token middleware.
type TokenConfig struct {
	// Token is the shared secret callers must present. If empty, every
	// request is allowed.
	Token string

	// Logger for rejected requests.
	Logger *slog.Logger
}

// RequireToken rejects requests that do not present the configured token.
func RequireToken(cfg TokenConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if cfg.Token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(presentedToken(r)), []byte(cfg.Token)) != 1 {
				cfg.Logger.Warn("rejected request with invalid token",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid or missing API token", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedToken(r *http.Request) string {
	if t := r.Header.Get(HeaderToken); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// =============================================================================
// JSON Error Response
// =============================================================================

// errorResponse mirrors api.ErrorResponse.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}
