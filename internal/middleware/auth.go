package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/gate"
)

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Gate   *gate.Gate
}

// Auth returns a middleware that admits requests through the gate.
// Every admitted request is counted against the key's monthly quota
// before the handler runs, and the Admission is stored in the context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			adm, err := cfg.Gate.Admit(r.Context(), extractAPIKey(r))
			if err != nil {
				handleAuthError(cfg.Logger, w, r, err)
				return
			}

			quota := adm.Account.Quota()
			setRateLimitHeaders(w, quota, adm.Usage.Remaining(quota))

			cfg.Logger.Debug("request admitted",
				slog.String("account_id", adm.Account.ID),
				slog.String("key_digest", auth.ShortDigest(adm.Digest)),
				slog.String("plan", adm.Account.Plan),
				slog.Int64("calls_this_month", adm.Usage.CallsThisMonth),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAdmission(r.Context(), adm)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func handleAuthError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	attrs := []any{
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	}

	var quotaErr *gate.QuotaExceededError
	switch {
	case errors.Is(err, gate.ErrMissingCredential):
		logger.Warn("authentication failed", append(attrs, slog.String("reason", "missing_key"))...)
		WriteError(w, http.StatusUnauthorized, CodeMissingCredential,
			"API key required. Send it in the X-API-Key header.")

	case errors.Is(err, gate.ErrInvalidCredential):
		logger.Warn("authentication failed", append(attrs, slog.String("reason", "invalid_key"))...)
		WriteError(w, http.StatusUnauthorized, CodeInvalidCredential, "Invalid API key")

	case errors.As(err, &quotaErr):
		logger.Warn("quota exceeded", append(attrs, slog.Int64("limit", quotaErr.Limit))...)
		setRateLimitHeaders(w, quotaErr.Limit, 0)
		limit := quotaErr.Limit
		writeErrorBody(w, http.StatusTooManyRequests, ErrorBody{
			Code:    CodeQuotaExceeded,
			Message: "Rate limit exceeded: " + quotaErr.Error(),
			Limit:   &limit,
		})

	default:
		logger.Error("admission failed", append(attrs, slog.String("error", err.Error()))...)
		WriteError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
// An empty bearer token falls through to X-API-Key.
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		if key := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")); key != "" {
			return key
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// setRateLimitHeaders reports the monthly quota position.
func setRateLimitHeaders(w http.ResponseWriter, limit, remaining int64) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
}
