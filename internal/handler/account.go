package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/gate"
	"github.com/epochapi/epochapi/internal/middleware"
	"github.com/epochapi/epochapi/internal/model"
)

// ResetCalendar reports when monthly usage is next reset.
type ResetCalendar interface {
	NextMonthlyReset(now time.Time) time.Time
}

// AccountHandler serves account usage reports.
type AccountHandler struct {
	logger   *slog.Logger
	gate     *gate.Gate
	calendar ResetCalendar
	now      func() time.Time
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(logger *slog.Logger, g *gate.Gate, calendar ResetCalendar) *AccountHandler {
	return &AccountHandler{
		logger:   logger,
		gate:     g,
		calendar: calendar,
		now:      time.Now,
	}
}

// Usage reports the admitted key's counters, including this request.
// GET /api/account/usage
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	adm := auth.MustAdmissionFromContext(r.Context())

	usage, err := h.gate.Usage(r.Context(), adm)
	if err != nil {
		h.logger.Error("failed to read usage",
			slog.String("account_id", adm.Account.ID),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		writeError(w, http.StatusInternalServerError, middleware.CodeInternal, "Failed to read usage")
		return
	}

	quota := adm.Account.Quota()
	writeJSON(w, http.StatusOK, model.UsageResponse{
		Plan:           adm.Account.Plan,
		RateLimit:      quota,
		UsageThisMonth: usage.CallsThisMonth,
		UsageToday:     usage.CallsToday,
		RemainingCalls: usage.Remaining(quota),
		ResetDate:      h.calendar.NextMonthlyReset(h.now()),
	})
}
