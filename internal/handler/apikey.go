package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/epochapi/epochapi/internal/auth"
	"github.com/epochapi/epochapi/internal/middleware"
	"github.com/epochapi/epochapi/internal/model"
	"github.com/epochapi/epochapi/internal/service"
)

// APIKeyHandler handles key issuance and verification.
type APIKeyHandler struct {
	logger *slog.Logger
	issuer *service.KeyIssuer
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(logger *slog.Logger, issuer *service.KeyIssuer) *APIKeyHandler {
	return &APIKeyHandler{logger: logger, issuer: issuer}
}

// CreateKey issues a new API key. The plaintext key is returned once.
// POST /api/auth/create-key
func (h *APIKeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateKeyRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	issued, err := h.issuer.Issue(r.Context(), req.Email, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, CodeInvalidPlan, err.Error())
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, CodeInvalidInput, err.Error())
		default:
			h.logger.Error("failed to issue API key",
				slog.String("error", err.Error()),
				slog.String("request_id", middleware.GetRequestID(r.Context())),
			)
			writeError(w, http.StatusInternalServerError, middleware.CodeInternal, "Failed to create API key")
		}
		return
	}

	h.logger.Info("API key issued",
		slog.String("account_id", issued.Account.ID),
		slog.String("plan", issued.Account.Plan),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)

	writeJSON(w, http.StatusCreated, model.CreateKeyResponse{
		APIKey:    issued.Key,
		Plan:      issued.Account.Plan,
		RateLimit: issued.Account.RateLimit,
		CreatedAt: issued.Account.CreatedAt,
	})
}

// Verify reports the admitted key's account.
// GET /api/auth/verify
func (h *APIKeyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	adm := auth.MustAdmissionFromContext(r.Context())

	writeJSON(w, http.StatusOK, model.VerifyResponse{
		Valid:          true,
		Plan:           adm.Account.Plan,
		RateLimit:      adm.Account.Quota(),
		UsageThisMonth: adm.Usage.CallsThisMonth,
		Email:          adm.Account.Email,
	})
}
