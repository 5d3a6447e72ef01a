package auth

import (
	"context"

	"github.com/epochapi/epochapi/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// admissionContextKey is the context key for storing the gate Admission.
	admissionContextKey contextKey = "admission"
)

// ContextWithAdmission adds an Admission to the context.
func ContextWithAdmission(ctx context.Context, adm *model.Admission) context.Context {
	return context.WithValue(ctx, admissionContextKey, adm)
}

// AdmissionFromContext retrieves the Admission from the context.
// Returns nil if not present.
func AdmissionFromContext(ctx context.Context) *model.Admission {
	adm, ok := ctx.Value(admissionContextKey).(*model.Admission)
	if !ok {
		return nil
	}
	return adm
}

// MustAdmissionFromContext retrieves the Admission from the context.
// Panics if not present (use only behind the auth middleware).
func MustAdmissionFromContext(ctx context.Context) *model.Admission {
	adm := AdmissionFromContext(ctx)
	if adm == nil {
		panic("admission not found - ensure auth middleware is applied")
	}
	return adm
}

// AccountIDFromContext returns the admitted account ID, or "" if unauthenticated.
func AccountIDFromContext(ctx context.Context) string {
	adm := AdmissionFromContext(ctx)
	if adm == nil || adm.Account == nil {
		return ""
	}
	return adm.Account.ID
}
