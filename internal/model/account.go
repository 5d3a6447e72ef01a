// Package model defines domain entities for the application.
package model

import (
	"slices"
	"time"
)

// Plan constants.
const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// ValidPlans contains all plans a key can be issued for.
var ValidPlans = []string{PlanStarter, PlanProfessional, PlanEnterprise}

// PlanQuotas maps plan names to their monthly call quota.
var PlanQuotas = map[string]int64{
	PlanStarter:      1000,
	PlanProfessional: 10000,
	PlanEnterprise:   100000,
}

// QuotaFor returns the monthly call quota for a plan.
// Unknown plans get the starter quota.
func QuotaFor(plan string) int64 {
	if quota, ok := PlanQuotas[plan]; ok {
		return quota
	}
	return PlanQuotas[PlanStarter]
}

// IsValidPlan reports whether plan is one of ValidPlans.
func IsValidPlan(plan string) bool {
	return slices.Contains(ValidPlans, plan)
}

// Account is the metadata stored for an issued API key.
// Accounts are immutable once stored.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Plan      string    `json:"plan"`
	RateLimit int64     `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
}

// Quota returns the call quota enforced for this account.
// The rate limit captured at issuance wins; records without one
// fall back to the plan table.
func (a *Account) Quota() int64 {
	if a.RateLimit > 0 {
		return a.RateLimit
	}
	return QuotaFor(a.Plan)
}

// CreateKeyRequest is the body of POST /api/auth/create-key.
type CreateKeyRequest struct {
	Email string `json:"email"`
	Plan  string `json:"plan,omitempty"`
}

// CreateKeyResponse includes the plaintext key (shown only once).
type CreateKeyResponse struct {
	APIKey    string    `json:"api_key"`
	Plan      string    `json:"plan"`
	RateLimit int64     `json:"rate_limit"`
	CreatedAt time.Time `json:"created_at"`
}

// VerifyResponse is returned by GET /api/auth/verify.
type VerifyResponse struct {
	Valid          bool   `json:"valid"`
	Plan           string `json:"plan"`
	RateLimit      int64  `json:"rate_limit"`
	UsageThisMonth int64  `json:"usage_this_month"`
	Email          string `json:"email"`
}
