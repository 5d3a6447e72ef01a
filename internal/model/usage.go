package model

import "time"

// Period identifies a usage accounting period.
type Period string

// Accounting periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// UsageSnapshot is a point-in-time copy of a key's usage counters.
// The zero value is the snapshot of a key that has never been admitted.
type UsageSnapshot struct {
	CallsToday     int64     `json:"calls_today"`
	CallsThisMonth int64     `json:"calls_this_month"`
	LastCallAt     time.Time `json:"last_call_at"`
}

// Remaining returns the calls left under quota, never negative.
func (u UsageSnapshot) Remaining(quota int64) int64 {
	return max(0, quota-u.CallsThisMonth)
}

// Admission is the outcome of a successful gate check.
// It is injected into the request context by the auth middleware.
type Admission struct {
	// Key is the credential as presented. Never log it.
	Key string
	// Digest is the keyed hash the stores index the key by.
	Digest  string
	Account *Account
	Usage   UsageSnapshot
}

// UsageResponse is returned by GET /api/account/usage.
type UsageResponse struct {
	Plan           string    `json:"plan"`
	RateLimit      int64     `json:"rate_limit"`
	UsageThisMonth int64     `json:"usage_this_month"`
	UsageToday     int64     `json:"usage_today"`
	RemainingCalls int64     `json:"remaining_calls"`
	ResetDate      time.Time `json:"reset_date"`
}
