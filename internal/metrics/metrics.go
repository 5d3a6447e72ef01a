// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Admission outcomes.
const (
	OutcomeAdmitted          = "admitted"
	OutcomeMissingCredential = "missing_credential"
	OutcomeInvalidCredential = "invalid_credential"
	OutcomeQuotaExceeded     = "quota_exceeded"
	OutcomeError             = "error"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Gate metrics
	IncAdmission(outcome string)
	ObserveAdmissionDuration(duration time.Duration)

	// Key issuance metrics
	IncKeyIssued(plan string)
	IncIssueRateLimited()

	// Usage reset metrics
	AddUsageReset(period string, records int64)

	// Conversion metrics
	IncConversion(kind, status string) // status: "ok" or "invalid"
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
