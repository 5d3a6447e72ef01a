package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncAdmission is a no-op.
func (n *NoopRecorder) IncAdmission(outcome string) {}

// ObserveAdmissionDuration is a no-op.
func (n *NoopRecorder) ObserveAdmissionDuration(duration time.Duration) {}

// IncKeyIssued is a no-op.
func (n *NoopRecorder) IncKeyIssued(plan string) {}

// IncIssueRateLimited is a no-op.
func (n *NoopRecorder) IncIssueRateLimited() {}

// AddUsageReset is a no-op.
func (n *NoopRecorder) AddUsageReset(period string, records int64) {}

// IncConversion is a no-op.
func (n *NoopRecorder) IncConversion(kind, status string) {}
