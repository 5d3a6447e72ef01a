package metrics

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	Admissions               map[string]uint64
	AdmissionDurationCount   uint64
	AdmissionDurationTotalNs int64
	KeysIssued               map[string]uint64
	IssueRateLimited         uint64
	UsageResets              map[string]int64
	Conversions              map[string]uint64 // keyed "kind/status"
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	mu          sync.Mutex
	admissions  map[string]uint64
	keysIssued  map[string]uint64
	usageResets map[string]int64
	conversions map[string]uint64

	admissionDurationCount   uint64
	admissionDurationTotalNs int64
	issueRateLimited         uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{
		admissions:  make(map[string]uint64),
		keysIssued:  make(map[string]uint64),
		usageResets: make(map[string]int64),
		conversions: make(map[string]uint64),
	}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Admissions:               maps.Clone(m.admissions),
		AdmissionDurationCount:   atomic.LoadUint64(&m.admissionDurationCount),
		AdmissionDurationTotalNs: atomic.LoadInt64(&m.admissionDurationTotalNs),
		KeysIssued:               maps.Clone(m.keysIssued),
		IssueRateLimited:         atomic.LoadUint64(&m.issueRateLimited),
		UsageResets:              maps.Clone(m.usageResets),
		Conversions:              maps.Clone(m.conversions),
	}
}

// IncAdmission increments the admission counter for outcome.
func (m *InMemoryRecorder) IncAdmission(outcome string) {
	m.mu.Lock()
	m.admissions[outcome]++
	m.mu.Unlock()
}

// ObserveAdmissionDuration records gate latency.
func (m *InMemoryRecorder) ObserveAdmissionDuration(duration time.Duration) {
	atomic.AddUint64(&m.admissionDurationCount, 1)
	atomic.AddInt64(&m.admissionDurationTotalNs, duration.Nanoseconds())
}

// IncKeyIssued increments the issued key counter for plan.
func (m *InMemoryRecorder) IncKeyIssued(plan string) {
	m.mu.Lock()
	m.keysIssued[plan]++
	m.mu.Unlock()
}

// IncIssueRateLimited increments the throttled issuance counter.
func (m *InMemoryRecorder) IncIssueRateLimited() {
	atomic.AddUint64(&m.issueRateLimited, 1)
}

// AddUsageReset adds records to the reset counter for period.
func (m *InMemoryRecorder) AddUsageReset(period string, records int64) {
	m.mu.Lock()
	m.usageResets[period] += records
	m.mu.Unlock()
}

// IncConversion increments the conversion counter for kind and status.
func (m *InMemoryRecorder) IncConversion(kind, status string) {
	m.mu.Lock()
	m.conversions[kind+"/"+status]++
	m.mu.Unlock()
}
