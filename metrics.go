package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID int

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLockedOut
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricLogout
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricTwoFactorLockedOut
	MetricRateLimitRejected
	MetricRateLimitFailOpen
	metricCount
)

var metricNames = map[MetricID]string{
	MetricLoginSuccess:       "login_success",
	MetricLoginFailure:       "login_failure",
	MetricLoginLockedOut:     "login_locked_out",
	MetricRefreshSuccess:     "refresh_success",
	MetricRefreshFailure:     "refresh_failure",
	MetricLogout:             "logout",
	MetricTwoFactorSuccess:   "two_factor_success",
	MetricTwoFactorFailure:   "two_factor_failure",
	MetricTwoFactorLockedOut: "two_factor_locked_out",
	MetricRateLimitRejected:  "rate_limit_rejected",
	MetricRateLimitFailOpen:  "rate_limit_fail_open",
}

// String returns the stable snapshot name for the metric.
func (id MetricID) String() string { return metricNames[id] }

// Metrics holds lock-free flow outcome counters.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics() *Metrics { return &Metrics{} }

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id < 0 || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies every counter. Safe to call concurrently with updates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{Counters: make(map[MetricID]uint64, metricCount)}
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
