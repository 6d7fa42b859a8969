// Package schedule implements the retry/backoff policy shared by external
// collaborators (spec §5, §7): how many times to retry a transient failure
// and how long to wait between attempts. Adapted from the teacher's
// internal/schedule/retry.go; the teacher's FailureCategory/RetryPolicy
// pair maps directly onto carrottypes.ErrorKind/the per-row retry budget
// spec §4.2 describes, so the same exponential-backoff shape carries over
// with CARROT's error kinds substituted for the teacher's failure
// categories. The teacher's SLA/schedule-deadline helpers
// (internal/schedule/{sla,sla_check}.go) have no CARROT analogue — CARROT
// runs are triggered by API calls and GitHub events, not cron schedules —
// and are not carried over.
package schedule

import (
	"math"
	"time"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

const maxBackoffSeconds = 300

// RetryPolicy configures how many times, and with what spacing, a transient
// external-call failure is retried before being treated as exhausted.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffSeconds    int
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns the default policy: 3 attempts, exponential
// backoff starting at 2 seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BackoffSeconds: 2, BackoffMultiplier: 2.0}
}

// CalculateBackoff returns the wait duration before the given attempt
// number (1-indexed), using exponential backoff capped at
// maxBackoffSeconds.
func CalculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	if attempt <= 1 {
		return time.Duration(policy.BackoffSeconds) * time.Second
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	backoff := float64(policy.BackoffSeconds) * math.Pow(multiplier, float64(attempt-1))
	if backoff > maxBackoffSeconds {
		backoff = maxBackoffSeconds
	}
	return time.Duration(backoff) * time.Second
}

// IsRetryable reports whether an error kind is retried. CARROT retries
// exactly carrottypes.ErrExternalTransient (spec §7's classification,
// carried on carrottypes.Error.IsRetryable); the function takes no policy,
// so every call site gets the same answer for the same kind.
func IsRetryable(kind carrottypes.ErrorKind) bool {
	return kind == carrottypes.ErrExternalTransient
}
