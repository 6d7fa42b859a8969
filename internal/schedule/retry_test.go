package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/carrotsystems/carrot/pkg/carrottypes"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2, p.BackoffSeconds)
	assert.Equal(t, 2.0, p.BackoffMultiplier)
}

func TestCalculateBackoff_FirstAttemptIsBaseInterval(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BackoffSeconds: 10, BackoffMultiplier: 2.0}
	assert.Equal(t, 10*time.Second, CalculateBackoff(p, 1))
}

func TestCalculateBackoff_GrowsExponentially(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BackoffSeconds: 10, BackoffMultiplier: 2.0}
	assert.Equal(t, 20*time.Second, CalculateBackoff(p, 2))
	assert.Equal(t, 40*time.Second, CalculateBackoff(p, 3))
}

func TestCalculateBackoff_CapsAtMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 20, BackoffSeconds: 100, BackoffMultiplier: 3.0}
	assert.Equal(t, maxBackoffSeconds*time.Second, CalculateBackoff(p, 10))
}

func TestCalculateBackoff_DefaultsMultiplierWhenUnset(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BackoffSeconds: 10}
	assert.Equal(t, 20*time.Second, CalculateBackoff(p, 2))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(carrottypes.ErrExternalTransient))
	assert.False(t, IsRetryable(carrottypes.ErrExternalPermanent))
	assert.False(t, IsRetryable(carrottypes.ErrValidation))
	assert.False(t, IsRetryable(carrottypes.ErrCarrotInternal))
}
