package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		assert.True(t, b.Allow())
	}
	b.RecordFailure()
	assert.False(t, b.Allow())
}

func TestCircuitBreaker_AutoResetsAfterWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker(2, 30*time.Second).WithClock(func() time.Time { return now })

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(29 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Second)
	assert.True(t, b.Allow())
	assert.Zero(t, b.Failures())
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	b := NewCircuitBreaker(2, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	assert.True(t, b.Allow())
	assert.Zero(t, b.Failures())
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	b := NewCircuitBreaker(0, 0)
	assert.Equal(t, 5, b.threshold)
	assert.Equal(t, time.Minute, b.resetWindow)
}
