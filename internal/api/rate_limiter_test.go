package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_BurstThenLimit(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("bridge-1"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("bridge-1"), "request beyond burst must be limited")
}

func TestRateLimiter_ClientsIsolated(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)

	assert.True(t, rl.Allow("bridge-1"))
	assert.False(t, rl.Allow("bridge-1"))
	assert.True(t, rl.Allow("bridge-2"), "a throttled client must not affect others")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(rate.Limit(1), 1)

	rl.Allow("bridge-1")
	rl.Allow("bridge-2")
	assert.Equal(t, 2, rl.Len())

	time.Sleep(20 * time.Millisecond)
	rl.Cleanup(10 * time.Millisecond)
	assert.Zero(t, rl.Len())

	rl.Allow("bridge-1")
	rl.Cleanup(time.Hour)
	assert.Equal(t, 1, rl.Len(), "recent clients survive cleanup")
}
