package limits

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(t *testing.T, burst int, perSec float64) *UserRateLimiter {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewUserRateLimiter(ctx, UserRateLimiterConfig{
		Burst: burst,
		Rate:  perSec,
		TTL:   time.Minute,
	}, zerolog.Nop())
}

func TestAllowWithinBurst(t *testing.T) {
	limiter := newTestLimiter(t, 3, 0.001)

	assert.True(t, limiter.Allow("user-a"))
	assert.True(t, limiter.Allow("user-a"))
	assert.True(t, limiter.Allow("user-a"))
	assert.False(t, limiter.Allow("user-a"))
}

func TestUsersHaveIndependentBuckets(t *testing.T) {
	limiter := newTestLimiter(t, 1, 0.001)

	assert.True(t, limiter.Allow("user-a"))
	assert.False(t, limiter.Allow("user-a"))

	// Another user's bucket is untouched.
	assert.True(t, limiter.Allow("user-b"))
}

func TestReapIdleDropsQuietUsers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	limiter := NewUserRateLimiter(ctx, UserRateLimiterConfig{
		Burst: 1,
		Rate:  1,
		TTL:   10 * time.Millisecond,
	}, zerolog.Nop())

	limiter.Allow("user-a")
	time.Sleep(30 * time.Millisecond)
	limiter.reapIdle()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.Empty(t, limiter.limiters)
}
