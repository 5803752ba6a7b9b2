// Package limits rate-limits inbound hook traffic per user using a token
// bucket, so one misbehaving daemon cannot starve the fan-out path for
// everyone else.
package limits

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// UserRateLimiterConfig holds the per-user bucket parameters.
type UserRateLimiterConfig struct {
	// Burst is the bucket size: how many hooks a user may send at once.
	Burst int
	// Rate is the sustained hooks/sec refill rate per user.
	Rate float64
	// TTL controls cleanup of buckets for users that went quiet.
	TTL time.Duration
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// UserRateLimiter keeps one token bucket per user external ID. Idle buckets
// are reaped on a background ticker so abandoned users do not accumulate.
type UserRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	cfg      UserRateLimiterConfig
	logger   zerolog.Logger
}

// NewUserRateLimiter constructs the limiter and starts its cleanup loop.
func NewUserRateLimiter(ctx context.Context, cfg UserRateLimiterConfig, logger zerolog.Logger) *UserRateLimiter {
	l := &UserRateLimiter{
		limiters: make(map[string]*limiterEntry),
		cfg:      cfg,
		logger:   logger,
	}
	go l.cleanupLoop(ctx)
	return l
}

// Allow reports whether the user may submit one more hook right now.
func (l *UserRateLimiter) Allow(userExternalID string) bool {
	l.mu.Lock()
	entry, ok := l.limiters[userExternalID]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.Rate), l.cfg.Burst),
		}
		l.limiters[userExternalID] = entry
	}
	entry.lastAccess = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

func (l *UserRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.TTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reapIdle()
		}
	}
}

func (l *UserRateLimiter) reapIdle() {
	cutoff := time.Now().Add(-l.cfg.TTL)

	l.mu.Lock()
	reaped := 0
	for userExternalID, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, userExternalID)
			reaped++
		}
	}
	remaining := len(l.limiters)
	l.mu.Unlock()

	if reaped > 0 {
		l.logger.Debug().
			Int("reaped", reaped).
			Int("remaining", remaining).
			Msg("Reaped idle rate limiter buckets")
	}
}
