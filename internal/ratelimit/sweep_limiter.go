package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/isabella232/smartstart-sub000/internal/config"
)

const (
	keySweepRegistry = "sweep:registry"
	keySweepRunLock  = "sweep:run:lock"
)

// SweepLimiter throttles the sweep's registry calls across the fleet
// and guards against overlapping sweep runs. A nil limiter (no redis
// configured) is fully permissive; single-instance deployments and
// tests run unthrottled.
type SweepLimiter struct {
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewSweepLimiter(cfg config.Config, client *redis.Client) *SweepLimiter {
	if client == nil || cfg.Sweep.RatePerSecond <= 0 {
		return nil
	}
	return &SweepLimiter{
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    float64(cfg.Sweep.RatePerSecond),
		burst:   cfg.Sweep.RatePerSecond,
		lockTTL: cfg.Sweep.Interval,
	}
}

// Wait blocks until a registry-call token is available or ctx is done.
func (l *SweepLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		res, err := l.bucket.Allow(ctx, keySweepRegistry, l.rate, l.burst)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}
		delay := res.RetryAfter
		if delay <= 0 {
			delay = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// TryLockRun claims the fleet-wide sweep-run lock. The second return is
// false when another run still holds it.
func (l *SweepLimiter) TryLockRun(ctx context.Context) (string, bool, error) {
	if l == nil {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keySweepRunLock, l.lockTTL)
}

func (l *SweepLimiter) ReleaseRun(ctx context.Context, token string) error {
	if l == nil {
		return nil
	}
	return l.locker.Release(ctx, keySweepRunLock, token)
}
