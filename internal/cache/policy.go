package cache

import (
	"time"

	"hemicycle/internal/models"
)

// DefaultCooldown is how long a failed ID waits before it may be queued again.
const DefaultCooldown = 10 * time.Second

// RetryPolicy decides when a failed entry becomes eligible for another fetch.
// It only looks at entry state and a timestamp, so it works the same under a
// real or a fake clock.
type RetryPolicy struct {
	Cooldown time.Duration
	// MaxAttempts caps fetches per ID; 0 means cooldown spacing is the only limit.
	MaxAttempts int
	// Backoff, when set, derives the cooldown from the number of attempts made.
	Backoff func(attempts int, base time.Duration) time.Duration
}

// DefaultRetryPolicy retries transient failures every DefaultCooldown, forever.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Cooldown: DefaultCooldown}
}

// CooldownFor returns the wait applied after the given number of attempts.
func (p RetryPolicy) CooldownFor(attempts int) time.Duration {
	if p.Backoff != nil {
		return p.Backoff(attempts, p.Cooldown)
	}
	return p.Cooldown
}

// Eligible reports whether e may be queued at now. Only failed entries are
// ever refused here; not-found failures are terminal for the process.
func (p RetryPolicy) Eligible(e models.CacheEntry, now time.Time) bool {
	if e.State != models.StateFailed {
		return true
	}
	if e.Failure == models.FailureNotFound {
		return false
	}
	if p.MaxAttempts > 0 && e.Attempts >= p.MaxAttempts {
		return false
	}
	return now.Sub(e.LastAttemptAt) >= p.CooldownFor(e.Attempts)
}

// ExponentialBackoff doubles the base cooldown per attempt after the first,
// capped at limit.
func ExponentialBackoff(limit time.Duration) func(int, time.Duration) time.Duration {
	return func(attempts int, base time.Duration) time.Duration {
		d := base
		for i := 1; i < attempts; i++ {
			d *= 2
			if d >= limit {
				return limit
			}
		}
		return d
	}
}
