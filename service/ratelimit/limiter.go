package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// extraInterval is added on top of the nominal per-request interval so the
// effective rate stays safely below the provider's advertised limit.
const extraInterval = 15 * time.Millisecond

// Limiter serializes outbound API calls for the whole process. It wraps a
// token bucket with burst 1, so admissions are spaced by the full interval
// and served in arrival order. The interval only ever ratchets tighter:
// callers may register a stricter rate, never a looser one.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiter  *rate.Limiter

	// onWait, when set, observes how long each admission blocked.
	onWait func(d time.Duration)
}

// New creates a limiter with no interval registered yet. Until a caller
// registers a rate, Wait admits immediately.
func New() *Limiter {
	return &Limiter{
		// Burst(1) ensures requests are spread evenly across the second,
		// preventing bursty traffic that can trigger provider rate limiting
		// even when the average rate is within limits.
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

var (
	defaultLimiter     *Limiter
	defaultLimiterOnce sync.Once
)

// Default returns the process-wide limiter shared by every API client.
func Default() *Limiter {
	defaultLimiterOnce.Do(func() {
		defaultLimiter = New()
	})
	return defaultLimiter
}

// EnsureRPS registers a requests-per-second budget. The resulting minimum
// interval between admissions is ceil(1000/rps) plus a fixed safety margin.
func (l *Limiter) EnsureRPS(rps int) {
	if rps <= 0 {
		return
	}
	ms := (1000 + rps - 1) / rps
	l.EnsureInterval(time.Duration(ms)*time.Millisecond + extraInterval)
}

// EnsureInterval registers a minimum interval between admissions. The
// effective interval is the maximum ever registered on this limiter.
func (l *Limiter) EnsureInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if d <= l.interval {
		return
	}
	l.interval = d
	l.limiter.SetLimit(rate.Every(d))
}

// Interval returns the currently effective minimum interval.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// SetWaitObserver installs a callback that receives the blocked duration of
// every admission. Used to feed metrics.
func (l *Limiter) SetWaitObserver(f func(d time.Duration)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onWait = f
}

// Wait blocks until the limiter admits the caller or ctx is done. Waiters
// are admitted in arrival order.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	onWait := l.onWait
	l.mu.Unlock()
	if onWait != nil {
		onWait(time.Since(start))
	}
	return nil
}
