// Package ratelimiter implements the per-client token bucket limiter from
// spec.md §4.4: capacity set by the configured burst size, refill at the
// configured requests-per-minute rate, scaled up by the highest
// "rate_multiplier_<x>" permission the caller holds. Grounded on the
// teacher's golang.org/x/time/rate usage in
// infrastructure/middleware/ratelimit.go, generalized with the permission
// multiplier the teacher's generic middleware does not need.
package ratelimiter

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-client token bucket rate limiter, scoped to the
// lifetime of a single gateway process.
type Limiter struct {
	mu             sync.Mutex
	buckets        map[string]*entry
	requestsPerMin float64
	burst          int
}

type entry struct {
	limiter    *rate.Limiter
	multiplier float64
	lastSeen   time.Time
}

// New builds a Limiter with the given base requests-per-minute rate and
// burst capacity.
func New(requestsPerMinute int, burst int) *Limiter {
	return &Limiter{
		buckets:        make(map[string]*entry),
		requestsPerMin: float64(requestsPerMinute),
		burst:          burst,
	}
}

// Allow reports whether a request from client (an IP address or an
// authenticated subject identifier) may proceed, given the permission set
// attached to the caller's security context. The highest
// "rate_multiplier_<x>" permission present scales the effective rate and
// burst; callers with no such permission get the base rate.
func (l *Limiter) Allow(client string, permissions map[string]struct{}) bool {
	mult := highestMultiplier(permissions)

	l.mu.Lock()
	e, ok := l.buckets[client]
	if !ok || e.multiplier != mult {
		e = &entry{
			limiter:    rate.NewLimiter(rate.Limit(l.requestsPerMin*mult/60.0), maxInt(1, int(float64(l.burst)*mult))),
			multiplier: mult,
		}
		l.buckets[client] = e
	}
	e.lastSeen = time.Now()
	limiter := e.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// Cleanup removes buckets that have not been touched since before cutoff,
// bounding memory growth from clients that never return.
func (l *Limiter) Cleanup(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// StartCleanup runs Cleanup on interval against entries older than maxAge,
// until the returned stop function is called.
func (l *Limiter) StartCleanup(interval, maxAge time.Duration) (stop func()) {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup(time.Now().Add(-maxAge))
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

const multiplierPrefix = "rate_multiplier_"

// highestMultiplier parses every "rate_multiplier_<x>" permission in the
// set and returns the largest value found, or 1.0 if none are present or
// none parse.
func highestMultiplier(permissions map[string]struct{}) float64 {
	best := 1.0
	for perm := range permissions {
		if !strings.HasPrefix(perm, multiplierPrefix) {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimPrefix(perm, multiplierPrefix), 64)
		if err != nil || value <= 0 {
			continue
		}
		if value > best {
			best = value
		}
	}
	return best
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
