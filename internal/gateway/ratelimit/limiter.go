package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// bucketKey identifies one token bucket: a tenant crossed with an operation
// class. Buckets are created lazily on first charge.
type bucketKey struct {
	tenantID string
	class    OperationClass
}

// evictAfter is how long an idle bucket survives before the sweep removes
// it, per the bucket-eviction rule in the rate limiter's design.
const evictAfter = time.Hour

// Limiter is the multi-tenant, multi-class token-bucket limiter. It is safe
// for concurrent use; each tenant's buckets are independent of every other
// tenant's, satisfying the isolation invariant (charging (T1, C) never
// touches (T2, C)).
type Limiter struct {
	mu      sync.RWMutex
	buckets map[bucketKey]*bucket
	limits  func(tenantID string, class OperationClass) Limits

	stop chan struct{}
	once sync.Once
}

// LimitsFunc resolves the capacity/refillRate pair a given tenant and
// operation class should use; callers typically close over a tenant
// directory lookup with DefaultLimits() as the fallback when the tenant's
// resourceLimits don't override a class.
type LimitsFunc func(tenantID string, class OperationClass) Limits

// New constructs a Limiter. resolve supplies the per-tenant limits; pass
// nil to fall back to the built-in DefaultLimits profile uniformly.
func New(resolve LimitsFunc) *Limiter {
	if resolve == nil {
		defaults := DefaultLimits()
		resolve = func(_ string, class OperationClass) Limits {
			if lim, ok := defaults[class]; ok {
				return lim
			}
			return defaults[ClassGenericBackend]
		}
	}
	return &Limiter{
		buckets: make(map[bucketKey]*bucket),
		limits:  resolve,
		stop:    make(chan struct{}),
	}
}

// TryCharge performs the refill-then-debit token bucket check for
// (tenantID, class), lazily creating the bucket on first use.
func (l *Limiter) TryCharge(tenantID string, class OperationClass, cost float64) bool {
	now := time.Now()
	key := bucketKey{tenantID: tenantID, class: class}

	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()

	if !ok {
		limits := l.limits(tenantID, class)
		l.mu.Lock()
		if b, ok = l.buckets[key]; !ok {
			b = newBucket(limits, now)
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}

	return b.tryCharge(now, cost)
}

// StartSweep launches the periodic eviction goroutine, removing buckets
// idle for longer than evictAfter. It uses the same two-phase,
// deadlock-avoiding pattern as the tenant session sweep: snapshot keys
// under a read lock, classify lock-free, then reacquire the write lock only
// to delete.
func (l *Limiter) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweepExpired()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *Limiter) sweepExpired() {
	now := time.Now()

	l.mu.RLock()
	keys := make([]bucketKey, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	l.mu.RUnlock()

	var expired []bucketKey
	for _, k := range keys {
		l.mu.RLock()
		b := l.buckets[k]
		l.mu.RUnlock()
		if b == nil {
			continue
		}
		if b.idleSince(now) > evictAfter {
			expired = append(expired, k)
		}
	}

	if len(expired) == 0 {
		return
	}

	l.mu.Lock()
	for _, k := range expired {
		delete(l.buckets, k)
	}
	l.mu.Unlock()

	log.Debug().Int("count", len(expired)).Msg("evicted idle rate-limit buckets")
}
