// Package ratelimit implements the multi-dimensional token-bucket limiter
// keyed by (tenant, operation class). It mirrors the refill-then-debit
// algorithm the teacher's internal/httpapi ratelimit package used for its
// per-client HTTP limiter, generalized here to a two-part key and to the
// operation-class default profile carried over from the original AWS-shaped
// rate limiter (see DESIGN.md).
package ratelimit

import (
	"sync"
	"time"
)

// OperationClass is the closed set of backend operation classes a tool call
// can be charged against. Proxy handlers never carry one; they account only
// against session concurrency.
type OperationClass string

const (
	ClassKVRead         OperationClass = "kv-read"
	ClassKVWrite        OperationClass = "kv-write"
	ClassKVQuery        OperationClass = "kv-query"
	ClassBlobGet        OperationClass = "blob-get"
	ClassBlobPut        OperationClass = "blob-put"
	ClassBlobList       OperationClass = "blob-list"
	ClassEventPut       OperationClass = "event-put"
	ClassSecretGet      OperationClass = "secret-get"
	ClassGenericBackend OperationClass = "generic-backend"
)

// Limits is the capacity/refillRate pair a tenant's resourceLimits carries
// per operation class.
type Limits struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// DefaultLimits returns the built-in per-operation-class profile, carried
// over from the original AWS-service-shaped rate limiter
// (AwsServiceLimits in original_source/mcp-rust/src/rate_limiting.rs): each
// backend operation class gets a plausible default capacity and refill rate
// so a tenant whose resourceLimits don't override a class still gets a
// sensible ceiling rather than unlimited access.
func DefaultLimits() map[OperationClass]Limits {
	return map[OperationClass]Limits{
		ClassKVRead:         {Capacity: 200, RefillRate: 50},
		ClassKVWrite:        {Capacity: 100, RefillRate: 20},
		ClassKVQuery:        {Capacity: 50, RefillRate: 10},
		ClassBlobGet:        {Capacity: 100, RefillRate: 20},
		ClassBlobPut:        {Capacity: 50, RefillRate: 10},
		ClassBlobList:       {Capacity: 50, RefillRate: 10},
		ClassEventPut:       {Capacity: 500, RefillRate: 100},
		ClassSecretGet:      {Capacity: 30, RefillRate: 5},
		ClassGenericBackend: {Capacity: 100, RefillRate: 20},
	}
}

// bucket is a single token bucket. lastRefill is read under the limiter's
// per-key lock, never concurrently, so it needs no atomic treatment of its
// own.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(limits Limits, now time.Time) *bucket {
	return &bucket{
		tokens:     limits.Capacity,
		capacity:   limits.Capacity,
		refillRate: limits.RefillRate,
		lastRefill: now,
	}
}

// tryCharge refills the bucket to `now`, then debits cost if sufficient
// tokens are present. It never goes negative and never debits on denial.
func (b *bucket) tryCharge(now time.Time, cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.refillRate)
		b.lastRefill = now
	}

	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

func (b *bucket) idleSince(now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.lastRefill)
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
