package tenant

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is one live principal's running state: a snapshot of its Context
// plus atomically-updated activity counters. RequestCount and
// ActiveRequests are mutated exclusively through atomic read-modify-write,
// never under a mutex, because the RequestGuard release path must never
// acquire a lock or spawn a goroutine to do its bookkeeping.
type Session struct {
	SessionID string
	Context   Context
	CreatedAt time.Time

	lastActivity   atomic.Int64 // unix nanoseconds
	requestCount   atomic.Int64
	activeRequests atomic.Int64
}

// NewSession creates a fresh session snapshotting ctx. Grounded on the
// teacher's session manager minting a uuid.New().String() session
// identifier at creation time.
func NewSession(ctx Context) *Session {
	now := time.Now()
	s := &Session{
		SessionID: uuid.New().String(),
		Context:   ctx,
		CreatedAt: now,
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// LastActivity returns the last time this session handled a request.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Touch updates lastActivity to now.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// RequestCount returns the lifetime request counter.
func (s *Session) RequestCount() int64 {
	return s.requestCount.Load()
}

// ActiveRequests returns the current in-flight request count.
func (s *Session) ActiveRequests() int64 {
	return s.activeRequests.Load()
}

// HasPermission delegates to the snapshotted Context.
func (s *Session) HasPermission(p Permission) bool {
	return s.Context.HasPermission(p)
}

// BeginRequest increments both counters and returns a RequestGuard whose
// Release must run on every exit path of the dispatch that follows,
// exactly once.
func (s *Session) BeginRequest() *RequestGuard {
	s.requestCount.Add(1)
	s.activeRequests.Add(1)
	s.Touch()
	return &RequestGuard{session: s}
}

// RequestGuard is held for the duration of one dispatched request. Its
// sole invariant is that Release decrements the owning session's
// activeRequests exactly once, on every exit path — normal return, early
// error, or a recovered panic. It intentionally does no work in a
// goroutine: the original source's Drop impl spawned a task to do this
// decrement asynchronously, which is exactly the hazard this type exists
// to avoid. Release is synchronous and idempotent.
type RequestGuard struct {
	session  *Session
	released atomic.Bool
}

// Release performs the saturating decrement of activeRequests. Safe to
// call more than once; only the first call has effect.
func (g *RequestGuard) Release() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	for {
		cur := g.session.activeRequests.Load()
		if cur <= 0 {
			g.session.activeRequests.Store(0)
			return
		}
		if g.session.activeRequests.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
