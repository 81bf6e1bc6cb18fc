package tenant

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTenantNotFound is returned by Validate when the (tenantId, userId)
// pair doesn't match a configured tenant and auto-register is disabled.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrUserMismatch is returned by Validate when the tenant exists but the
// supplied userId doesn't match its configured user.
var ErrUserMismatch = errors.New("tenant user mismatch")

// idleTimeout is the nominal session eviction threshold.
const idleTimeout = 30 * time.Minute

// ConfigSource resolves the durable policy record for a tenant, letting a
// deployment back the directory with something other than the in-memory
// map below (see internal/gateway/backend/pgtenant for a pgx-backed one).
type ConfigSource interface {
	Lookup(tenantID string) (Context, bool, error)
}

// staticSource is the default in-memory ConfigSource: a fixed map of
// tenantID to Context, populated at startup (and optionally seeded with a
// dev-mode demo tenant, see Register).
type staticSource struct {
	mu       sync.RWMutex
	contexts map[string]Context
}

func newStaticSource() *staticSource {
	return &staticSource{contexts: make(map[string]Context)}
}

func (s *staticSource) Lookup(tenantID string) (Context, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.contexts[tenantID]
	return ctx, ok, nil
}

func (s *staticSource) put(ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[ctx.TenantID] = ctx
}

// Directory is the tenant registry: it validates principals against
// configured policy, creates and retires sessions, and owns the sweep that
// evicts idle sessions. Deadlock avoidance in SweepExpired follows the
// mandated two-phase pattern: snapshot keys under a read lock, drop the
// lock, classify each session lock-free by reading its own LastActivity,
// then reacquire the table lock only to delete — never holding the table
// lock while reading a session's activity.
type Directory struct {
	mu       sync.RWMutex
	sessions map[string]*Session // keyed by sessionId

	byPrincipal sync.Map // "tenantId\x00userId" -> *Session, for session reuse across requests

	source     ConfigSource
	static     *staticSource
	autoRegister bool

	stop chan struct{}
	once sync.Once
}

// New constructs a Directory. autoRegister controls whether an unknown
// tenantId materializes an Admin-role context (step 4 of the request
// lifecycle) instead of failing with ErrTenantNotFound.
func New(autoRegister bool) *Directory {
	static := newStaticSource()
	return &Directory{
		sessions:     make(map[string]*Session),
		source:       static,
		static:       static,
		autoRegister: autoRegister,
		stop:         make(chan struct{}),
	}
}

// WithConfigSource swaps the durable policy lookup, e.g. to a pgtenant.Store.
func (d *Directory) WithConfigSource(src ConfigSource) {
	d.source = src
}

// Register seeds a tenant's policy directly, used for static bootstrap
// tenants and the dev-mode demo tenant.
func (d *Directory) Register(ctx Context) {
	d.static.put(ctx)
}

func principalKey(tenantID, userID string) string {
	return tenantID + "\x00" + userID
}

// Validate resolves a (tenantId, userId) pair to a Context, auto-registering
// an Admin-role context when the directory's autoRegister flag is set and
// the tenant isn't already configured.
func (d *Directory) Validate(tenantID, userID string) (Context, error) {
	ctx, ok, err := d.source.Lookup(tenantID)
	if err != nil {
		return Context{}, err
	}
	if ok {
		if ctx.UserID != userID {
			return Context{}, ErrUserMismatch
		}
		return ctx, nil
	}

	if !d.autoRegister {
		return Context{}, ErrTenantNotFound
	}

	ctx = Context{
		TenantID:       tenantID,
		UserID:         userID,
		ContextType:    ContextType{Kind: ContextPersonal},
		Role:           RoleAdmin,
		Permissions:    map[Permission]struct{}{PermAdmin: {}},
		ResourceLimits: DefaultResourceLimits(),
	}
	d.static.put(ctx)
	log.Info().Str("tenantId", tenantID).Str("userId", userID).Msg("auto-registered unknown tenant")
	return ctx, nil
}

// GetOrCreateSession returns the existing session for (tenantId, userId) if
// one is live, or creates a fresh one. Creating a new session per request
// is also a valid implementation of the lifecycle contract; this directory
// reuses sessions so that concurrency counters reflect in-flight work
// across a single client's requests.
func (d *Directory) GetOrCreateSession(ctx Context) *Session {
	key := principalKey(ctx.TenantID, ctx.UserID)

	if v, ok := d.byPrincipal.Load(key); ok {
		return v.(*Session)
	}

	s := NewSession(ctx)

	d.mu.Lock()
	d.sessions[s.SessionID] = s
	d.mu.Unlock()

	actual, loaded := d.byPrincipal.LoadOrStore(key, s)
	if loaded {
		d.mu.Lock()
		delete(d.sessions, s.SessionID)
		d.mu.Unlock()
		return actual.(*Session)
	}
	return s
}

// ListSessions returns a snapshot of all live sessions.
func (d *Directory) ListSessions() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	return out
}

// SumActiveRequests sums ActiveRequests across every live session, used by
// the stdio loop's drain protocol.
func (d *Directory) SumActiveRequests() int64 {
	var total int64
	for _, s := range d.ListSessions() {
		total += s.ActiveRequests()
	}
	return total
}

// SweepExpired removes sessions whose LastActivity exceeds idleTimeout.
func (d *Directory) SweepExpired() {
	now := time.Now()

	d.mu.RLock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	var expired []string
	for _, id := range ids {
		d.mu.RLock()
		s := d.sessions[id]
		d.mu.RUnlock()
		if s == nil {
			continue
		}
		if now.Sub(s.LastActivity()) > idleTimeout {
			expired = append(expired, id)
		}
	}

	if len(expired) == 0 {
		return
	}

	d.mu.Lock()
	removed := make([]*Session, 0, len(expired))
	for _, id := range expired {
		if s, ok := d.sessions[id]; ok {
			removed = append(removed, s)
			delete(d.sessions, id)
		}
	}
	d.mu.Unlock()

	for _, s := range removed {
		d.byPrincipal.Delete(principalKey(s.Context.TenantID, s.Context.UserID))
	}

	log.Debug().Int("count", len(expired)).Msg("evicted idle tenant sessions")
}

// StartSweep launches the periodic eviction goroutine.
func (d *Directory) StartSweep(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.SweepExpired()
			case <-d.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine. Safe to call multiple times.
func (d *Directory) Stop() {
	d.once.Do(func() { close(d.stop) })
}
