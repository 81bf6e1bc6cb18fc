package tenant

import (
	"errors"
	"testing"
	"time"
)

func TestValidateKnownTenant(t *testing.T) {
	d := New(false)
	d.Register(newTestContext("t1", "u1"))

	ctx, err := d.Validate("t1", "u1")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ctx.TenantID != "t1" {
		t.Errorf("TenantID = %q, want t1", ctx.TenantID)
	}
}

func TestValidateUserMismatch(t *testing.T) {
	d := New(false)
	d.Register(newTestContext("t1", "u1"))

	if _, err := d.Validate("t1", "someone-else"); !errors.Is(err, ErrUserMismatch) {
		t.Fatalf("Validate() error = %v, want ErrUserMismatch", err)
	}
}

func TestValidateUnknownTenantWithoutAutoRegister(t *testing.T) {
	d := New(false)
	if _, err := d.Validate("unknown", "u1"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("Validate() error = %v, want ErrTenantNotFound", err)
	}
}

func TestValidateUnknownTenantWithAutoRegister(t *testing.T) {
	d := New(true)
	ctx, err := d.Validate("fresh-tenant", "u1")
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if ctx.Role != RoleAdmin {
		t.Errorf("auto-registered tenant Role = %v, want Admin", ctx.Role)
	}

	// A second validate for the same tenant must now succeed without
	// re-registering under a different identity.
	again, err := d.Validate("fresh-tenant", "u1")
	if err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}
	if again.ContextID() != ctx.ContextID() {
		t.Errorf("expected stable contextId across validations")
	}
}

func TestGetOrCreateSessionReusesForSamePrincipal(t *testing.T) {
	d := New(false)
	ctx := newTestContext("t1", "u1")

	s1 := d.GetOrCreateSession(ctx)
	s2 := d.GetOrCreateSession(ctx)

	if s1.SessionID != s2.SessionID {
		t.Error("expected the same principal to reuse its session")
	}
}

func TestSweepExpiredRemovesIdleSessions(t *testing.T) {
	d := New(false)
	s := d.GetOrCreateSession(newTestContext("t1", "u1"))
	s.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())

	d.SweepExpired()

	if len(d.ListSessions()) != 0 {
		t.Fatalf("expected idle session to be evicted, found %d remaining", len(d.ListSessions()))
	}

	// A fresh GetOrCreateSession for the same principal must mint a new
	// session rather than resurrecting the evicted one.
	s2 := d.GetOrCreateSession(newTestContext("t1", "u1"))
	if s2.SessionID == s.SessionID {
		t.Error("expected a new session after eviction, got the same id")
	}
}

func TestSweepExpiredKeepsActiveSessions(t *testing.T) {
	d := New(false)
	s := d.GetOrCreateSession(newTestContext("t1", "u1"))
	s.Touch()

	d.SweepExpired()

	if len(d.ListSessions()) != 1 {
		t.Fatalf("expected active session to survive sweep, got %d sessions", len(d.ListSessions()))
	}
}

func TestSumActiveRequests(t *testing.T) {
	d := New(false)
	s1 := d.GetOrCreateSession(newTestContext("t1", "u1"))
	s2 := d.GetOrCreateSession(newTestContext("t2", "u2"))

	g1 := s1.BeginRequest()
	s2.BeginRequest()

	if got := d.SumActiveRequests(); got != 2 {
		t.Fatalf("SumActiveRequests() = %d, want 2", got)
	}

	g1.Release()
	if got := d.SumActiveRequests(); got != 1 {
		t.Fatalf("SumActiveRequests() = %d, want 1", got)
	}
}
