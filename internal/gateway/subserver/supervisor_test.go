package subserver

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeChild struct {
	calls []string
	alive bool
}

func (f *fakeChild) Call(method string, params any) (json.RawMessage, *json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if method == "tools/call" {
		return json.RawMessage(`{"ok":true}`), nil, nil
	}
	return json.RawMessage(`{}`), nil, nil
}

func (f *fakeChild) Alive() bool { return f.alive }
func (f *fakeChild) Close() error { return nil }

func connectedEntry(s *Supervisor, contextID, serverID string, tools []ToolDescriptor) *Entry {
	e := s.Register(contextID, Config{ID: serverID})
	e.mu.Lock()
	e.status = Status{Kind: StatusConnected}
	e.handle = &fakeChild{alive: true}
	e.tools = tools
	e.mu.Unlock()
	return e
}

func TestResolveServerIDDottedName(t *testing.T) {
	s := New(nil)
	connectedEntry(s, "ctx1", "srvA", []ToolDescriptor{{Name: "foo"}})
	connectedEntry(s, "ctx1", "srvB", []ToolDescriptor{{Name: "foo"}})

	serverID, bare, err := s.resolveServerID("ctx1", "srvB.foo")
	if err != nil {
		t.Fatalf("resolveServerID() error = %v", err)
	}
	if serverID != "srvB" || bare != "foo" {
		t.Fatalf("resolveServerID() = (%q, %q), want (srvB, foo)", serverID, bare)
	}
}

func TestResolveServerIDBareNameMatchesOwningServer(t *testing.T) {
	s := New(nil)
	connectedEntry(s, "ctx1", "srvA", []ToolDescriptor{{Name: "alpha"}})
	connectedEntry(s, "ctx1", "srvB", []ToolDescriptor{{Name: "beta"}})

	// Regression test for the original source's bug: a bare tool name
	// must resolve to the sub-server that actually advertises it, not
	// unconditionally the first-registered sub-server.
	serverID, bare, err := s.resolveServerID("ctx1", "beta")
	if err != nil {
		t.Fatalf("resolveServerID() error = %v", err)
	}
	if serverID != "srvB" || bare != "beta" {
		t.Fatalf("resolveServerID() = (%q, %q), want (srvB, beta)", serverID, bare)
	}
}

func TestResolveServerIDUnknownBareName(t *testing.T) {
	s := New(nil)
	connectedEntry(s, "ctx1", "srvA", []ToolDescriptor{{Name: "alpha"}})

	if _, _, err := s.resolveServerID("ctx1", "nope"); !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("resolveServerID() error = %v, want ErrToolNotFound", err)
	}
}

func TestExecuteToolRequiresConnected(t *testing.T) {
	s := New(nil)
	e := s.Register("ctx1", Config{ID: "srvA"})
	e.mu.Lock()
	e.tools = []ToolDescriptor{{Name: "alpha"}}
	e.mu.Unlock()

	if _, err := s.ExecuteTool("ctx1", "alpha", json.RawMessage(`{}`)); !errors.Is(err, ErrServerNotConnected) {
		t.Fatalf("ExecuteTool() error = %v, want ErrServerNotConnected", err)
	}
}

func TestExecuteToolForwardsCall(t *testing.T) {
	s := New(nil)
	connectedEntry(s, "ctx1", "srvA", []ToolDescriptor{{Name: "alpha"}})

	result, err := s.ExecuteTool("ctx1", "alpha", json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("ExecuteTool() error = %v", err)
	}
	if string(result) != `{"ok":true}` {
		t.Fatalf("ExecuteTool() result = %s", result)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := New(nil)
	s.Register("ctx1", Config{ID: "srvA"})

	if err := s.Disconnect("ctx1", "srvA"); err != nil {
		t.Fatalf("Disconnect() on a never-connected entry error = %v", err)
	}
	if err := s.Disconnect("ctx1", "srvA"); err != nil {
		t.Fatalf("second Disconnect() error = %v", err)
	}
}
