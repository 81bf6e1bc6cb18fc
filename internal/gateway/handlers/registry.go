package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// Registry is the tool table: name to HandlerEntry. Grounded on the
// teacher's tools.Registry, including its registration-order bookkeeping
// so tools/list is stable across calls.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]HandlerEntry
	ordering []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]HandlerEntry)}
}

// Register adds a HandlerEntry. Registering the same name twice is a
// programming error, exactly as in the teacher's Register.
func (r *Registry) Register(entry HandlerEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if entry.Invoke == nil {
		return fmt.Errorf("handler %s: invoke function cannot be nil", entry.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[entry.Name]; exists {
		return fmt.Errorf("handler %s already registered", entry.Name)
	}

	r.entries[entry.Name] = entry
	r.ordering = append(r.ordering, entry.Name)
	return nil
}

// MustRegister registers a HandlerEntry or panics; used for init-time
// registration of the built-in tool catalogue.
func (r *Registry) MustRegister(entry HandlerEntry) {
	if err := r.Register(entry); err != nil {
		panic(err)
	}
}

// Get retrieves a HandlerEntry by name.
func (r *Registry) Get(name string) (HandlerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// ListTools returns descriptors for every tool the session is permitted to
// see: Admin sees all; everyone else sees only tools whose
// RequiredPermission (if any) they hold.
func (r *Registry) ListTools(session *tenant.Session) []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDescriptor, 0, len(r.ordering))
	for _, name := range r.ordering {
		e := r.entries[name]
		if e.HasPermission && !session.HasPermission(e.RequiredPermission) {
			continue
		}
		out = append(out, ToolDescriptor{
			Name:        e.Name,
			Description: e.Description,
			InputSchema: e.InputSchema,
		})
	}
	return out
}

// Invoke runs a tool by name, enforcing the permission check. Rate
// limiting happens in the router, which needs the HandlerEntry's
// OperationClass/Cost before calling Invoke; Get exposes that.
func (r *Registry) Invoke(ctx context.Context, session *tenant.Session, name string, arguments json.RawMessage) (interface{}, error) {
	entry, ok := r.Get(name)
	if !ok {
		return nil, NewHandlerError(ErrCodeNotFound, fmt.Sprintf("tool not found: %s", name), nil)
	}

	if entry.HasPermission && !session.HasPermission(entry.RequiredPermission) {
		return nil, NewHandlerError(ErrCodePermissionDenied,
			fmt.Sprintf("missing required permission: %s", entry.RequiredPermission), nil)
	}

	return entry.Invoke(ctx, session, arguments)
}
