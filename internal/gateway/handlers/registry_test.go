package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

func testSession(perms ...tenant.Permission) *tenant.Session {
	set := make(map[tenant.Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return tenant.NewSession(tenant.Context{
		TenantID:       "t1",
		UserID:         "u1",
		Role:           tenant.RoleUser,
		Permissions:    set,
		ResourceLimits: tenant.DefaultResourceLimits(),
	})
}

func TestRegistryInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	session := testSession()

	_, err := r.Invoke(context.Background(), session, "nope", json.RawMessage(`{}`))
	herr, ok := err.(*HandlerError)
	if !ok || herr.Code != ErrCodeNotFound {
		t.Fatalf("Invoke() error = %v, want not-found HandlerError", err)
	}
}

func TestRegistryInvokeDeniesWithoutPermission(t *testing.T) {
	r := NewRegistry()
	store := backend.NewInMemory()
	RegisterKV(r, store)

	session := testSession() // no permissions
	_, err := r.Invoke(context.Background(), session, "kv_get", json.RawMessage(`{"key":"a"}`))
	herr, ok := err.(*HandlerError)
	if !ok || herr.Code != ErrCodePermissionDenied {
		t.Fatalf("Invoke() error = %v, want permission-denied HandlerError", err)
	}
}

func TestRegistryListToolsFiltersByPermission(t *testing.T) {
	r := NewRegistry()
	store := backend.NewInMemory()
	RegisterKV(r, store)

	session := testSession(tenant.PermReadKV)
	tools := r.ListTools(session)

	names := map[string]bool{}
	for _, td := range tools {
		names[td.Name] = true
	}
	if !names["kv_get"] {
		t.Error("expected kv_get to be visible with read-kv permission")
	}
	if names["kv_set"] {
		t.Error("expected kv_set to be hidden without write-kv permission")
	}
}

func TestRegistryListToolsAdminSeesAll(t *testing.T) {
	r := NewRegistry()
	store := backend.NewInMemory()
	RegisterKV(r, store)

	admin := tenant.NewSession(tenant.Context{
		TenantID: "t1", UserID: "u1", Role: tenant.RoleAdmin, ResourceLimits: tenant.DefaultResourceLimits(),
	})
	tools := r.ListTools(admin)
	if len(tools) != 4 {
		t.Fatalf("expected admin to see all 4 kv tools, got %d", len(tools))
	}
}

func TestKVRoundTrip(t *testing.T) {
	r := NewRegistry()
	store := backend.NewInMemory()
	RegisterKV(r, store)

	session := testSession(tenant.PermReadKV, tenant.PermWriteKV)

	_, err := r.Invoke(context.Background(), session, "kv_set", json.RawMessage(`{"key":"a","value":"hello"}`))
	if err != nil {
		t.Fatalf("kv_set error = %v", err)
	}

	result, err := r.Invoke(context.Background(), session, "kv_get", json.RawMessage(`{"key":"a"}`))
	if err != nil {
		t.Fatalf("kv_get error = %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["found"] != true || m["value"] != "hello" {
		t.Fatalf("kv_get result = %#v", result)
	}
}

func TestEventCostCapsAtBatchCeiling(t *testing.T) {
	events := make([]json.RawMessage, batchCeiling+10)
	for i := range events {
		events[i] = json.RawMessage(`{}`)
	}
	arguments, _ := json.Marshal(map[string]any{"events": events})

	if got := eventCost(arguments); got != float64(batchCeiling) {
		t.Fatalf("eventCost() = %v, want %v", got, batchCeiling)
	}
}
