package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/handlers"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

func newTestRouter() *Router {
	dir := tenant.New(true) // auto-register so bare tenantId/userId pairs just work
	limiter := ratelimit.New(nil)
	registry := handlers.NewRegistry()
	handlers.RegisterKV(registry, backend.NewInMemory())

	return &Router{
		Directory: dir,
		Limiter:   limiter,
		Handlers:  registry,
	}
}

func call(t *testing.T, r *Router, line string) *struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
} {
	t.Helper()
	resp := r.HandleLine(context.Background(), []byte(line))
	if resp == nil {
		return nil
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  json.RawMessage `json:"result"`
		Error   *struct {
			Code    int             `json:"code"`
			Message string          `json:"message"`
			Data    json.RawMessage `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &decoded
}

func TestHandleLineInitializeHandshake(t *testing.T) {
	r := newTestRouter()

	resp := call(t, r, `{"jsonrpc":"2.0","id":1,"method":"initialize","tenantId":"t1","userId":"u1"}`)
	if resp == nil {
		t.Fatal("HandleLine() = nil, want a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, ProtocolVersion)
	}
	if result.ServerInfo.Name != ServerName {
		t.Errorf("serverInfo.name = %q, want %q", result.ServerInfo.Name, ServerName)
	}
}

func TestHandleLineNotificationProducesNoResponse(t *testing.T) {
	r := newTestRouter()

	resp := r.HandleLine(context.Background(), []byte(
		`{"jsonrpc":"2.0","method":"notifications/initialized","tenantId":"t1","userId":"u1"}`))
	if resp != nil {
		t.Fatalf("HandleLine() for a notification = %+v, want nil", resp)
	}
}

func TestHandleLineExplicitNullIDIsANotification(t *testing.T) {
	r := newTestRouter()

	resp := r.HandleLine(context.Background(), []byte(
		`{"jsonrpc":"2.0","id":null,"method":"tools/list","tenantId":"t1","userId":"u1"}`))
	if resp != nil {
		t.Fatalf("HandleLine() for an explicit null id = %+v, want nil", resp)
	}
}

func TestHandleLineMalformedRecordReturnsNullIDInvalidRequest(t *testing.T) {
	r := newTestRouter()

	resp := call(t, r, `{not valid json`)
	if resp == nil {
		t.Fatal("HandleLine() = nil, want an error response")
	}
	if resp.Error == nil {
		t.Fatal("expected an error response for malformed JSON")
	}
	if resp.Error.Code != -32600 {
		t.Errorf("error code = %d, want -32600", resp.Error.Code)
	}
	if string(resp.ID) != "null" {
		t.Errorf("id = %s, want null", resp.ID)
	}
}

func TestHandleLineUnknownMethodReturnsMethodNotFound(t *testing.T) {
	r := newTestRouter()

	resp := call(t, r, `{"jsonrpc":"2.0","id":7,"method":"bogus/method","tenantId":"t1","userId":"u1"}`)
	if resp == nil || resp.Error == nil {
		t.Fatal("expected a method-not-found error response")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("error code = %d, want -32601", resp.Error.Code)
	}
}

func TestHandleLineBoundaryIDZeroIsNotANotification(t *testing.T) {
	r := newTestRouter()

	resp := call(t, r, `{"jsonrpc":"2.0","id":0,"method":"tools/list","tenantId":"t1","userId":"u1"}`)
	if resp == nil {
		t.Fatal("id:0 request must still produce a response")
	}
	if string(resp.ID) != "0" {
		t.Errorf("id = %s, want 0", resp.ID)
	}
}

func TestHandleLineBoundaryIDEmptyStringIsNotANotification(t *testing.T) {
	r := newTestRouter()

	resp := call(t, r, `{"jsonrpc":"2.0","id":"","method":"tools/list","tenantId":"t1","userId":"u1"}`)
	if resp == nil {
		t.Fatal(`id:"" request must still produce a response`)
	}
	if string(resp.ID) != `""` {
		t.Errorf("id = %s, want an empty JSON string", resp.ID)
	}
}

func TestHandleLineToolsCallInvokesKVHandler(t *testing.T) {
	r := newTestRouter()

	setResp := call(t, r,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","tenantId":"t1","userId":"u1",`+
			`"params":{"name":"kv_set","arguments":{"key":"a","value":"hello"}}}`)
	if setResp == nil || setResp.Error != nil {
		t.Fatalf("kv_set call failed: %+v", setResp)
	}

	getResp := call(t, r,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","tenantId":"t1","userId":"u1",`+
			`"params":{"name":"kv_get","arguments":{"key":"a"}}}`)
	if getResp == nil || getResp.Error != nil {
		t.Fatalf("kv_get call failed: %+v", getResp)
	}

	var result struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(getResp.Result, &result); err != nil {
		t.Fatalf("unmarshal kv_get result: %v", err)
	}
	if !result.Found || result.Value != "hello" {
		t.Fatalf("kv_get result = %+v", result)
	}
}

func TestHandleLineRateLimitIsIsolatedPerTenant(t *testing.T) {
	r := newTestRouter()

	// Exhaust t1's kv-write bucket.
	for i := 0; i < 200; i++ {
		call(t, r,
			`{"jsonrpc":"2.0","id":1,"method":"tools/call","tenantId":"t1","userId":"u1",`+
				`"params":{"name":"kv_set","arguments":{"key":"a","value":"x"}}}`)
	}
	exhausted := call(t, r,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","tenantId":"t1","userId":"u1",`+
			`"params":{"name":"kv_set","arguments":{"key":"a","value":"x"}}}`)
	if exhausted == nil || exhausted.Error == nil || exhausted.Error.Code != -32001 {
		t.Fatalf("expected t1 to be rate-limited, got %+v", exhausted)
	}

	// A distinct tenant must still be able to charge its own bucket.
	other := call(t, r,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","tenantId":"t2","userId":"u2",`+
			`"params":{"name":"kv_set","arguments":{"key":"a","value":"x"}}}`)
	if other == nil || other.Error != nil {
		t.Fatalf("t2 should be unaffected by t1's rate limit, got %+v", other)
	}
}
