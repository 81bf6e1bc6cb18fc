package rpc

import (
	"encoding/json"
	"testing"
)

func TestRequestIsNotification(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want bool
	}{
		{name: "request with id is not notification", req: Request{ID: json.RawMessage(`1`)}, want: false},
		{name: "request without id is notification", req: Request{}, want: true},
		{name: "request with null id is notification", req: Request{ID: json.RawMessage(`null`)}, want: true},
		{name: "request with string id is not notification", req: Request{ID: json.RawMessage(`"abc123"`)}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.IsNotification(); got != tt.want {
				t.Errorf("IsNotification() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestParsing(t *testing.T) {
	var req Request
	input := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"kv_get"}}`
	if err := json.Unmarshal([]byte(input), &req); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if req.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want 2.0", req.JSONRPC)
	}
	if req.Method != "tools/call" {
		t.Errorf("Method = %q, want tools/call", req.Method)
	}
	if req.IsNotification() {
		t.Error("expected a request with id to not be a notification")
	}
}

func TestNewErrorCodesAreNegative(t *testing.T) {
	codes := []ErrorCode{
		ErrParseError, ErrInvalidRequest, ErrMethodNotFound, ErrInvalidParams,
		ErrInternal, ErrPermissionDenied, ErrRateLimitExceeded, ErrTenantError, ErrHandlerError,
	}
	for _, c := range codes {
		if c >= 0 {
			t.Errorf("error code %d should be negative", c)
		}
	}
}

func TestNewResultMarshalsResponse(t *testing.T) {
	resp := NewResult(json.RawMessage(`1`), map[string]string{"status": "ok"})
	got, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var gotObj, wantObj interface{}
	if err := json.Unmarshal(got, &gotObj); err != nil {
		t.Fatalf("unmarshal got: %v", err)
	}
	want := `{"jsonrpc":"2.0","id":1,"result":{"status":"ok"}}`
	if err := json.Unmarshal([]byte(want), &wantObj); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	gotJSON, _ := json.Marshal(gotObj)
	wantJSON, _ := json.Marshal(wantObj)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("Marshal() = %s, want %s", gotJSON, wantJSON)
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewError(NullID, ErrInvalidRequest, "invalid request", nil)
	if resp.Error.Code != ErrInvalidRequest {
		t.Errorf("Code = %d, want %d", resp.Error.Code, ErrInvalidRequest)
	}
	if string(resp.ID) != "null" {
		t.Errorf("ID = %s, want null", resp.ID)
	}
}
