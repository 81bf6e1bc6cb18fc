package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/handlers"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/router"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

func newTestLoop(in string, out *bytes.Buffer) *Loop {
	dir := tenant.New(true)
	registry := handlers.NewRegistry()
	handlers.RegisterKV(registry, backend.NewInMemory())

	r := &router.Router{
		Directory: dir,
		Limiter:   ratelimit.New(nil),
		Handlers:  registry,
	}

	return &Loop{
		Router:    r,
		Directory: dir,
		In:        strings.NewReader(in),
		Out:       out,
		Logger:    zerolog.Nop(),
	}
}

func TestLoopRunEchoesResponsesLineByLine(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"initialize","tenantId":"t1","userId":"u1"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/initialized","tenantId":"t1","userId":"u1"}` + "\n"

	var out bytes.Buffer
	loop := newTestLoop(input, &out)

	code := loop.Run(context.Background())
	if code != 0 {
		t.Fatalf("Run() exit code = %d, want 0", code)
	}

	scanner := bufio.NewScanner(&out)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 1 {
		t.Fatalf("expected exactly one response line (notification suppressed), got %d: %v", len(lines), lines)
	}

	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if string(resp.ID) != "1" {
		t.Errorf("response id = %s, want 1", resp.ID)
	}
}

func TestLoopRunPreservesRequestOrder(t *testing.T) {
	var input string
	for i := 1; i <= 20; i++ {
		input += fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/list","tenantId":"t1","userId":"u1"}`+"\n", i)
	}

	var out bytes.Buffer
	loop := newTestLoop(input, &out)

	if code := loop.Run(context.Background()); code != 0 {
		t.Fatalf("Run() exit code = %d, want 0", code)
	}

	scanner := bufio.NewScanner(&out)
	for i := 1; i <= 20; i++ {
		if !scanner.Scan() {
			t.Fatalf("expected 20 response lines, got %d", i-1)
		}
		var resp struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response %d: %v", i, err)
		}
		if string(resp.ID) != fmt.Sprintf("%d", i) {
			t.Fatalf("response %d out of order: id = %s, want %d", i, resp.ID, i)
		}
	}
}

func TestLoopRunMalformedLineProducesInvalidRequestResponse(t *testing.T) {
	var out bytes.Buffer
	loop := newTestLoop("{not json\n", &out)

	if code := loop.Run(context.Background()); code != 0 {
		t.Fatalf("Run() exit code = %d, want 0", code)
	}

	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32600 {
		t.Fatalf("expected -32600 invalid request, got %+v", resp.Error)
	}
}
