// Package handlers implements the tool registry: a table from tool name to
// a HandlerEntry carrying the required permission, rate-limiter cost class,
// invocation function, and input schema. Grounded on the teacher's
// internal/mcpserver/tools package (Registry/ToolDefinition/Handler/
// ToolError), generalized from its REST-entity tool shape to built-in
// closures over a StorageBackend plus proxy handlers forwarding to the
// sub-server supervisor.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// ErrorCode categorizes a HandlerError for JSON-RPC translation. Only the
// router maps this to a wire rpc.ErrorCode; handlers never see rpc types.
type ErrorCode string

const (
	ErrCodeInvalidArguments ErrorCode = "invalid-arguments"
	ErrCodeNotFound         ErrorCode = "not-found"
	ErrCodePermissionDenied ErrorCode = "permission-denied"
	ErrCodeHandlerFailure   ErrorCode = "handler-error"
	ErrCodeInternal         ErrorCode = "internal-error"
)

// HandlerError is the structured error every handler (built-in or proxy)
// returns on failure.
type HandlerError struct {
	Code    ErrorCode
	Message string
	Data    map[string]any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewHandlerError constructs a HandlerError.
func NewHandlerError(code ErrorCode, message string, data map[string]any) *HandlerError {
	return &HandlerError{Code: code, Message: message, Data: data}
}

// Invoke is the function shape every handler implements.
type Invoke func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error)

// CostFunc computes the rate-limiter debit for one call, given the raw
// arguments. Most handlers charge a flat 1; event-batch handlers charge
// min(len(events), batchCeiling).
type CostFunc func(arguments json.RawMessage) float64

// FlatCost returns a CostFunc that always charges 1.
func FlatCost() CostFunc {
	return func(json.RawMessage) float64 { return 1 }
}

// HandlerEntry is one entry in the tool registry.
type HandlerEntry struct {
	Name               string
	RequiredPermission tenant.Permission
	HasPermission      bool // false for handlers with no permission requirement
	IsProxy            bool
	OperationClass     ratelimit.OperationClass // ignored when IsProxy
	Cost               CostFunc                 // ignored when IsProxy
	Invoke             Invoke
	Description        string
	InputSchema        map[string]any
}

// ToolDescriptor is the shape returned by tools/list.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
