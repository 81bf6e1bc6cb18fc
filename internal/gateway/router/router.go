// Package router implements the request lifecycle: parse the JSON-RPC
// envelope, resolve and authorize the principal, charge the rate limiter,
// dispatch to the handler registry or the sub-server supervisor, and
// encode the response. Grounded on
// original_source/mcp-rust/src/mcp.rs's process_request (the step
// ordering: session rate check before per-operation token bucket,
// RequestGuard around dispatch, method switch) and the teacher's
// internal/mcpserver/server/server.go's handleJSONRPC for the Go shape of
// that dispatch switch, generalized from a single-tenant HTTP handler to
// the stdio multi-tenant router this system requires.
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/handlers"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/rpc"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/subserver"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// ProtocolVersion is the fixed identifier this implementation reports from
// "initialize".
const ProtocolVersion = "2025-03-26"

// ServerName/ServerVersion populate the "initialize" handshake's serverInfo.
const (
	ServerName    = "mcp-tenant-gateway"
	ServerVersion = "0.1.0"
)

// envelope is the JSON-RPC request plus the envelope extensions this
// router tolerates: tenantId, userId, sessionToken.
type envelope struct {
	rpc.Request
	TenantID     string `json:"tenantId"`
	UserID       string `json:"userId"`
	SessionToken string `json:"sessionToken"`
}

// Router wires together the directory, rate limiter, handler registry, and
// sub-server supervisor into the single request lifecycle.
type Router struct {
	Directory  *tenant.Directory
	Limiter    *ratelimit.Limiter
	Handlers   *handlers.Registry
	Supervisor *subserver.Supervisor

	DefaultTenantID string
	DefaultUserID   string
}

// HandleLine parses and dispatches exactly one input record. It returns a
// nil response when the record was a valid notification (no bytes should
// be written for it); any non-nil return is a caller-visible
// protocol-level response (including for malformed input, per the -32600
// failure semantics).
func (r *Router) HandleLine(ctx context.Context, line []byte) *rpc.Response {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return rpc.NewError(rpc.NullID, rpc.ErrInvalidRequest, "invalid JSON", nil)
	}
	if env.JSONRPC != "2.0" {
		return rpc.NewError(idOrNull(env.ID), rpc.ErrInvalidRequest, "invalid jsonrpc version", nil)
	}

	isNotification := env.IsNotification()

	resp := r.dispatch(ctx, &env)
	if isNotification {
		return nil
	}
	return resp
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return rpc.NullID
	}
	return id
}

func (r *Router) dispatch(ctx context.Context, env *envelope) *rpc.Response {
	id := idOrNull(env.ID)

	// A notification's response is always discarded by HandleLine, so skip
	// principal resolution, tenant validation, and rate charging entirely
	// rather than running the full lifecycle for a result nobody sees.
	if env.IsNotification() {
		return nil
	}

	tenantID, userID, err := r.resolvePrincipal(env)
	if err != nil {
		return rpc.NewError(id, rpc.ErrInvalidRequest, err.Error(), nil)
	}

	tctx, err := r.Directory.Validate(tenantID, userID)
	if err != nil {
		return rpc.NewError(id, rpc.ErrTenantError, err.Error(), nil)
	}

	session := r.Directory.GetOrCreateSession(tctx)

	reqLog := log.With().Str("sessionId", session.SessionID).Str("tenantId", tenantID).Str("method", env.Method).Logger()

	if !r.checkSessionLimits(session) {
		return rpc.NewError(id, rpc.ErrRateLimitExceeded, "per-session rate limit exceeded", nil)
	}

	var opClass ratelimit.OperationClass
	var toolName string
	var arguments json.RawMessage
	if env.Method == "tools/call" {
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(env.Params) == 0 {
			return rpc.NewError(id, rpc.ErrInvalidRequest, "tools/call requires params", nil)
		}
		if err := json.Unmarshal(env.Params, &params); err != nil || params.Name == "" {
			return rpc.NewError(id, rpc.ErrInvalidRequest, "tools/call requires params.name", nil)
		}
		toolName = params.Name
		arguments = params.Arguments
		if len(arguments) == 0 {
			arguments = json.RawMessage(`{}`)
		}

		if entry, ok := r.Handlers.Get(toolName); ok && !entry.IsProxy {
			opClass = entry.OperationClass
			cost := entry.Cost(arguments)
			if !r.Limiter.TryCharge(tenantID, opClass, cost) {
				return rpc.NewError(id, rpc.ErrRateLimitExceeded, "operation rate limit exceeded", nil)
			}
		}
	}

	guard := session.BeginRequest()
	defer guard.Release()

	result, rpcErr := r.dispatchMethod(ctx, &reqLog, session, env, toolName, arguments)
	if rpcErr != nil {
		return rpcErr
	}
	return rpc.NewResult(id, result)
}

// dispatchMethod runs the method switch (step 10 of the request
// lifecycle) and recovers from a panicking handler so the RequestGuard
// deferred in dispatch still releases exactly once.
func (r *Router) dispatchMethod(ctx context.Context, reqLog *zerolog.Logger, session *tenant.Session, env *envelope, toolName string, arguments json.RawMessage) (result interface{}, errResp *rpc.Response) {
	defer func() {
		if p := recover(); p != nil {
			reqLog.Error().Interface("panic", p).Msg("handler panicked")
			errResp = rpc.NewError(idOrNull(env.ID), rpc.ErrInternal, "internal error", nil)
		}
	}()

	switch env.Method {
	case "initialize":
		return map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": ServerVersion},
		}, nil

	case "tools/list":
		return map[string]any{"tools": r.Handlers.ListTools(session)}, nil

	case "tools/call":
		return r.invokeTool(ctx, session, toolName, arguments, idOrNull(env.ID))

	case "notifications/initialized":
		return nil, nil

	default:
		return nil, rpc.NewError(idOrNull(env.ID), rpc.ErrMethodNotFound,
			fmt.Sprintf("method not found: %s", env.Method), nil)
	}
}

func (r *Router) invokeTool(ctx context.Context, session *tenant.Session, toolName string, arguments json.RawMessage, id json.RawMessage) (interface{}, *rpc.Response) {
	entry, ok := r.Handlers.Get(toolName)
	if ok && !entry.IsProxy {
		result, err := r.Handlers.Invoke(ctx, session, toolName, arguments)
		if err != nil {
			return nil, handlerErrorToResponse(id, err)
		}
		return result, nil
	}

	if r.Supervisor == nil {
		return nil, rpc.NewError(id, rpc.ErrHandlerError, "tool not found: "+toolName, nil)
	}
	result, err := handlers.ProxyCall(r.Supervisor, session, toolName, arguments)
	if err != nil {
		return nil, handlerErrorToResponse(id, err)
	}
	return result, nil
}

func handlerErrorToResponse(id json.RawMessage, err error) *rpc.Response {
	herr, ok := err.(*handlers.HandlerError)
	if !ok {
		return rpc.NewError(id, rpc.ErrInternal, err.Error(), nil)
	}
	var code rpc.ErrorCode
	switch herr.Code {
	case handlers.ErrCodeNotFound:
		code = rpc.ErrMethodNotFound
	case handlers.ErrCodePermissionDenied:
		code = rpc.ErrPermissionDenied
	case handlers.ErrCodeInvalidArguments:
		code = rpc.ErrInvalidParams
	case handlers.ErrCodeHandlerFailure:
		code = rpc.ErrHandlerError
	default:
		code = rpc.ErrInternal
	}
	return rpc.NewError(id, code, herr.Message, nil)
}

func (r *Router) checkSessionLimits(session *tenant.Session) bool {
	limits := session.Context.ResourceLimits
	if limits.MaxConcurrentRequests > 0 && session.ActiveRequests() >= int64(limits.MaxConcurrentRequests) {
		return false
	}
	if limits.RequestsPerMinute > 0 && session.RequestCount() >= int64(limits.RequestsPerMinute) {
		return false
	}
	return true
}

func (r *Router) resolvePrincipal(env *envelope) (tenantID, userID string, err error) {
	if env.TenantID != "" && env.UserID != "" {
		return env.TenantID, env.UserID, nil
	}
	if tid, uid, ok := tenant.DecodePrincipal(env.SessionToken); ok {
		return tid, uid, nil
	}
	if r.DefaultTenantID != "" && r.DefaultUserID != "" {
		return r.DefaultTenantID, r.DefaultUserID, nil
	}
	return "", "", fmt.Errorf("missing tenantId/userId and no process-wide default identity configured")
}
