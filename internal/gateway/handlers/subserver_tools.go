package handlers

import (
	"context"
	"encoding/json"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/subserver"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// RegisterIntegrationTools adds the integration_register/_connect/_list/
// _disconnect built-in tools over a subserver.Supervisor, carried over
// from the original source's integration_register/integration_connect/
// integration_list/integration_disconnect/integration_test handlers
// (src/handlers/integrations.rs). Each is a thin wrapper so the
// supervisor's lifecycle is reachable from the tool surface, not just an
// internal API.
func RegisterIntegrationTools(r *Registry, sup *subserver.Supervisor) {
	r.MustRegister(HandlerEntry{
		Name:               "integration_register",
		RequiredPermission: tenant.PermExecute,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Register a sub-server configuration without connecting it.",
		InputSchema: inputSchema([]string{"serverId", "command"}, map[string]any{
			"serverId": stringSchema("unique sub-server identifier"),
			"command":  stringSchema("child process command (process deployments)"),
			"args":     arraySchema("command arguments", stringSchema("argument")),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				ServerID string   `json:"serverId"`
				Command  string   `json:"command"`
				Args     []string `json:"args"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.ServerID == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "integration_register requires \"serverId\"", nil)
			}
			cfg := subserver.Config{
				ID:         args.ServerID,
				Transport:  subserver.TransportStdio,
				Deployment: subserver.Deployment{Kind: subserver.DeploymentProcess, Command: args.Command, Args: args.Args},
				AuthMethod: subserver.AuthMethod{Kind: subserver.AuthNone},
			}
			sup.Register(session.Context.ContextID(), cfg)
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "integration_connect",
		RequiredPermission: tenant.PermExecute,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Connect a registered sub-server.",
		InputSchema:        inputSchema([]string{"serverId"}, map[string]any{"serverId": stringSchema("sub-server identifier")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				ServerID string `json:"serverId"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.ServerID == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "integration_connect requires \"serverId\"", nil)
			}
			if err := sup.Connect(ctx, session.Context.ContextID(), args.ServerID, nil); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "integration_list",
		RequiredPermission: tenant.PermRead,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "List sub-servers registered under the caller's context.",
		InputSchema:        inputSchema(nil, map[string]any{}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			entries := sup.List(session.Context.ContextID())
			out := make([]map[string]any, 0, len(entries))
			for _, e := range entries {
				out = append(out, map[string]any{"serverId": e.ServerID})
			}
			return map[string]any{"servers": out}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "integration_disconnect",
		RequiredPermission: tenant.PermExecute,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Disconnect a sub-server. Idempotent.",
		InputSchema:        inputSchema([]string{"serverId"}, map[string]any{"serverId": stringSchema("sub-server identifier")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				ServerID string `json:"serverId"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.ServerID == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "integration_disconnect requires \"serverId\"", nil)
			}
			if err := sup.Disconnect(session.Context.ContextID(), args.ServerID); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})
}

// ProxyCall forwards a tools/call that didn't match any built-in handler
// to the sub-server supervisor, per the proxy handler class: no cost
// class in the rate limiter (it accounts only against session
// concurrency), dispatched by the router directly rather than through a
// registered HandlerEntry, since the tool name isn't known until the
// supervisor's tool index is consulted.
func ProxyCall(sup *subserver.Supervisor, session *tenant.Session, toolName string, arguments json.RawMessage) (interface{}, error) {
	result, err := sup.ExecuteTool(session.Context.ContextID(), toolName, arguments)
	if err != nil {
		switch err {
		case subserver.ErrToolNotFound:
			return nil, NewHandlerError(ErrCodeNotFound, "tool not found: "+toolName, nil)
		case subserver.ErrServerNotConnected, subserver.ErrServerNotFound:
			return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
		default:
			if remoteErr, ok := err.(*subserver.RemoteError); ok {
				return nil, NewHandlerError(ErrCodeHandlerFailure, remoteErr.Error(), nil)
			}
			return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
		}
	}
	var decoded interface{}
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, NewHandlerError(ErrCodeInternal, "failed to decode sub-server result", nil)
	}
	return decoded, nil
}
