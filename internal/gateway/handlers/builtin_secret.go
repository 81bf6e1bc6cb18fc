package handlers

import (
	"context"
	"encoding/json"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// RegisterSecrets adds secret_get/secret_put/secret_delete, gated behind
// Admin-only permission since the same backend secret store backs
// sub-server credential injection (the ApiKey and OAuth2 auth methods read
// it; Basic takes its values from the config). These tools prefix every
// name with the caller's contextId, so they do not produce the
// "subserver:{contextId}:{serverId}:{field}" names credential injection
// looks up.
func RegisterSecrets(r *Registry, store backend.StorageBackend) {
	r.MustRegister(HandlerEntry{
		Name:               "secret_get",
		RequiredPermission: tenant.PermAdmin,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassSecretGet,
		Cost:               FlatCost(),
		Description:        "Fetch a stored secret value.",
		InputSchema:        inputSchema([]string{"name"}, map[string]any{"name": stringSchema("secret name")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Name == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "secret_get requires a non-empty \"name\"", nil)
			}
			value, ok, err := store.SecretGet(ctx, secretKey(session, args.Name))
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			if !ok {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{"found": true, "value": value}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "secret_put",
		RequiredPermission: tenant.PermAdmin,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Create or update a stored secret.",
		InputSchema: inputSchema([]string{"name", "value"}, map[string]any{
			"name":        stringSchema("secret name"),
			"value":       stringSchema("secret value"),
			"description": stringSchema("human-readable description"),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Name        string `json:"name"`
				Value       string `json:"value"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Name == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "secret_put requires \"name\" and \"value\"", nil)
			}
			if err := store.SecretPut(ctx, secretKey(session, args.Name), args.Value, args.Description); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "secret_delete",
		RequiredPermission: tenant.PermAdmin,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Delete a stored secret.",
		InputSchema: inputSchema([]string{"name"}, map[string]any{
			"name":     stringSchema("secret name"),
			"forceNow": booleanSchema("bypass any grace period and delete immediately"),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Name     string `json:"name"`
				ForceNow bool   `json:"forceNow"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Name == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "secret_delete requires a non-empty \"name\"", nil)
			}
			if err := store.SecretDelete(ctx, secretKey(session, args.Name), args.ForceNow); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})
}

func secretKey(session *tenant.Session, name string) string {
	return session.Context.ContextID() + ":" + name
}
