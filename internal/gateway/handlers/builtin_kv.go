package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// RegisterKV adds the kv_get/kv_set/kv_delete/kv_list built-in tools, each
// a thin closure over a backend.StorageBackend. Argument validation and a
// single backend call is the entirety of each handler's business logic,
// per the built-in tool catalogue's intentionally minimal scope.
func RegisterKV(r *Registry, store backend.StorageBackend) {
	r.MustRegister(HandlerEntry{
		Name:               "kv_get",
		RequiredPermission: tenant.PermReadKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVRead,
		Cost:               FlatCost(),
		Description:        "Fetch a single value from the key-value store.",
		InputSchema:        inputSchema([]string{"key"}, map[string]any{"key": stringSchema("key to fetch")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Key == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "kv_get requires a non-empty \"key\"", nil)
			}
			value, ok, err := store.KVGet(ctx, session.Context.NamespacePrefix(), args.Key)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			if !ok {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{"found": true, "value": string(value)}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "kv_set",
		RequiredPermission: tenant.PermWriteKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVWrite,
		Cost:               FlatCost(),
		Description:        "Write a value into the key-value store, optionally with a TTL in seconds.",
		InputSchema: inputSchema([]string{"key", "value"}, map[string]any{
			"key":        stringSchema("key to write"),
			"value":      stringSchema("value to store"),
			"ttlSeconds": integerSchema("optional expiry in seconds", nil, nil),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Key        string `json:"key"`
				Value      string `json:"value"`
				TTLSeconds int    `json:"ttlSeconds"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Key == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "kv_set requires \"key\" and \"value\"", nil)
			}
			var ttl time.Duration
			if args.TTLSeconds > 0 {
				ttl = time.Duration(args.TTLSeconds) * time.Second
			}
			if err := store.KVSet(ctx, session.Context.NamespacePrefix(), args.Key, []byte(args.Value), ttl); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "kv_delete",
		RequiredPermission: tenant.PermDeleteKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVWrite,
		Cost:               FlatCost(),
		Description:        "Delete a key from the key-value store.",
		InputSchema:        inputSchema([]string{"key"}, map[string]any{"key": stringSchema("key to delete")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Key == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "kv_delete requires a non-empty \"key\"", nil)
			}
			if err := store.KVDelete(ctx, session.Context.NamespacePrefix(), args.Key); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "kv_list",
		RequiredPermission: tenant.PermReadKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVQuery,
		Cost:               FlatCost(),
		Description:        "List keys under an optional prefix.",
		InputSchema:        inputSchema(nil, map[string]any{"prefix": stringSchema("key prefix filter")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Prefix string `json:"prefix"`
			}
			_ = json.Unmarshal(arguments, &args)
			keys, err := store.KVList(ctx, session.Context.NamespacePrefix(), args.Prefix)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"keys": keys}, nil
		},
	})
}
