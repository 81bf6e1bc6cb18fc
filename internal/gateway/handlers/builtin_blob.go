package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// RegisterBlob adds the artifacts_get/artifacts_put/artifacts_list
// built-in tools. Blob keys are additionally prefixed by the session's
// contextId, per the backend's namespacing rule.
func RegisterBlob(r *Registry, store backend.StorageBackend) {
	r.MustRegister(HandlerEntry{
		Name:               "artifacts_get",
		RequiredPermission: tenant.PermGetBlobs,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassBlobGet,
		Cost:               FlatCost(),
		Description:        "Fetch a blob, base64-encoded.",
		InputSchema:        inputSchema([]string{"key"}, map[string]any{"key": stringSchema("blob key")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Key == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "artifacts_get requires a non-empty \"key\"", nil)
			}
			namespace := blobNamespace(session)
			data, ok, err := store.BlobGet(ctx, namespace, args.Key)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			if !ok {
				return map[string]any{"found": false}, nil
			}
			return map[string]any{"found": true, "data": base64.StdEncoding.EncodeToString(data)}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "artifacts_put",
		RequiredPermission: tenant.PermPutBlobs,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassBlobPut,
		Cost:               FlatCost(),
		Description:        "Store a base64-encoded blob.",
		InputSchema: inputSchema([]string{"key", "data"}, map[string]any{
			"key":         stringSchema("blob key"),
			"data":        stringSchema("base64-encoded blob content"),
			"contentType": stringSchema("MIME content type"),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Key         string `json:"key"`
				Data        string `json:"data"`
				ContentType string `json:"contentType"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.Key == "" || args.Data == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "artifacts_put requires \"key\" and base64 \"data\"", nil)
			}
			raw, err := base64.StdEncoding.DecodeString(args.Data)
			if err != nil {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "data is not valid base64", nil)
			}
			namespace := blobNamespace(session)
			if err := store.BlobPut(ctx, namespace, args.Key, raw, args.ContentType); err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"ok": true}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "artifacts_list",
		RequiredPermission: tenant.PermListBlobs,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassBlobList,
		Cost:               FlatCost(),
		Description:        "List blob keys under an optional prefix.",
		InputSchema:        inputSchema(nil, map[string]any{"prefix": stringSchema("key prefix filter")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				Prefix string `json:"prefix"`
			}
			_ = json.Unmarshal(arguments, &args)
			namespace := blobNamespace(session)
			keys, err := store.BlobList(ctx, namespace, args.Prefix)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"keys": keys}, nil
		},
	})
}

func blobNamespace(session *tenant.Session) string {
	return session.Context.ContextID() + ":" + session.Context.NamespacePrefix()
}
