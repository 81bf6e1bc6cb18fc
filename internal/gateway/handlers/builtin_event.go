package handlers

import (
	"context"
	"encoding/json"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/ratelimit"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// batchCeiling caps the rate-limiter cost charged for a single events_send
// call regardless of how many events the caller batches in.
const batchCeiling = 25

// eventCost charges one token per event in the batch, capped at
// batchCeiling, per the event-put operation class's cost expression.
func eventCost(arguments json.RawMessage) float64 {
	var args struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return 1
	}
	n := len(args.Events)
	if n == 0 {
		return 1
	}
	if n > batchCeiling {
		return batchCeiling
	}
	return float64(n)
}

// RegisterEvents adds events_send, events_query, events_analytics, and
// events_health_check, carried over from the original source's
// events/analytics handler set (src/handlers.rs), each a thin closure over
// the backend's event surface.
func RegisterEvents(r *Registry, store backend.StorageBackend) {
	r.MustRegister(HandlerEntry{
		Name:               "events_send",
		RequiredPermission: tenant.PermSendEvents,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassEventPut,
		Cost:               eventCost,
		Description:        "Publish one or more events, batched in a single call.",
		InputSchema: inputSchema([]string{"detailType", "events"}, map[string]any{
			"detailType": stringSchema("event detail type"),
			"events":     arraySchema("batch of event detail payloads", objectSchema("event detail")),
		}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				DetailType string            `json:"detailType"`
				Events     []json.RawMessage `json:"events"`
			}
			if err := json.Unmarshal(arguments, &args); err != nil || args.DetailType == "" {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "events_send requires \"detailType\" and \"events\"", nil)
			}
			if len(args.Events) == 0 {
				return nil, NewHandlerError(ErrCodeInvalidArguments, "events_send requires a non-empty \"events\" array", nil)
			}
			namespace := session.Context.NamespacePrefix()
			for _, detail := range args.Events {
				if err := store.EventPut(ctx, namespace, args.DetailType, detail); err != nil {
					return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
				}
			}
			return map[string]any{"sent": len(args.Events)}, nil
		},
	})

	// events_query and events_analytics are intentionally thin: the
	// backend is opaque past the StorageBackend contract, so the handler's
	// only job is to validate arguments and forward a KVList-shaped query
	// under a well-known sub-prefix, exactly as kv_list does.
	r.MustRegister(HandlerEntry{
		Name:               "events_query",
		RequiredPermission: tenant.PermReadKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVQuery,
		Cost:               FlatCost(),
		Description:        "Query recorded events by detail-type prefix.",
		InputSchema:        inputSchema(nil, map[string]any{"detailTypePrefix": stringSchema("detail type prefix filter")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				DetailTypePrefix string `json:"detailTypePrefix"`
			}
			_ = json.Unmarshal(arguments, &args)
			keys, err := store.KVList(ctx, "events:"+session.Context.NamespacePrefix(), args.DetailTypePrefix)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"events": keys}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "events_analytics",
		RequiredPermission: tenant.PermReadKV,
		HasPermission:      true,
		OperationClass:     ratelimit.ClassKVQuery,
		Cost:               FlatCost(),
		Description:        "Aggregate counts of recorded events by detail-type prefix.",
		InputSchema:        inputSchema(nil, map[string]any{"detailTypePrefix": stringSchema("detail type prefix filter")}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			var args struct {
				DetailTypePrefix string `json:"detailTypePrefix"`
			}
			_ = json.Unmarshal(arguments, &args)
			keys, err := store.KVList(ctx, "events:"+session.Context.NamespacePrefix(), args.DetailTypePrefix)
			if err != nil {
				return nil, NewHandlerError(ErrCodeHandlerFailure, err.Error(), nil)
			}
			return map[string]any{"count": len(keys)}, nil
		},
	})

	r.MustRegister(HandlerEntry{
		Name:               "events_health_check",
		HasPermission:      false,
		OperationClass:     ratelimit.ClassGenericBackend,
		Cost:               FlatCost(),
		Description:        "Report whether the event backend is reachable.",
		InputSchema:        inputSchema(nil, map[string]any{}),
		Invoke: func(ctx context.Context, session *tenant.Session, arguments json.RawMessage) (interface{}, error) {
			if err := store.EventPut(ctx, "health-check", "ping", json.RawMessage(`{}`)); err != nil {
				return map[string]any{"healthy": false, "error": err.Error()}, nil
			}
			return map[string]any{"healthy": true}, nil
		},
	})
}
