package subserver

import (
	"context"
	"fmt"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/backend"
)

// CredentialSource fetches the stored secret values Connect needs to
// inject per AuthMethod, keyed by (contextID, serverID). Grounded on
// registry.rs's get_credential going through the same abstract backend as
// durable config writes, and generalized here past a single backend
// technology to the StorageBackend interface.
type CredentialSource struct {
	store backend.StorageBackend
}

// NewCredentialSource wraps a StorageBackend as a credential source.
func NewCredentialSource(store backend.StorageBackend) *CredentialSource {
	return &CredentialSource{store: store}
}

func (c *CredentialSource) lookup(ctx context.Context, contextID, serverID, field string) (string, bool, error) {
	name := fmt.Sprintf("subserver:%s:%s:%s", contextID, serverID, field)
	return c.store.SecretGet(ctx, name)
}

// Resolve returns the env var bindings Connect should overlay onto the
// static config.Env, per the AuthMethod's binding rule:
//   - None: nothing added.
//   - ApiKey{keyField}: stored "api_key" secret bound to keyField.
//   - OAuth2: stored "client_id"/"client_secret" bound to CLIENT_ID/CLIENT_SECRET.
//   - Basic{username,password}: already non-secret, bound to USERNAME/PASSWORD.
func (c *CredentialSource) Resolve(ctx context.Context, contextID, serverID string, method AuthMethod) (map[string]string, error) {
	switch method.Kind {
	case AuthNone:
		return nil, nil

	case AuthAPIKey:
		key, ok, err := c.lookup(ctx, contextID, serverID, "api_key")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		field := method.KeyField
		if field == "" {
			field = "API_KEY"
		}
		return map[string]string{field: key}, nil

	case AuthOAuth2:
		clientID, ok1, err := c.lookup(ctx, contextID, serverID, "client_id")
		if err != nil {
			return nil, err
		}
		clientSecret, ok2, err := c.lookup(ctx, contextID, serverID, "client_secret")
		if err != nil {
			return nil, err
		}
		out := map[string]string{}
		if ok1 {
			out["CLIENT_ID"] = clientID
		}
		if ok2 {
			out["CLIENT_SECRET"] = clientSecret
		}
		return out, nil

	case AuthBasic:
		return map[string]string{
			"USERNAME": method.Username,
			"PASSWORD": method.Password,
		}, nil

	default:
		return nil, nil
	}
}
