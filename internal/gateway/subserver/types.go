// Package subserver implements the sub-server supervisor: lifecycle,
// credential injection, and tool-call forwarding for child JSON-RPC
// sub-servers registered by a tenant. Grounded on
// original_source/mcp-rust/src/registry.rs's MCPServerRegistry (the
// Docker/Process/Lambda deployment variants, the AuthMethod env-binding
// rules, and connect/disconnect/health-check lifecycle), with the
// stdio wire transport itself grounded on
// goadesign-goa-ai/features/mcp/runtime/stdiocaller.go's Content-Length
// framing.
package subserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Transport is the wire protocol a sub-server speaks.
type Transport string

const (
	TransportStdio     Transport = "stdio"
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
)

// DeploymentKind selects which of Deployment's variant fields is populated.
type DeploymentKind string

const (
	DeploymentProcess   DeploymentKind = "process"
	DeploymentContainer DeploymentKind = "container"
	DeploymentRemote    DeploymentKind = "remote"
)

// Deployment is a tagged union over the three ways a sub-server can be
// brought up. Exactly the fields matching Kind are meaningful.
type Deployment struct {
	Kind DeploymentKind

	// Process
	Command string
	Args    []string

	// Container
	Image   string
	Tag     string
	Ports   []string // "hostPort:containerPort"
	Volumes []string // "hostPath:containerPath"
	Network string
	Runtime string // e.g. "nvidia"; empty for the default runtime

	// Remote
	Endpoint string
}

// AuthKind selects which credential-injection rule Connect applies.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api-key"
	AuthOAuth2 AuthKind = "oauth2"
	AuthBasic  AuthKind = "basic"
)

// AuthMethod describes how Connect should inject credentials into the
// child's environment.
type AuthMethod struct {
	Kind AuthKind

	// AuthAPIKey: the env var name the fetched api_key secret binds to.
	KeyField string

	// AuthBasic: non-secret values already present in config.
	Username string
	Password string
}

// Config is the static registration record for one sub-server.
type Config struct {
	ID                    string
	Name                  string
	Description           string
	Transport             Transport
	Deployment            Deployment
	Env                   map[string]string
	AuthMethod            AuthMethod
	HealthCheckIntervalS  int
	AutoReconnect         bool
}

// Status is the sub-server's connection lifecycle state.
type Status struct {
	Kind   StatusKind
	Reason string // populated when Kind == StatusFailed
}

type StatusKind string

const (
	StatusDisconnected StatusKind = "disconnected"
	StatusConnecting   StatusKind = "connecting"
	StatusConnected    StatusKind = "connected"
	StatusFailed       StatusKind = "failed"
)

// ToolDescriptor mirrors the shape a sub-server advertises from its own
// tools/list response.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// child is the transport-level handle a connected entry owns exclusively.
// Its concrete type (processChild, containerChild or remoteChild) matches
// the Deployment's Kind.
type child interface {
	// Call forwards a JSON-RPC method call and returns the raw result or
	// error payload the sub-server responded with.
	Call(method string, params any) (result json.RawMessage, rpcErr *json.RawMessage, err error)
	// Alive reports whether the underlying process/endpoint is still up.
	// The process check reads a flag without blocking; the container and
	// remote checks wait for a `docker inspect` run or an HTTP "ping" call.
	Alive() bool
	// Close tears the handle down. Idempotent.
	Close() error
}

// Entry is one managed sub-server instance.
type Entry struct {
	mu sync.Mutex

	ContextID string
	ServerID  string
	Config    Config

	status          Status
	handle          child
	tools           []ToolDescriptor
	lastHealthCheck time.Time

	lastCredentials map[string]string
}

func (e *Entry) key() entryKey {
	return entryKey{contextID: e.ContextID, serverID: e.ServerID}
}

type entryKey struct {
	contextID string
	serverID  string
}

func containerName(contextID, serverID string) string {
	return fmt.Sprintf("mcp-%s-%s", contextID, serverID)
}
