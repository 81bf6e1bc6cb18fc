package subserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// ErrServerNotFound is returned when a (contextID, serverID) pair has no
// registered entry.
var ErrServerNotFound = errors.New("subserver: server not found")

// ErrServerNotConnected is returned by ExecuteTool when the target entry
// isn't currently Connected.
var ErrServerNotConnected = errors.New("subserver: server not connected")

// ErrToolNotFound is returned when the requested tool name doesn't match
// anything in the cached tools/list response, or — for a bare tool name —
// no sub-server of the context advertises it.
var ErrToolNotFound = errors.New("subserver: tool not found")

// RemoteError wraps a JSON-RPC error object a sub-server returned from a
// tools/call forward, surfaced by the router as a handler error.
type RemoteError struct {
	Raw json.RawMessage
}

func (e *RemoteError) Error() string { return string(e.Raw) }

// Supervisor owns every (contextID, serverID) sub-server entry: lifecycle,
// credential injection, and tool-call forwarding. It also maintains the
// toolName -> serverID index per-context that original_source's
// find_server_for_tool lacked: that version picked the first registered
// sub-server unconditionally for a bare (unprefixed) tool name. This
// index is populated from each sub-server's cached tools/list response at
// connect time, so a bare tool name resolves to a sub-server that
// actually advertises it (the first in List order when several do), or
// ErrToolNotFound if none does.
type Supervisor struct {
	mu      sync.RWMutex
	entries map[entryKey]*Entry

	credentials *CredentialSource
	stop        chan struct{}
	once        sync.Once
}

// New constructs a Supervisor whose credential injection reads through
// creds.
func New(creds *CredentialSource) *Supervisor {
	return &Supervisor{
		entries:     make(map[entryKey]*Entry),
		credentials: creds,
		stop:        make(chan struct{}),
	}
}

// Register records config for (contextID, serverID) with status
// Disconnected in the supervisor's in-memory table. It does not start
// anything — connection is a separate, explicit runtime operation that
// can fail and be retried. The configuration is not written to the
// storage backend, so registrations do not survive a restart.
func (s *Supervisor) Register(contextID string, cfg Config) *Entry {
	key := entryKey{contextID: contextID, serverID: cfg.ID}

	e := &Entry{
		ContextID: contextID,
		ServerID:  cfg.ID,
		Config:    cfg,
		status:    Status{Kind: StatusDisconnected},
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()

	log.Info().Str("contextId", contextID).Str("serverId", cfg.ID).Msg("registered sub-server")
	return e
}

// List returns every entry registered under contextID, sorted by serverID.
func (s *Supervisor) List(contextID string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Entry
	for k, e := range s.entries {
		if k.contextID == contextID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func (s *Supervisor) get(contextID, serverID string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryKey{contextID: contextID, serverID: serverID}]
	return e, ok
}

// Connect brings one registered entry up, per the three deployment kinds.
// credentials (possibly nil) are per-call overrides layered between the
// static config.Env and whatever the secret store resolves for the
// configured AuthMethod.
func (s *Supervisor) Connect(ctx context.Context, contextID, serverID string, credentials map[string]string) error {
	e, ok := s.get(contextID, serverID)
	if !ok {
		return ErrServerNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.status = Status{Kind: StatusConnecting}

	env := map[string]string{}
	for k, v := range e.Config.Env {
		env[k] = v
	}
	for k, v := range credentials {
		env[k] = v
	}
	if s.credentials != nil {
		resolved, err := s.credentials.Resolve(ctx, contextID, serverID, e.Config.AuthMethod)
		if err != nil {
			e.status = Status{Kind: StatusFailed, Reason: err.Error()}
			return err
		}
		for k, v := range resolved {
			env[k] = v
		}
	}
	e.lastCredentials = credentials

	var c child
	var err error
	switch e.Config.Deployment.Kind {
	case DeploymentProcess:
		c, err = startProcess(ctx, e.Config.Deployment.Command, e.Config.Deployment.Args, env)
	case DeploymentContainer:
		c, err = startContainer(ctx, contextID, serverID, e.Config.Deployment, env)
	case DeploymentRemote:
		c = newRemoteChild(e.Config.Deployment.Endpoint)
	default:
		err = fmt.Errorf("unknown deployment kind %q", e.Config.Deployment.Kind)
	}
	if err != nil {
		e.status = Status{Kind: StatusFailed, Reason: err.Error()}
		return err
	}
	e.handle = c

	if _, _, err := c.Call("initialize", map[string]any{}); err != nil {
		e.status = Status{Kind: StatusFailed, Reason: err.Error()}
		_ = c.Close()
		e.handle = nil
		return err
	}

	result, rpcErr, err := c.Call("tools/list", map[string]any{})
	if err != nil || rpcErr != nil {
		reason := errString(err, rpcErr)
		e.status = Status{Kind: StatusFailed, Reason: reason}
		_ = c.Close()
		e.handle = nil
		return errors.New(reason)
	}

	var listed struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(result, &listed); err != nil {
		e.status = Status{Kind: StatusFailed, Reason: err.Error()}
		_ = c.Close()
		e.handle = nil
		return err
	}
	e.tools = listed.Tools
	e.status = Status{Kind: StatusConnected}
	e.lastHealthCheck = time.Now()

	log.Info().Str("contextId", contextID).Str("serverId", serverID).
		Int("tools", len(e.tools)).Msg("sub-server connected")
	return nil
}

// Disconnect tears an entry's handle down and resets it to Disconnected.
// Idempotent: calling it on an already-Disconnected entry is a no-op.
func (s *Supervisor) Disconnect(contextID, serverID string) error {
	e, ok := s.get(contextID, serverID)
	if !ok {
		return ErrServerNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.Kind == StatusDisconnected {
		return nil
	}
	if e.handle != nil {
		_ = e.handle.Close()
		e.handle = nil
	}
	e.tools = nil
	e.status = Status{Kind: StatusDisconnected}
	return nil
}

// resolveServerID implements the toolName -> serverID resolution rule:
// a dotted "serverId.toolName" name disambiguates directly; a bare name
// resolves to the first sub-server, in List order, whose cached tools
// include it, or fails with ErrToolNotFound — never a sub-server that
// does not advertise the tool.
func (s *Supervisor) resolveServerID(contextID, toolName string) (serverID, bareToolName string, err error) {
	if idx := strings.IndexByte(toolName, '.'); idx >= 0 {
		return toolName[:idx], toolName[idx+1:], nil
	}

	for _, e := range s.List(contextID) {
		e.mu.Lock()
		for _, t := range e.tools {
			if t.Name == toolName {
				e.mu.Unlock()
				return e.ServerID, toolName, nil
			}
		}
		e.mu.Unlock()
	}
	return "", "", ErrToolNotFound
}

// ExecuteTool forwards a tools/call to the sub-server that advertises
// toolName (resolved per resolveServerID), requiring the entry be
// Connected and the tool present in its cached advertisement.
func (s *Supervisor) ExecuteTool(contextID, toolName string, arguments json.RawMessage) (json.RawMessage, error) {
	serverID, bareName, err := s.resolveServerID(contextID, toolName)
	if err != nil {
		return nil, err
	}

	e, ok := s.get(contextID, serverID)
	if !ok {
		return nil, ErrServerNotFound
	}

	e.mu.Lock()
	if e.status.Kind != StatusConnected {
		e.mu.Unlock()
		return nil, ErrServerNotConnected
	}
	found := false
	for _, t := range e.tools {
		if t.Name == bareName {
			found = true
			break
		}
	}
	h := e.handle
	e.mu.Unlock()

	if !found {
		return nil, ErrToolNotFound
	}

	result, rpcErr, err := h.Call("tools/call", map[string]any{
		"name":      bareName,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}
	if rpcErr != nil {
		return nil, &RemoteError{Raw: *rpcErr}
	}
	return result, nil
}

// StartHealthChecks launches a single goroutine that, once a second,
// probes the liveness of every Connected entry whose
// Config.HealthCheckIntervalS (30s when unset) has elapsed since its last
// check, transitioning it to Failed when the probe fails and optionally
// auto-reconnecting with exponential backoff.
func (s *Supervisor) StartHealthChecks() {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.checkAllDue()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Supervisor) checkAllDue() {
	now := time.Now()
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		interval := time.Duration(e.Config.HealthCheckIntervalS) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		due := e.status.Kind == StatusConnected && now.Sub(e.lastHealthCheck) >= interval
		h := e.handle
		autoReconnect := e.Config.AutoReconnect
		lastCreds := e.lastCredentials
		e.mu.Unlock()

		if !due {
			continue
		}

		alive := h != nil && h.Alive()

		e.mu.Lock()
		e.lastHealthCheck = now
		if !alive {
			e.status = Status{Kind: StatusFailed, Reason: "health check failed"}
			if e.handle != nil {
				_ = e.handle.Close()
				e.handle = nil
			}
		}
		e.mu.Unlock()

		if !alive && autoReconnect {
			s.reconnectWithBackoff(e, lastCreds)
		}
	}
}

// reconnectWithBackoff retries Connect with exponential backoff until one
// attempt succeeds or 30 seconds have elapsed. If every attempt fails the
// entry stays Failed; later health ticks only probe Connected entries, so
// no further reconnect is attempted for it.
func (s *Supervisor) reconnectWithBackoff(e *Entry, credentials map[string]string) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		return s.Connect(context.Background(), e.ContextID, e.ServerID, credentials)
	}, policy)
	if err != nil {
		log.Warn().Str("contextId", e.ContextID).Str("serverId", e.ServerID).
			Err(err).Msg("sub-server auto-reconnect failed")
	}
}

func (s *Supervisor) snapshotEntries() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Shutdown disconnects every Connected entry, per the process-shutdown
// ownership rule: every connected entry receives a disconnect call before
// the process exits.
func (s *Supervisor) Shutdown() {
	s.once.Do(func() { close(s.stop) })
	for _, e := range s.snapshotEntries() {
		e.mu.Lock()
		connected := e.status.Kind == StatusConnected
		e.mu.Unlock()
		if connected {
			_ = s.Disconnect(e.ContextID, e.ServerID)
		}
	}
}

func errString(err error, rpcErr *json.RawMessage) string {
	if err != nil {
		return err.Error()
	}
	if rpcErr != nil {
		return string(*rpcErr)
	}
	return "unknown error"
}
