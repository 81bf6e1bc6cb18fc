// Package backend defines the StorageBackend contract the handler registry
// calls for persistence, blob I/O, events, and secrets, plus an in-memory
// implementation suitable for tests and single-process deployments.
package backend

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is a sentinel for an absent key. Nothing in this package
// returns it: the Get-style calls report absence through their bool
// result, which handlers translate to an "absent" result rather than a
// wire error.
var ErrNotFound = errors.New("backend: not found")

// StorageBackend is the abstract persistence contract built-in handlers are
// closures over. Implementations are free to be namespace-partitioned
// key-value stores, blob stores, event buses, or secret managers backed by
// any concrete technology; the core only ever sees this interface.
type StorageBackend interface {
	KVGet(ctx context.Context, namespace, key string) ([]byte, bool, error)
	KVSet(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	KVDelete(ctx context.Context, namespace, key string) error
	KVList(ctx context.Context, namespace, prefix string) ([]string, error)

	BlobGet(ctx context.Context, namespace, key string) ([]byte, bool, error)
	BlobPut(ctx context.Context, namespace, key string, data []byte, contentType string) error
	BlobList(ctx context.Context, namespace, prefix string) ([]string, error)

	EventPut(ctx context.Context, namespace, detailType string, detail []byte) error

	SecretGet(ctx context.Context, name string) (string, bool, error)
	SecretPut(ctx context.Context, name, value, description string) error
	SecretDelete(ctx context.Context, name string, forceNow bool) error
}

type kvEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// InMemory is a StorageBackend suitable for tests and single-process
// deployments: every namespace is an independent map, guarded by one
// reader-writer lock. It is not durable across restarts, matching the
// non-goal that session/backend state need not survive a restart.
type InMemory struct {
	mu      sync.RWMutex
	kv      map[string]map[string]kvEntry
	blobs   map[string]map[string][]byte
	blobCT  map[string]map[string]string
	secrets map[string]string
}

// NewInMemory constructs an empty in-memory backend.
func NewInMemory() *InMemory {
	return &InMemory{
		kv:      make(map[string]map[string]kvEntry),
		blobs:   make(map[string]map[string][]byte),
		blobCT:  make(map[string]map[string]string),
		secrets: make(map[string]string),
	}
}

func nsKey(namespace, key string) (string, string) { return namespace, key }

func (m *InMemory) KVGet(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.kv[namespace]
	if !ok {
		return nil, false, nil
	}
	entry, ok := ns[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *InMemory) KVSet(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, _ := nsKey(namespace, key)
	if m.kv[ns] == nil {
		m.kv[ns] = make(map[string]kvEntry)
	}
	entry := kvEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.kv[ns][key] = entry
	return nil
}

func (m *InMemory) KVDelete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.kv[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

func (m *InMemory) KVList(_ context.Context, namespace, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.kv[namespace]
	if !ok {
		return nil, nil
	}
	var out []string
	for k := range ns {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *InMemory) BlobGet(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.blobs[namespace]
	if !ok {
		return nil, false, nil
	}
	v, ok := ns[key]
	return v, ok, nil
}

func (m *InMemory) BlobPut(_ context.Context, namespace, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs[namespace] == nil {
		m.blobs[namespace] = make(map[string][]byte)
		m.blobCT[namespace] = make(map[string]string)
	}
	m.blobs[namespace][key] = data
	m.blobCT[namespace][key] = contentType
	return nil
}

func (m *InMemory) BlobList(_ context.Context, namespace, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.blobs[namespace]
	if !ok {
		return nil, nil
	}
	var out []string
	for k := range ns {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// EventPut records an event. The in-memory backend discards the payload
// after accepting it; a durable deployment swaps in an EventBridge- or
// queue-backed implementation without the handler layer changing.
func (m *InMemory) EventPut(_ context.Context, _ string, _ string, _ []byte) error {
	return nil
}

func (m *InMemory) SecretGet(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[name]
	return v, ok, nil
}

func (m *InMemory) SecretPut(_ context.Context, name, value, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = value
	return nil
}

func (m *InMemory) SecretDelete(_ context.Context, name string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, name)
	return nil
}
