package subserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// remoteChild speaks JSON-RPC over HTTP to a pre-existing endpoint; no
// process or container is started or owned. Liveness is probed with a
// lightweight "ping" call rather than any process inspection.
type remoteChild struct {
	endpoint   string
	httpClient *http.Client

	mu     sync.Mutex
	nextID uint64
}

func newRemoteChild(endpoint string) *remoteChild {
	return &remoteChild{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *remoteChild) Call(method string, params any) (json.RawMessage, *json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.mu.Unlock()

	req := rpcRequestFrame{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, err
	}

	resp, err := c.httpClient.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponseFrame
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, err
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func (c *remoteChild) Alive() bool {
	_, rpcErr, err := c.Call("ping", nil)
	return err == nil && rpcErr == nil
}

func (c *remoteChild) Close() error {
	return nil
}
