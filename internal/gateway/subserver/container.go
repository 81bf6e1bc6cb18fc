package subserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// containerChild drives a detached container started via the host's
// `docker` binary, matching original_source/mcp-rust/src/registry.rs's
// Docker deployment: `docker run -d --rm --name mcp-{context}-{server}
// [--runtime][--network][-p host:container]... [-v host:container]...
// [-e KEY=VALUE]... image:tag`, reading the container id back from
// stdout. Since a detached container has no stdio pipe this process can
// hold onto, the JSON-RPC dialect is spoken over the endpoint from its
// first published port, the same way the Remote deployment speaks HTTP.
type containerChild struct {
	name        string
	containerID string
	endpoint    string
	httpClient  *http.Client

	mu      sync.Mutex
	nextID  uint64
	stopped bool
}

func startContainer(ctx context.Context, contextID, serverID string, d Deployment, env map[string]string) (*containerChild, error) {
	name := containerName(contextID, serverID)

	args := []string{"run", "-d", "--rm", "--name", name}
	if d.Runtime != "" {
		args = append(args, "--runtime", d.Runtime)
	}
	if d.Network != "" {
		args = append(args, "--network", d.Network)
	}
	for _, p := range d.Ports {
		args = append(args, "-p", p)
	}
	for _, v := range d.Volumes {
		args = append(args, "-v", v)
	}
	for k, v := range env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	image := d.Image
	if d.Tag != "" {
		image = image + ":" + d.Tag
	}
	args = append(args, image)

	cmd := exec.CommandContext(ctx, "docker", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run failed: %w", err)
	}
	containerID := strings.TrimSpace(out.String())

	endpoint := ""
	if len(d.Ports) > 0 {
		hostPort := strings.SplitN(d.Ports[0], ":", 2)[0]
		endpoint = "http://localhost:" + hostPort
	}

	return &containerChild{
		name:        name,
		containerID: containerID,
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *containerChild) Call(method string, params any) (json.RawMessage, *json.RawMessage, error) {
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

// Alive probes the container's liveness with `docker inspect`, matching
// registry.rs's container-liveness probe (the stdio/process deployment
// instead reads the child process's exit status non-blocking).
func (c *containerChild) Alive() bool {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return false
	}
	cmd := exec.Command("docker", "inspect", "-f", "{{.State.Running}}", c.containerID)
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	running, _ := strconv.ParseBool(strings.TrimSpace(string(out)))
	return running
}

func (c *containerChild) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	cmd := exec.Command("docker", "stop", c.name)
	return cmd.Run()
}
