// Package stdio implements the newline-delimited JSON-RPC framing loop:
// read one line from stdin, dispatch it, and write its response to stdout,
// strictly sequentially on a single task. Grounded on
// original_source/mcp-rust/src/mcp.rs's MCPServer::run(), which processes
// one record at a time with no concurrent in-flight requests on the
// primary stream — the concurrency in this system comes from the
// rate-limiter's per-bucket work and from sub-server child processes, not
// from overlapping dispatch of the stream itself. The bufio.Scanner with
// an enlarged token buffer is the Go idiom for that same read loop, taken
// from brennhill-gasoline-mcp-ai-devtools/cmd/dev-console/bridge.go's
// bridgeStdioToHTTP.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/router"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/subserver"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// maxLineBytes bounds a single JSON-RPC record. A longer record is not
// truncated, and no response is written for it: the scanner stops, and Run
// treats it as a stdin read error (drain, teardown, exit code 1).
const maxLineBytes = 10 * 1024 * 1024

// drainPollInterval and drainDeadline govern the shutdown drain: after
// stdin reaches EOF, the loop waits for any work still outstanding in a
// sub-server call before tearing sub-servers down, polling the
// directory's summed active-request count rather than a local WaitGroup,
// since by construction the read loop itself holds no request open past
// the line that spawned it.
const (
	drainPollInterval = 50 * time.Millisecond
	drainDeadline     = 5 * time.Second
)

// Loop owns the read-dispatch-write cycle over a pair of streams.
type Loop struct {
	Router     *router.Router
	Directory  *tenant.Directory
	Supervisor *subserver.Supervisor
	Logger     zerolog.Logger

	In  io.Reader
	Out io.Writer
}

// Run reads newline-delimited JSON-RPC records from l.In until EOF or a
// read error, parsing, dispatching, and writing each one's response in
// turn before reading the next line — so for any R1 received before R2,
// R1's response is always written before R2's — then drains any work
// still outstanding in a sub-server call and tears sub-servers down
// before returning. The return value is the process exit code: 0 for a
// clean EOF, 1 for a stdin read error.
func (l *Loop) Run(ctx context.Context) int {
	scanner := bufio.NewScanner(l.In)
	buf := make([]byte, maxLineBytes)
	scanner.Buffer(buf, maxLineBytes)

	exitCode := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		l.handleLine(ctx, line)
	}

	if err := scanner.Err(); err != nil {
		l.Logger.Error().Err(err).Msg("stdin read error")
		exitCode = 1
	}

	l.drain()

	if l.Supervisor != nil {
		l.Supervisor.Shutdown()
	}

	return exitCode
}

func (l *Loop) handleLine(ctx context.Context, line []byte) {
	resp := l.Router.HandleLine(ctx, line)
	if resp == nil {
		return // notification: no response is written
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		l.Logger.Error().Err(err).Msg("failed to encode response")
		return
	}

	fmt.Fprintf(l.Out, "%s\n", encoded)
	if f, ok := l.Out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// drain polls the tenant directory's summed active-request count up to
// drainDeadline before returning, so a request dispatched on the final
// line of input gets a chance to finish a sub-server round trip before
// Shutdown tears that sub-server down.
func (l *Loop) drain() {
	if l.Directory == nil {
		return
	}

	deadline := time.Now().Add(drainDeadline)
	for time.Now().Before(deadline) {
		if l.Directory.SumActiveRequests() == 0 {
			return
		}
		time.Sleep(drainPollInterval)
	}
	l.Logger.Warn().Msg("drain deadline reached with active requests still outstanding")
}
