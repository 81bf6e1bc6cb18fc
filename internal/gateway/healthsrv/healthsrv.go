// Package healthsrv serves a small side HTTP mux for /healthz and
// /metricsz, separate from the stdio JSON-RPC transport, grounded on the
// teacher's internal/httpapi router's chi wiring (middleware.RequestID,
// middleware.Recoverer, and the plain /healthz handler in
// internal/httpapi/router.go), generalized here with a /metricsz endpoint
// that reports the tenant directory's live session count and summed
// active requests.
package healthsrv

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erauner/mcp-tenant-gateway/internal/gateway/subserver"
	"github.com/erauner/mcp-tenant-gateway/internal/gateway/tenant"
)

// Metrics reports the counters /metricsz exposes.
type Metrics struct {
	Directory  *tenant.Directory
	Supervisor *subserver.Supervisor
}

// New builds the side HTTP mux.
func New(m Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/metricsz", func(w http.ResponseWriter, req *http.Request) {
		sessions := m.Directory.ListSessions()
		activeRequests := m.Directory.SumActiveRequests()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionCount":   len(sessions),
			"activeRequests": activeRequests,
		})
	})

	return r
}
