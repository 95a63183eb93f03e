package mcp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/m-mizutani/memoria/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	PathSSE        = "/runtime/webhooks/mcp/sse"
	PathStreamable = "/mcp"
	PathHealth     = "/health"
)

// NewHandler serves MCP over SSE and streamable HTTP, plus info and health endpoints
func NewHandler(s *Server) http.Handler {
	server := s.MCPServer()
	getServer := func(*http.Request) *mcp.Server { return server }

	mux := http.NewServeMux()
	mux.Handle(PathSSE, mcp.NewSSEHandler(getServer, nil))
	mux.Handle(PathStreamable, mcp.NewStreamableHTTPHandler(getServer, nil))

	mux.HandleFunc("GET "+PathHealth, func(w http.ResponseWriter, r *http.Request) {
		stores := s.Health(r.Context())
		status := "healthy"
		for _, ok := range stores {
			if !ok {
				status = "degraded"
			}
		}
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC(),
			"stores":    stores,
		})
	})

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
			"endpoints": map[string]string{
				"sse":        PathSSE,
				"streamable": PathStreamable,
				"health":     PathHealth,
			},
			"gemini_enabled": s.gemini != nil,
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.From(r.Context()).Error("failed to write response", "error", err, "path", r.URL.Path)
	}
}
