// Package dashboard serves a read-only JSON view of a running relay: the
// connected tools, recent trace events and the transcript store.
package dashboard

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/user/mcp-tool-relay/logging"
	"github.com/user/mcp-tool-relay/relay"
	"github.com/user/mcp-tool-relay/session"
	"github.com/user/mcp-tool-relay/store"
)

// Server is the status HTTP server. Any source may be nil; its endpoint
// then reports an empty result.
type Server struct {
	listenAddr string
	httpServer *http.Server
	listener   net.Listener

	tools   *session.ToolRegistry
	trace   *relay.TraceRecorder
	store   *store.Store
	version string
	logger  *logging.Logger
}

func NewDashboardServer(
	listenAddr string,
	tools *session.ToolRegistry,
	trace *relay.TraceRecorder,
	st *store.Store,
	version string,
	logger *logging.Logger,
) *Server {
	ds := &Server{
		listenAddr: listenAddr,
		tools:      tools,
		trace:      trace,
		store:      st,
		version:    version,
		logger:     logger.With("dashboard"),
	}

	ds.httpServer = &http.Server{
		Addr:    listenAddr,
		Handler: ds.Handler(),
	}
	return ds
}

// Handler returns the routed API.
func (ds *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", ds.handleHealthAPI)
	mux.HandleFunc("/api/tools", ds.handleToolsAPI)
	mux.HandleFunc("/api/trace", ds.handleTraceAPI)
	mux.HandleFunc("/api/transcripts", ds.handleTranscriptsAPI)
	mux.HandleFunc("/api/stats", ds.handleStatsAPI)
	return mux
}

// Start listens and serves in the background.
func (ds *Server) Start() error {
	listener, err := net.Listen("tcp", ds.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", ds.listenAddr, err)
	}

	ds.listener = listener
	ds.logger.Info("dashboard server started on http://%s", listener.Addr())

	go func() {
		if err := ds.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			ds.logger.Error("dashboard server error: %v", err)
		}
	}()

	return nil
}

// Addr is the bound address, valid after Start.
func (ds *Server) Addr() string {
	if ds.listener == nil {
		return ds.listenAddr
	}
	return ds.listener.Addr().String()
}

func (ds *Server) Stop() error {
	if ds.httpServer != nil {
		return ds.httpServer.Close()
	}
	return nil
}

func (ds *Server) handleHealthAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, map[string]interface{}{
		"status":  "ok",
		"version": ds.version,
	})
}

func (ds *Server) handleToolsAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	tools := []session.Tool{}
	if ds.tools != nil {
		tools = ds.tools.List()
	}
	writeJSON(w, map[string]interface{}{
		"count": len(tools),
		"tools": tools,
	})
}

func (ds *Server) handleTraceAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	events := ds.trace.List()
	if events == nil {
		events = []relay.TraceEvent{}
	}
	writeJSON(w, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (ds *Server) handleTranscriptsAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	transcripts := []store.Transcript{}
	if ds.store != nil {
		recent, err := ds.store.Recent(limit)
		if err != nil {
			ds.logger.Error("failed to load transcripts: %v", err)
			http.Error(w, "failed to load transcripts", http.StatusInternalServerError)
			return
		}
		transcripts = append(transcripts, recent...)
	}
	writeJSON(w, map[string]interface{}{
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

func (ds *Server) handleStatsAPI(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	counts := []store.ToolCallCount{}
	if ds.store != nil {
		c, err := ds.store.ToolCallCounts()
		if err != nil {
			ds.logger.Error("failed to load tool call counts: %v", err)
			http.Error(w, "failed to load stats", http.StatusInternalServerError)
			return
		}
		counts = append(counts, c...)
	}
	writeJSON(w, map[string]interface{}{
		"tool_calls": counts,
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
