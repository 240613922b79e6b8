// ABOUTME: Local HTTP endpoints for liveness, readiness, and a relay status snapshot
// ABOUTME: Readiness requires an open stream and a credential

package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chaos-relay/internal/relay"
)

// Snapshot is the JSON body of GET /status.
type Snapshot struct {
	AgentName     string              `json:"agent_name"`
	AgentID       string              `json:"agent_id,omitempty"`
	HasCredential bool                `json:"has_credential"`
	StreamState   string              `json:"stream_state"`
	StreamAttempt int64               `json:"stream_attempts"`
	QueueDepth    int                 `json:"queue_depth"`
	Pump          relay.PumpStats     `json:"pump"`
	Workflow      relay.WorkflowStats `json:"workflow"`
	Submissions   map[string]int      `json:"submissions,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	Uptime        string              `json:"uptime"`
}

// Ready reports whether the relay can both receive and submit.
func (s Snapshot) Ready() bool {
	return s.StreamState == "open" && s.HasCredential
}

// Source produces snapshots.
type Source interface {
	Snapshot(ctx context.Context) Snapshot
}

// Handler serves the status endpoints.
type Handler struct {
	source Source
	logger *slog.Logger
}

// NewHandler returns a mux with /health, /health/ready and /status.
func NewHandler(source Source, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{source: source, logger: logger.With("component", "status")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.HandleFunc("GET /status", h.handleStatus)
	return mux
}

// handleHealth returns 200 OK if the process is alive.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the stream is open and a credential is set.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(r.Context())
	if !snap.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready (stream %s, credential %t)", snap.StreamState, snap.HasCredential)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d queued)", snap.QueueDepth)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Warn("failed to write status", "error", err)
	}
}
