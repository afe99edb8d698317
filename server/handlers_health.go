package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/onnwee/slashbot/db"
)

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with dependency checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"ai", func(ctx context.Context) error {
			if h.deps.AI == nil {
				return nil
			}
			if !h.deps.AI.Healthy(ctx) {
				return errors.New(h.deps.AI.Name() + " backend unhealthy")
			}
			return nil
		}},
		{"command_log", func(ctx context.Context) error {
			if h.deps.Log == nil {
				return nil
			}
			return h.deps.Log.Ping(ctx)
		}},
	}

	for _, check := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := check.fn(ctx)
		cancel()
		if err != nil {
			// Set headers before writing status code
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleCallback answers the OAuth redirect target configured in the Discord portal.
func (h *Handlers) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "data": "callback ready"})
}

type statusResponse struct {
	Version      string         `json:"version,omitempty"`
	Commands     []string       `json:"commands"`
	AIProvider   string         `json:"ai_provider,omitempty"`
	AIHealthy    bool           `json:"ai_healthy"`
	GatewayReady bool           `json:"gateway_ready"`
	CommandCount map[string]int `json:"command_counts,omitempty"`
	Recent       []db.Entry     `json:"recent"`
}

// HandleStatus reports registered commands, backend health and the latest
// dispatches. ?limit= bounds the recent list (default 20, max 200).
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	out := statusResponse{Version: h.deps.Version, Recent: []db.Entry{}}
	for _, c := range h.deps.Dispatcher.Registry().Commands() {
		out.Commands = append(out.Commands, c.Name)
	}
	if h.deps.AI != nil {
		out.AIProvider = h.deps.AI.Name()
		out.AIHealthy = h.deps.AI.Healthy(ctx)
	}
	if h.deps.GatewayReady != nil {
		out.GatewayReady = h.deps.GatewayReady()
	}
	if h.deps.Log != nil {
		limit := parseIntQuery(r, "limit", 20)
		if limit <= 0 || limit > 200 {
			limit = 20
		}
		if recent, err := h.deps.Log.Recent(ctx, limit); err == nil && recent != nil {
			out.Recent = recent
		}
		if counts, err := h.deps.Log.Counts(ctx); err == nil {
			out.CommandCount = counts
		}
	}
	writeJSON(w, http.StatusOK, out)
}
