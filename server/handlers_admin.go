package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/slashbot/telemetry"
)

// HandleAdminCommandSync re-registers all slash commands with Discord.
func (h *Handlers) HandleAdminCommandSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.deps.Syncer == nil {
		http.Error(w, "discord session not configured", http.StatusServiceUnavailable)
		return
	}
	n, err := h.deps.Syncer.SyncCommands(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("command sync failed", slog.Any("err", err), slog.String("component", "admin"))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("slash commands synced", slog.Int("count", n), slog.String("component", "admin"))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "registered": n})
}
