// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/ai"
	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/db"
)

// CommandSyncer re-registers the slash commands with Discord.
type CommandSyncer interface {
	SyncCommands(ctx context.Context) (int, error)
}

// Deps are the collaborators the HTTP surface needs. Only Dispatcher is required.
type Deps struct {
	Dispatcher *bot.Dispatcher
	PublicKey  ed25519.PublicKey // empty disables POST /interactions
	// Followups builds the follow-up sender for an HTTP interaction.
	Followups      func(i *discordgo.Interaction) bot.Followup
	AI             ai.Completer
	Log            db.CommandLog
	Syncer         CommandSyncer
	GatewayReady   func() bool
	AdminRateLimit string // formatted rate, default 10-M
	Version        string
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
	ctx  context.Context // server lifetime; cancels follow-ups on shutdown

	// follow-ups started by HTTP interactions; they outlive the request
	wg sync.WaitGroup
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Handlers{deps: deps, ctx: ctx}
}

// Wait blocks until all follow-ups started by HTTP interactions finished.
func (h *Handlers) Wait() { h.wg.Wait() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
