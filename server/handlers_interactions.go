package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/telemetry"
)

const (
	maxInteractionBody = 1 << 20
	followupTimeout    = 3 * time.Minute
)

// HandleInteractions receives Discord interactions over HTTP. The request
// signature is verified against the application public key before the body is
// parsed.
func (h *Handlers) HandleInteractions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "interactions"))
	if len(h.deps.PublicKey) != ed25519.PublicKeySize {
		http.Error(w, "interactions endpoint not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxInteractionBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if !discordgo.VerifyInteraction(r, h.deps.PublicKey) {
		log.Warn("invalid interaction signature", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var i discordgo.Interaction
	if err := json.Unmarshal(body, &i); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid interaction payload"})
		return
	}

	resp, then, err := h.deps.Dispatcher.Dispatch(r.Context(), &i)
	if errors.Is(err, bot.ErrUnknownInteraction) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unknown interaction type"})
		return
	}
	if err != nil {
		log.Error("dispatch failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)

	if then == nil || h.deps.Followups == nil {
		return
	}
	f := h.deps.Followups(&i)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), followupTimeout)
		defer cancel()
		// server shutdown cancels follow-ups still in flight
		stop := context.AfterFunc(h.ctx, cancel)
		defer stop()
		then(ctx, f)
	}()
}
