package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/ai"
	"github.com/onnwee/slashbot/format"
	"github.com/onnwee/slashbot/telemetry"
)

const defaultAITimeout = 2 * time.Minute

func aiCommand(s Services) Command {
	return Command{
		Name:        "ai",
		Description: "Chat dengan AI menggunakan model Gemma 3",
		Options:     []*discordgo.ApplicationCommandOption{stringOption("pesan", "Pesan yang ingin dikirim ke AI")},
		Handler: func(ctx context.Context, inv *Invocation) Response {
			msg := inv.Option("pesan")
			if msg == "" {
				return Response{Content: "❌ Harap masukkan pesan untuk AI!"}
			}
			if s.AI == nil {
				return Response{Content: "❌ **AI Error:** " + ai.ErrUnavailable.Error()}
			}
			if wait, limited := aiLimited(ctx, s, inv.UserID); limited {
				return Response{
					Content:   fmt.Sprintf("⏳ Terlalu banyak permintaan ke AI, coba lagi dalam %d detik.", int(wait.Round(time.Second).Seconds())),
					Ephemeral: true,
				}
			}
			return Response{
				Content: fmt.Sprintf("🤖 Sedang memproses pertanyaan: **%s**", format.Truncate(msg, 100)),
				Then: func(ctx context.Context, f Followup) {
					answerAI(ctx, s, inv.UserID, msg, f)
				},
			}
		},
	}
}

// aiLimited consumes one request from the user's budget and reports whether
// the budget was already exhausted. Limiter failures never block the command.
func aiLimited(ctx context.Context, s Services, userID string) (time.Duration, bool) {
	if s.AILimiter == nil || userID == "" {
		return 0, false
	}
	lc, err := s.AILimiter.Get(ctx, "ai:"+userID)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("ai rate limiter unavailable", slog.Any("err", err))
		return 0, false
	}
	if !lc.Reached {
		return 0, false
	}
	wait := time.Until(time.Unix(lc.Reset, 0))
	if wait < time.Second {
		wait = time.Second
	}
	return wait, true
}

// answerAI runs the completion pipeline: complete, normalize, chunk, deliver.
func answerAI(ctx context.Context, s Services, userID, msg string, f Followup) {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "ai_command"), slog.String("provider", s.AI.Name()))
	timeout := s.AITimeout
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	completeCtx, cancel := context.WithTimeout(ctx, timeout)
	out, err := s.AI.Complete(completeCtx, s.AI.FormatPrompt(msg, s.SystemPrompt))
	cancel()
	if err != nil {
		log.Error("ai completion failed", slog.Any("err", err))
		sendOrLog(ctx, f, "❌ **AI Error:** "+aiErrorMessage(err))
		return
	}

	segments := format.Chunk(format.Normalize(out), s.ChunkMax)
	if len(segments) == 0 {
		sendOrLog(ctx, f, "❌ **AI Error:** "+ai.ErrEmptyResponse.Error())
		return
	}
	header := fmt.Sprintf("🤖 **AI Response untuk <@%s>:**", userID)
	if err := Deliver(ctx, f, header, segments); err != nil {
		log.Error("ai response delivery failed", slog.Any("err", err))
		return
	}
	log.Info("ai response delivered", slog.Int("segments", len(segments)))
}

func aiErrorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Request timeout"
	case errors.Is(err, ai.ErrUnavailable), errors.Is(err, ai.ErrEmptyResponse):
		return err.Error()
	}
	var httpErr *ai.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Error()
	}
	return "Terjadi error pada AI"
}

func sendOrLog(ctx context.Context, f Followup, content string) {
	if err := f.Send(ctx, content); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("followup send failed", slog.Any("err", err))
	}
}
