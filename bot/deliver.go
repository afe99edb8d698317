package bot

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/format"
	"github.com/onnwee/slashbot/telemetry"
)

// discordMessageLimit is the hard per-message cap enforced by Discord.
const discordMessageLimit = 2000

// Followup posts a follow-up message for an interaction that was already acknowledged.
type Followup interface {
	Send(ctx context.Context, content string) error
}

// SessionFollowup sends follow-ups for one interaction through the webhook
// endpoint. It works for both gateway and HTTP interactions since only the
// application id and the interaction token are needed.
type SessionFollowup struct {
	Session     *discordgo.Session
	Interaction *discordgo.Interaction
}

func (f SessionFollowup) Send(ctx context.Context, content string) error {
	_, err := f.Session.FollowupMessageCreate(f.Interaction, true, &discordgo.WebhookParams{Content: content}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("followup: %w", err)
	}
	return nil
}

// Deliver posts segments as separate messages, strictly in order, and stops at
// the first failed send. A code block cut at a segment edge is closed and
// reopened in the next segment. The header is prepended to the first segment;
// every segment without its own fences is wrapped in a code block. When header plus first block would not fit
// in one Discord message the header is sent on its own first.
func Deliver(ctx context.Context, f Followup, header string, segments []string) error {
	segments = format.BalanceFences(segments)
	if len(segments) == 0 {
		return nil
	}
	log := telemetry.LoggerWithCorr(ctx)
	sent := 0
	defer func() { telemetry.AddSegmentsSent(sent) }()

	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return err
		}
		content := format.CodeBlock(seg)
		if i == 0 && header != "" {
			joined := header + "\n" + content
			if utf8.RuneCountInString(joined) <= discordMessageLimit {
				content = joined
			} else if err := f.Send(ctx, header); err != nil {
				return fmt.Errorf("send header: %w", err)
			}
		}
		if err := f.Send(ctx, content); err != nil {
			log.Warn("segment delivery failed", slog.Int("segment", i+1), slog.Int("total", len(segments)), slog.Any("err", err))
			return fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
		sent++
	}
	log.Debug("segments delivered", slog.Int("count", sent))
	return nil
}
