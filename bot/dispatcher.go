package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/db"
	"github.com/onnwee/slashbot/telemetry"
)

// ErrUnknownInteraction is returned for interaction types other than PING and
// APPLICATION_COMMAND.
var ErrUnknownInteraction = errors.New("unknown interaction type")

const (
	msgHandlerError   = "❌ Terjadi error saat menjalankan command!"
	msgUnknownCommand = "❌ Command `%s` tidak dikenal!"
)

// Command statuses recorded in metrics and the command log.
const (
	StatusOK      = "ok"
	StatusUnknown = "unknown"
	StatusPanic   = "panic"
)

// VoiceLocator finds the voice channel a user is connected to.
type VoiceLocator interface {
	VoiceChannel(guildID, userID string) string
}

// FollowupFunc runs the asynchronous part of a command once the initial
// response has been sent.
type FollowupFunc func(ctx context.Context, f Followup)

// Dispatcher routes interactions to registered commands.
type Dispatcher struct {
	registry *Registry
	log      db.CommandLog
	voice    VoiceLocator
	now      func() time.Time
}

// NewDispatcher returns a dispatcher over r. log and voice may be nil.
func NewDispatcher(r *Registry, log db.CommandLog, voice VoiceLocator) *Dispatcher {
	return &Dispatcher{registry: r, log: log, voice: voice, now: time.Now}
}

// Registry returns the command table the dispatcher routes to.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch produces the initial response for i. A non-nil FollowupFunc must be
// run by the caller after the response was delivered to Discord.
func (d *Dispatcher) Dispatch(ctx context.Context, i *discordgo.Interaction) (*discordgo.InteractionResponse, FollowupFunc, error) {
	if i == nil {
		return nil, nil, ErrUnknownInteraction
	}
	switch i.Type {
	case discordgo.InteractionPing:
		return &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong}, nil, nil
	case discordgo.InteractionApplicationCommand:
		return d.command(ctx, i)
	default:
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownInteraction, i.Type)
	}
}

func (d *Dispatcher) command(ctx context.Context, i *discordgo.Interaction) (*discordgo.InteractionResponse, FollowupFunc, error) {
	start := d.now()
	inv := d.invocation(i, start)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("command", inv.Command), slog.String("user_id", inv.UserID), slog.String("component", "dispatcher"))

	ctx, span := telemetry.StartSpan(ctx, "bot", "command "+inv.Command, telemetry.CommandAttr(inv.Command))
	defer span.End()

	cmd, ok := d.registry.Lookup(inv.Command)
	if !ok {
		log.Warn("unknown command")
		d.finish(ctx, inv, StatusUnknown, start)
		return message(fmt.Sprintf(msgUnknownCommand, inv.Command), false), nil, nil
	}

	res, panicked := d.run(ctx, cmd, inv)
	if panicked {
		telemetry.RecordError(span, fmt.Errorf("command %s panicked", inv.Command))
		d.finish(ctx, inv, StatusPanic, start)
		return message(msgHandlerError, false), nil, nil
	}
	telemetry.SetSpanSuccess(span)
	d.finish(ctx, inv, StatusOK, start)

	var resp *discordgo.InteractionResponse
	if res.Deferred {
		resp = &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
		if res.Ephemeral {
			resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
		}
	} else {
		resp = message(res.Content, res.Ephemeral)
	}
	if res.Then == nil {
		return resp, nil, nil
	}
	return resp, d.followup(inv, res.Then), nil
}

// run calls the handler and converts a panic into a flag.
func (d *Dispatcher) run(ctx context.Context, cmd Command, inv *Invocation) (res Response, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.LoggerWithCorr(ctx).Error("command handler panicked",
				slog.String("command", inv.Command), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			panicked = true
		}
	}()
	return cmd.Handler(ctx, inv), false
}

func (d *Dispatcher) followup(inv *Invocation, then func(context.Context, Followup)) FollowupFunc {
	return func(ctx context.Context, f Followup) {
		ctx, span := telemetry.StartSpan(ctx, "bot", "followup "+inv.Command, telemetry.CommandAttr(inv.Command))
		defer span.End()
		defer func() {
			if r := recover(); r != nil {
				telemetry.LoggerWithCorr(ctx).Error("command follow-up panicked", slog.String("command", inv.Command), slog.Any("panic", r))
				telemetry.RecordError(span, fmt.Errorf("follow-up %s panicked", inv.Command))
				if err := f.Send(ctx, msgHandlerError); err != nil {
					slog.Warn("failed to report follow-up panic", slog.Any("err", err))
				}
			}
		}()
		then(ctx, f)
	}
}

func (d *Dispatcher) finish(ctx context.Context, inv *Invocation, status string, start time.Time) {
	elapsed := d.now().Sub(start)
	telemetry.RecordCommand(inv.Command, status, elapsed)
	telemetry.LoggerWithCorr(ctx).Info("command dispatched",
		slog.String("command", inv.Command), slog.String("status", status), slog.Duration("latency", elapsed))
	if d.log == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	err := d.log.Record(recCtx, db.Entry{
		Command: inv.Command,
		UserID:  inv.UserID,
		GuildID: inv.GuildID,
		Status:  status,
		Latency: elapsed,
	})
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to record command", slog.Any("err", err))
	}
}

func (d *Dispatcher) invocation(i *discordgo.Interaction, now time.Time) *Invocation {
	data, _ := i.Data.(discordgo.ApplicationCommandInteractionData)
	inv := &Invocation{
		Interaction: i,
		Command:     data.Name,
		Options:     make(map[string]string, len(data.Options)),
		GuildID:     i.GuildID,
		ChannelID:   i.ChannelID,
		ReceivedAt:  now,
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		inv.UserID = i.Member.User.ID
	case i.User != nil:
		inv.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		if opt == nil {
			continue
		}
		if opt.Type == discordgo.ApplicationCommandOptionString {
			inv.Options[opt.Name] = opt.StringValue()
		} else {
			inv.Options[opt.Name] = fmt.Sprint(opt.Value)
		}
	}
	if d.voice != nil && inv.GuildID != "" && inv.UserID != "" {
		inv.VoiceChannelID = d.voice.VoiceChannel(inv.GuildID, inv.UserID)
	}
	return inv
}

func message(content string, ephemeral bool) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{Content: content}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}
