// Package gateway runs the Discord websocket session: it registers the slash
// commands on Ready, dispatches InteractionCreate events through the bot
// dispatcher, and joins or leaves voice channels for the music player.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/telemetry"
)

// Intents requested on identify.
const Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent | discordgo.IntentGuildVoiceStates

// followupTimeout bounds the asynchronous part of a command (AI answers can be slow).
const followupTimeout = 3 * time.Minute

// Gateway wraps a discordgo session.
type Gateway struct {
	session *discordgo.Session
	appID   string
	guildID string // commands are registered per guild when set, globally otherwise

	registry   *bot.Registry
	dispatcher *bot.Dispatcher

	// REST calls used by Ready handling, replaced in tests.
	overwrite   func(ctx context.Context, appID, guildID string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error)
	channels    func(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	permissions func(ctx context.Context, userID, channelID string) (int64, error)

	mu    sync.Mutex
	ready bool
	wg    sync.WaitGroup
}

// New creates a session for token without connecting. appID may be empty; it
// is then learned from the Ready event.
func New(token, appID, guildID string, registry *bot.Registry) (*Gateway, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	g := &Gateway{session: s, appID: appID, guildID: guildID, registry: registry}
	g.overwrite = func(ctx context.Context, appID, guildID string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
		return s.ApplicationCommandBulkOverwrite(appID, guildID, cmds, discordgo.WithContext(ctx))
	}
	g.channels = func(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
		return s.GuildChannels(guildID, discordgo.WithContext(ctx))
	}
	g.permissions = func(ctx context.Context, userID, channelID string) (int64, error) {
		return s.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	}
	return g, nil
}

// Session exposes the underlying session, e.g. for follow-ups on HTTP interactions.
func (g *Gateway) Session() *discordgo.Session { return g.session }

// Open connects to the gateway and starts routing interactions to d.
func (g *Gateway) Open(ctx context.Context, d *bot.Dispatcher) error {
	g.dispatcher = d
	g.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) { g.onReady(ctx, r) })
	g.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) { g.onInteraction(ctx, i.Interaction) })
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	return nil
}

// Close waits for running follow-ups and disconnects.
func (g *Gateway) Close() error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Warn("gateway close: follow-ups still running", slog.String("component", "gateway"))
	}
	return g.session.Close()
}

// Ready reports whether the Ready event was received.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// SyncCommands bulk-overwrites the registered slash commands and returns how
// many Discord accepted. It only needs REST, so it works before Open.
func (g *Gateway) SyncCommands(ctx context.Context) (int, error) {
	g.mu.Lock()
	appID := g.appID
	g.mu.Unlock()
	if appID == "" {
		return 0, errors.New("application id unknown: set DISCORD_APP_ID or wait for Ready")
	}
	defs := g.registry.ApplicationCommands()
	created, err := g.overwrite(ctx, appID, g.guildID, defs)
	if err != nil {
		return 0, fmt.Errorf("register slash commands: %w", err)
	}
	for _, c := range created {
		slog.Debug("slash command registered", slog.String("command", c.Name), slog.String("component", "gateway"))
	}
	return len(created), nil
}

func (g *Gateway) onReady(ctx context.Context, r *discordgo.Ready) {
	log := slog.Default().With(slog.String("component", "gateway"))
	g.mu.Lock()
	g.ready = true
	if g.appID == "" && r.Application != nil {
		g.appID = r.Application.ID
	}
	g.mu.Unlock()
	if r.User != nil {
		log.Info("logged in", slog.String("user", r.User.String()))
	}

	n, err := g.SyncCommands(ctx)
	if err != nil {
		log.Error("failed to register slash commands", slog.Any("err", err))
	} else {
		log.Info(fmt.Sprintf("Total %d slash commands terdaftar", n))
	}

	if r.User == nil {
		return
	}
	for _, guild := range r.Guilds {
		ok, err := g.canPost(ctx, r.User.ID, guild.ID)
		if err != nil {
			log.Warn("guild check failed", slog.String("guild_id", guild.ID), slog.Any("err", err))
			continue
		}
		if ok {
			log.Info("Bot siap di server "+g.guildName(guild), slog.String("guild_id", guild.ID))
		}
	}
}

// canPost reports whether the bot can send messages in at least one text channel of guildID.
func (g *Gateway) canPost(ctx context.Context, userID, guildID string) (bool, error) {
	chans, err := g.channels(ctx, guildID)
	if err != nil {
		return false, err
	}
	for _, ch := range chans {
		if ch == nil || ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		perms, err := g.permissions(ctx, userID, ch.ID)
		if err != nil {
			continue
		}
		if perms&discordgo.PermissionSendMessages != 0 {
			return true, nil
		}
	}
	return false, nil
}

func (g *Gateway) guildName(guild *discordgo.Guild) string {
	if guild.Name != "" {
		return guild.Name
	}
	if g.session.State != nil {
		if st, err := g.session.State.Guild(guild.ID); err == nil && st.Name != "" {
			return st.Name
		}
	}
	return guild.ID
}

func (g *Gateway) onInteraction(ctx context.Context, i *discordgo.Interaction) {
	if g.dispatcher == nil || i == nil {
		return
	}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "gateway"), slog.String("interaction_id", i.ID))
	resp, then, err := g.dispatcher.Dispatch(ctx, i)
	if err != nil {
		log.Warn("interaction not handled", slog.Any("err", err))
		return
	}
	if err := g.session.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		log.Error("interaction respond failed", slog.Any("err", err))
		return
	}
	if then == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), followupTimeout)
		defer cancel()
		then(fctx, bot.SessionFollowup{Session: g.session, Interaction: i})
	}()
}
