package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/bot"
)

func newTestGateway(t *testing.T, appID string) *Gateway {
	t.Helper()
	reg := bot.NewRegistry()
	if err := bot.RegisterBuiltins(reg, bot.Services{}); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	g, err := New("test-token", appID, "", reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New("", "app", "", bot.NewRegistry()); err == nil {
		t.Error("New() without token should fail")
	}
}

func TestNewSetsIntents(t *testing.T) {
	g := newTestGateway(t, "app")
	if g.Session().Identify.Intents != Intents {
		t.Errorf("intents = %v, want %v", g.Session().Identify.Intents, Intents)
	}
	if Intents&discordgo.IntentGuildVoiceStates == 0 {
		t.Error("voice state intent is required to locate the caller's channel")
	}
}

func TestSyncCommands(t *testing.T) {
	g := newTestGateway(t, "app")
	g.guildID = "g1"
	var gotApp, gotGuild string
	var gotCount int
	g.overwrite = func(_ context.Context, appID, guildID string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
		gotApp, gotGuild, gotCount = appID, guildID, len(cmds)
		return cmds, nil
	}
	n, err := g.SyncCommands(context.Background())
	if err != nil {
		t.Fatalf("SyncCommands() error = %v", err)
	}
	if n != 10 || gotCount != 10 || gotApp != "app" || gotGuild != "g1" {
		t.Errorf("synced n=%d count=%d app=%q guild=%q", n, gotCount, gotApp, gotGuild)
	}

	g.overwrite = func(context.Context, string, string, []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
		return nil, errors.New("401 unauthorized")
	}
	if _, err := g.SyncCommands(context.Background()); err == nil {
		t.Error("SyncCommands() should surface REST errors")
	}
}

func TestSyncCommandsNeedsAppID(t *testing.T) {
	g := newTestGateway(t, "")
	if _, err := g.SyncCommands(context.Background()); err == nil {
		t.Error("SyncCommands() without application id should fail")
	}
}

func TestReadyLearnsAppIDAndRegisters(t *testing.T) {
	g := newTestGateway(t, "")
	synced := 0
	g.overwrite = func(_ context.Context, appID, _ string, cmds []*discordgo.ApplicationCommand) ([]*discordgo.ApplicationCommand, error) {
		if appID != "from-ready" {
			t.Errorf("appID = %q, want from-ready", appID)
		}
		synced = len(cmds)
		return cmds, nil
	}
	g.channels = func(context.Context, string) ([]*discordgo.Channel, error) { return nil, nil }

	g.onReady(context.Background(), &discordgo.Ready{
		User:        &discordgo.User{ID: "bot", Username: "slashbot"},
		Application: &discordgo.Application{ID: "from-ready"},
		Guilds:      []*discordgo.Guild{{ID: "g1"}},
	})
	if !g.Ready() {
		t.Error("Ready() = false after Ready event")
	}
	if synced != 10 {
		t.Errorf("synced %d commands, want 10", synced)
	}
}

func TestCanPost(t *testing.T) {
	g := newTestGateway(t, "app")
	g.channels = func(_ context.Context, guildID string) ([]*discordgo.Channel, error) {
		switch guildID {
		case "ok":
			return []*discordgo.Channel{
				{ID: "voice", Type: discordgo.ChannelTypeGuildVoice},
				{ID: "muted", Type: discordgo.ChannelTypeGuildText},
				{ID: "general", Type: discordgo.ChannelTypeGuildText},
			}, nil
		case "readonly":
			return []*discordgo.Channel{{ID: "muted", Type: discordgo.ChannelTypeGuildText}}, nil
		}
		return nil, errors.New("missing access")
	}
	g.permissions = func(_ context.Context, _, channelID string) (int64, error) {
		if channelID == "general" || channelID == "voice" {
			return discordgo.PermissionSendMessages | discordgo.PermissionViewChannel, nil
		}
		return discordgo.PermissionViewChannel, nil
	}

	if ok, err := g.canPost(context.Background(), "bot", "ok"); err != nil || !ok {
		t.Errorf("canPost(ok) = %v, %v", ok, err)
	}
	if ok, _ := g.canPost(context.Background(), "bot", "readonly"); ok {
		t.Error("canPost(readonly) = true")
	}
	if _, err := g.canPost(context.Background(), "bot", "gone"); err == nil {
		t.Error("canPost(gone) should return the channel error")
	}
}

func TestVoiceChannelFromState(t *testing.T) {
	g := newTestGateway(t, "app")
	err := g.Session().State.GuildAdd(&discordgo.Guild{
		ID:          "g1",
		VoiceStates: []*discordgo.VoiceState{{GuildID: "g1", UserID: "u1", ChannelID: "vc1"}},
	})
	if err != nil {
		t.Fatalf("GuildAdd() error = %v", err)
	}
	if got := g.VoiceChannel("g1", "u1"); got != "vc1" {
		t.Errorf("VoiceChannel(u1) = %q, want vc1", got)
	}
	if got := g.VoiceChannel("g1", "u2"); got != "" {
		t.Errorf("VoiceChannel(u2) = %q, want empty", got)
	}
	if err := g.Leave(context.Background(), "g1"); err != nil {
		t.Errorf("Leave() without connection = %v", err)
	}
}
