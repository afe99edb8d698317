// Command register overwrites the bot's slash commands with Discord and exits.
// Set DISCORD_GUILD_ID to register into a single guild (instant) instead of globally.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/config"
	"github.com/onnwee/slashbot/gateway"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateGateway(); err != nil {
		slog.Error("cannot register commands", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.AppID == "" {
		slog.Error("cannot register commands", slog.String("err", "missing discord env: require DISCORD_APP_ID"))
		os.Exit(1)
	}

	// Handlers never run here; only names, descriptions and options are sent.
	reg := bot.NewRegistry()
	if err := bot.RegisterBuiltins(reg, bot.Services{}); err != nil {
		slog.Error("command registration failed", slog.Any("err", err))
		os.Exit(1)
	}

	gw, err := gateway.New(cfg.DiscordToken, cfg.AppID, cfg.GuildID, reg)
	if err != nil {
		slog.Error("discord session init failed", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := gw.SyncCommands(ctx)
	if err != nil {
		slog.Error("command sync failed", slog.Any("err", err))
		os.Exit(1)
	}
	scope := "global"
	if cfg.GuildID != "" {
		scope = "guild " + cfg.GuildID
	}
	slog.Info("slash commands registered", slog.Int("count", n), slog.String("scope", scope))
}
