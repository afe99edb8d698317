// Command slashbot is the Discord slash-command bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Builds the AI completer, Spotify client, music searcher and player.
//   - Opens the Discord gateway (when DISCORD_TOKEN is set), registers the
//     slash commands on Ready and dispatches gateway interactions.
//   - Serves the HTTP interactions endpoint plus /healthz, /readyz, /status
//     and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/onnwee/slashbot/ai"
	"github.com/onnwee/slashbot/bot"
	"github.com/onnwee/slashbot/config"
	"github.com/onnwee/slashbot/db"
	"github.com/onnwee/slashbot/gateway"
	"github.com/onnwee/slashbot/music"
	"github.com/onnwee/slashbot/server"
	"github.com/onnwee/slashbot/spotifyapi"
	"github.com/onnwee/slashbot/telemetry"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("slashbot", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AI
	completer, err := ai.New(cfg)
	if err != nil {
		slog.Error("ai provider init failed", slog.Any("err", err))
		os.Exit(1)
	}
	if l, ok := completer.(*ai.LlamaCpp); ok {
		slog.Info("AI Service URL", slog.String("url", l.BaseURL()), slog.String("provider", completer.Name()))
	} else {
		slog.Info("AI provider", slog.String("provider", completer.Name()))
	}
	go func() {
		hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if completer.Healthy(hctx) {
			slog.Info("AI service is healthy", slog.String("provider", completer.Name()))
		} else {
			slog.Warn("AI service is not reachable", slog.String("provider", completer.Name()))
		}
	}()
	aiLimiter := newLimiter(cfg.AIRateLimit)

	// Music
	spotify := spotifyapi.New(spotifyapi.Options{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
		CacheTTL:     cfg.SpotifyCacheTTL,
	})
	if !cfg.SpotifyEnabled() {
		slog.Info("spotify lookups disabled (missing SPOTIFY_CLIENT_ID/SPOTIFY_CLIENT_SECRET)")
	}
	searcher, err := music.NewSearcher(ctx, cfg.YouTubeAPIKey, cfg.YTDLPPath)
	if err != nil {
		slog.Error("music searcher init failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("music searcher ready", slog.String("searcher", searcher.Name()))

	// Command log
	commandLog, closeLog := openCommandLog(ctx, cfg.DBDsn)
	defer closeLog()

	// Discord gateway (optional: HTTP interactions work without it)
	reg := bot.NewRegistry()
	var (
		gw    *gateway.Gateway
		voice music.VoiceConnector
		loc   bot.VoiceLocator
	)
	if err := cfg.ValidateGateway(); err != nil {
		slog.Warn("discord gateway disabled", slog.Any("err", err))
	} else {
		gw, err = gateway.New(cfg.DiscordToken, cfg.AppID, cfg.GuildID, reg)
		if err != nil {
			slog.Error("discord session init failed", slog.Any("err", err))
			os.Exit(1)
		}
		voice, loc = gw, gw
	}
	player := music.NewPlayer(voice)
	defer player.Close()

	err = bot.RegisterBuiltins(reg, bot.Services{
		AI:           completer,
		SystemPrompt: cfg.SystemPrompt,
		ChunkMax:     cfg.ChunkMaxLength,
		AITimeout:    cfg.AITimeout,
		AILimiter:    aiLimiter,
		Searcher:     searcher,
		Player:       player,
		Spotify:      spotify,
	})
	if err != nil {
		slog.Error("command registration failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("slash commands loaded", slog.Int("count", reg.Len()))
	dispatcher := bot.NewDispatcher(reg, commandLog, loc)

	deps := server.Deps{
		Dispatcher:     dispatcher,
		AI:             completer,
		Log:            commandLog,
		AdminRateLimit: cfg.AdminRateLimit,
		Version:        version,
	}
	if err := cfg.ValidateInteractions(); err != nil {
		slog.Warn("HTTP interactions endpoint disabled", slog.Any("err", err))
	} else if key, err := hex.DecodeString(cfg.PublicKey); err != nil || len(key) != ed25519.PublicKeySize {
		slog.Error("PUBLIC_KEY must be the hex encoded ed25519 application key")
		os.Exit(1)
	} else {
		deps.PublicKey = key
	}

	if gw != nil {
		if err := gw.Open(ctx, dispatcher); err != nil {
			slog.Error("discord gateway open failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := gw.Close(); err != nil {
				slog.Error("discord gateway close failed", slog.Any("err", err))
			}
		}()
		deps.Syncer = gw
		deps.GatewayReady = gw.Ready
		deps.Followups = func(i *discordgo.Interaction) bot.Followup {
			return bot.SessionFollowup{Session: gw.Session(), Interaction: i}
		}
	} else {
		// follow-ups go through the interaction webhook and need no bot token
		session, _ := discordgo.New("")
		deps.Followups = func(i *discordgo.Interaction) bot.Followup {
			return bot.SessionFollowup{Session: session, Interaction: i}
		}
	}

	startPprof()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
	<-serverDone
}

func setupLogging() {
	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		// unknown level -> keep info but note once using temporary logger
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))
}

// newLimiter builds the per-user /ai limiter; an invalid rate disables limiting.
func newLimiter(formatted string) *limiter.Limiter {
	if formatted == "" || formatted == "0" {
		return nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		slog.Warn("invalid AI_RATE_LIMIT, /ai is not rate limited", slog.String("value", formatted), slog.Any("err", err))
		return nil
	}
	return limiter.New(memory.NewStore(), rate)
}

// openCommandLog uses Postgres when dsn is set and falls back to an in-memory ring.
func openCommandLog(ctx context.Context, dsn string) (db.CommandLog, func()) {
	if dsn == "" {
		slog.Info("command log in memory (DB_DSN not set)", slog.String("component", "db"))
		return db.NewMemoryLog(200), func() {}
	}
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	return &db.PostgresLog{DB: database}, func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
