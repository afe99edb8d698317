package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/ulule/limiter/v3"

	"github.com/onnwee/slashbot/ai"
	"github.com/onnwee/slashbot/music"
	"github.com/onnwee/slashbot/spotifyapi"
)

// Services are the collaborators the built-in commands use. Nil members
// disable the commands that depend on them gracefully.
type Services struct {
	AI           ai.Completer
	SystemPrompt string
	ChunkMax     int
	AITimeout    time.Duration
	AILimiter    *limiter.Limiter // per user; nil disables limiting

	Searcher music.Searcher
	Player   *music.Player
	Spotify  *spotifyapi.Client
}

// RegisterBuiltins adds every built-in command to r.
func RegisterBuiltins(r *Registry, s Services) error {
	cmds := []Command{
		testCommand(),
		sapaCommand(),
		pingCommand(),
		helpCommand(r),
		aiCommand(s),
		playCommand(s),
		stopCommand(s),
		skipCommand(s),
		queueCommand(s),
		trackCommand(s),
	}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func stringOption(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    true,
	}
}

func testCommand() Command {
	return Command{
		Name:        "test",
		Description: "Test command untuk cek bot",
		Handler: func(context.Context, *Invocation) Response {
			return Response{Content: "👋 This bot uses Go programming language!"}
		},
	}
}

func sapaCommand() Command {
	return Command{
		Name:        "sapa",
		Description: "Menyapa user yang menggunakan command",
		Handler: func(_ context.Context, inv *Invocation) Response {
			return Response{Content: fmt.Sprintf("👋 Halo <@%s>! Selamat datang!", inv.UserID)}
		},
	}
}

// pingCommand reports the time between Discord creating the interaction and
// the bot receiving it, read from the interaction's snowflake id.
func pingCommand() Command {
	return Command{
		Name:        "ping",
		Description: "Cek latency bot",
		Handler: func(_ context.Context, inv *Invocation) Response {
			var latency time.Duration
			if inv.Interaction != nil {
				if created, err := discordgo.SnowflakeTimestamp(inv.Interaction.ID); err == nil {
					latency = inv.ReceivedAt.Sub(created)
				}
			}
			if latency < 0 {
				latency = 0
			}
			return Response{Content: fmt.Sprintf("🏓 Pong! Latency: %dms", latency.Milliseconds())}
		},
	}
}

func helpCommand(r *Registry) Command {
	return Command{
		Name:        "help",
		Description: "Menampilkan bantuan",
		Handler: func(context.Context, *Invocation) Response {
			var b strings.Builder
			b.WriteString("📋 **Daftar Command:**")
			for _, c := range r.Commands() {
				fmt.Fprintf(&b, "\n• `/%s` - %s", c.Name, c.Description)
			}
			return Response{Content: b.String()}
		},
	}
}
