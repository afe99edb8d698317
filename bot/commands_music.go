package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/slashbot/format"
	"github.com/onnwee/slashbot/music"
	"github.com/onnwee/slashbot/spotifyapi"
	"github.com/onnwee/slashbot/telemetry"
)

const (
	msgNothingPlaying = "⏹️ Tidak ada musik yang sedang diputar."
	msgSearchFailed   = "❌ Gagal mencari musik."
	searchTimeout     = 45 * time.Second
)

func playCommand(s Services) Command {
	return Command{
		Name:        "play",
		Description: "Memutar musik dari YouTube",
		Options:     []*discordgo.ApplicationCommandOption{stringOption("music", "Judul musik yang ingin diputar")},
		Handler: func(ctx context.Context, inv *Invocation) Response {
			query := inv.Option("music")
			if query == "" {
				return Response{Content: "❌ Harap masukkan judul musik!"}
			}
			return Response{
				Content: fmt.Sprintf("🔎 Sedang mencari musik: **%s** ...", query),
				Then: func(ctx context.Context, f Followup) {
					sendOrLog(ctx, f, play(ctx, s, inv, query))
				},
			}
		},
	}
}

// play resolves query (a Spotify link is turned into "artist title" first),
// queues the hit and returns the message to post.
func play(ctx context.Context, s Services, inv *Invocation, query string) string {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "music"), slog.String("query", query))
	if s.Searcher == nil {
		log.Warn("no music searcher configured")
		return msgSearchFailed
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	if s.Spotify != nil && s.Spotify.Configured() && spotifyapi.ExtractTrackID(query) != "" {
		t, err := s.Spotify.TrackInfo(ctx, query)
		if err != nil {
			log.Warn("spotify lookup failed", slog.Any("err", err))
			return "❌ " + spotifyapi.UserMessage(err)
		}
		query = t.Artist + " " + t.Title
	}

	res, err := s.Searcher.Search(ctx, query)
	if err != nil {
		log.Error("music search failed", slog.String("searcher", s.Searcher.Name()), slog.Any("err", err))
		return msgSearchFailed
	}
	found := fmt.Sprintf("✅ Ditemukan: **%s**\n%s", res.Title, res.URL)
	if s.Player == nil || inv.GuildID == "" {
		return found
	}

	pos, err := s.Player.Enqueue(ctx, inv.GuildID, inv.VoiceChannelID, music.Track{
		Title:       res.Title,
		URL:         res.URL,
		Duration:    res.Duration,
		RequestedBy: inv.UserID,
	})
	if err != nil {
		log.Error("enqueue failed", slog.Any("err", err))
		return found + "\n❌ Gagal bergabung ke voice channel."
	}
	if pos == 0 {
		return found + "\n▶️ Sekarang diputar" + durationSuffix(res.Duration)
	}
	return found + fmt.Sprintf("\n📥 Ditambahkan ke antrean (#%d)", pos)
}

func stopCommand(s Services) Command {
	return Command{
		Name:        "stop",
		Description: "Menghentikan musik",
		Handler: func(ctx context.Context, inv *Invocation) Response {
			if s.Player == nil || inv.GuildID == "" {
				return Response{Content: msgNothingPlaying}
			}
			if err := s.Player.Stop(ctx, inv.GuildID); err != nil {
				if errors.Is(err, music.ErrEmptyQueue) {
					return Response{Content: msgNothingPlaying}
				}
				return Response{Content: "❌ Gagal menghentikan musik."}
			}
			return Response{Content: "⏹️ Musik dihentikan dan antrean dikosongkan."}
		},
	}
}

func skipCommand(s Services) Command {
	return Command{
		Name:        "skip",
		Description: "Melewati lagu yang sedang diputar",
		Handler: func(ctx context.Context, inv *Invocation) Response {
			if s.Player == nil || inv.GuildID == "" {
				return Response{Content: msgNothingPlaying}
			}
			next, err := s.Player.Skip(ctx, inv.GuildID)
			switch {
			case errors.Is(err, music.ErrEmptyQueue):
				return Response{Content: msgNothingPlaying}
			case err != nil:
				return Response{Content: "❌ Gagal melewati lagu."}
			case next == nil:
				return Response{Content: "⏭️ Lagu dilewati. Antrean sudah habis."}
			}
			return Response{Content: fmt.Sprintf("⏭️ Lagu dilewati. Sekarang diputar: **%s**%s", next.Title, durationSuffix(next.Duration))}
		},
	}
}

func queueCommand(s Services) Command {
	return Command{
		Name:        "queue",
		Description: "Menampilkan antrean musik",
		Handler: func(ctx context.Context, inv *Invocation) Response {
			if s.Player == nil || inv.GuildID == "" {
				return Response{Content: msgNothingPlaying}
			}
			now, ok := s.Player.NowPlaying(inv.GuildID)
			if !ok {
				return Response{Content: msgNothingPlaying}
			}
			var b strings.Builder
			fmt.Fprintf(&b, "🎶 **Sedang diputar:** %s%s", now.Title, durationSuffix(now.Duration))
			queue := s.Player.Queue(inv.GuildID)
			if len(queue) == 0 {
				b.WriteString("\n📭 Antrean kosong.")
			} else {
				b.WriteString("\n📜 **Antrean:**")
			}
			for i, t := range queue {
				line := fmt.Sprintf("\n%d. %s%s", i+1, t.Title, durationSuffix(t.Duration))
				if b.Len()+len(line) > discordMessageLimit-50 {
					fmt.Fprintf(&b, "\n… dan %d lagi", len(queue)-i)
					break
				}
				b.WriteString(line)
			}
			return Response{Content: b.String()}
		},
	}
}

func trackCommand(s Services) Command {
	return Command{
		Name:        "track",
		Description: "Menampilkan info lagu dari Spotify",
		Options:     []*discordgo.ApplicationCommandOption{stringOption("lagu", "Judul lagu atau link Spotify")},
		Handler: func(ctx context.Context, inv *Invocation) Response {
			input := inv.Option("lagu")
			if input == "" {
				return Response{Content: "❌ Harap masukkan judul lagu atau link Spotify!"}
			}
			if s.Spotify == nil || !s.Spotify.Configured() {
				return Response{Content: "❌ " + spotifyapi.UserMessage(spotifyapi.ErrNotConfigured), Ephemeral: true}
			}
			return Response{
				Deferred: true,
				Then: func(ctx context.Context, f Followup) {
					ctx, cancel := context.WithTimeout(ctx, searchTimeout)
					defer cancel()
					t, err := s.Spotify.TrackInfo(ctx, input)
					if err != nil {
						telemetry.LoggerWithCorr(ctx).Warn("spotify lookup failed", slog.String("input", input), slog.Any("err", err))
						sendOrLog(ctx, f, "❌ "+spotifyapi.UserMessage(err))
						return
					}
					sendOrLog(ctx, f, formatTrack(t))
				},
			}
		},
	}
}

func formatTrack(t spotifyapi.Track) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎵 **%s** - %s", t.Title, t.Artist)
	if t.Explicit {
		b.WriteString(" 🅴")
	}
	fmt.Fprintf(&b, "\n💿 %s", t.Album)
	if t.ReleaseDate != "" {
		fmt.Fprintf(&b, " (%s)", t.ReleaseDate)
	}
	fmt.Fprintf(&b, " | ⏱️ %s | 🔥 %d/100", t.DurationFormatted, t.Popularity)
	if t.URL != "" {
		b.WriteString("\n" + t.URL)
	}
	return b.String()
}

func durationSuffix(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return " (" + format.FormatDuration(d) + ")"
}
