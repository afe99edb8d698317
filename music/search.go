// Package music finds playable tracks and keeps a per-guild play queue.
//
// Searching goes through a Searcher: yt-dlp by default, or the YouTube Data
// API when a key is configured. Player tracks queue and voice state only;
// audio encoding and streaming are left to the voice connection.
package music

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/slashbot/telemetry"
)

// ErrNoResults is returned when a search yields nothing playable.
var ErrNoResults = errors.New("no results")

// Result is a single search hit.
type Result struct {
	Title    string
	URL      string
	Duration time.Duration // zero when unknown (live streams)
}

// Searcher resolves a free-text query to the best matching video.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (Result, error)
}

// ytdlpFormat is the --print template parsed by parseYTDLP.
const ytdlpFormat = "%(title)s|%(webpage_url)s|%(duration)s"

// YTDLP searches YouTube by running yt-dlp.
type YTDLP struct {
	Path    string        // binary, default "yt-dlp"
	Timeout time.Duration // per search, default 30s

	// run executes the command and returns stdout. Replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (y *YTDLP) Name() string { return "ytdlp" }

// Search runs `yt-dlp "ytsearch1:<query>" --print ...` and parses the single result line.
func (y *YTDLP) Search(ctx context.Context, query string) (res Result, err error) {
	defer func() { telemetry.RecordMusicLookup(y.Name(), err) }()
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrNoResults
	}
	bin := y.Path
	if bin == "" {
		bin = "yt-dlp"
	}
	timeout := y.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	run := y.run
	if run == nil {
		run = runCommand
	}
	args := []string{"ytsearch1:" + query, "--print", ytdlpFormat, "--no-warnings", "--skip-download"}
	telemetry.LoggerWithCorr(ctx).Debug("yt-dlp search", slog.String("query", query), slog.String("component", "music"))
	out, err := run(ctx, bin, args...)
	if err != nil {
		return Result{}, fmt.Errorf("yt-dlp search %q: %w", query, err)
	}
	return parseYTDLP(string(out))
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binary comes from config, query is a single argv entry
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, err
	}
	return out, nil
}

// parseYTDLP reads "title|url|duration". Titles may contain '|', so the last
// two fields are split off from the right.
func parseYTDLP(out string) (Result, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return Result{}, ErrNoResults
	}
	durIdx := strings.LastIndexByte(line, '|')
	if durIdx < 0 {
		return Result{}, fmt.Errorf("unexpected yt-dlp output %q", line)
	}
	rest, durStr := line[:durIdx], line[durIdx+1:]
	urlIdx := strings.LastIndexByte(rest, '|')
	if urlIdx < 0 {
		return Result{}, fmt.Errorf("unexpected yt-dlp output %q", line)
	}
	res := Result{Title: strings.TrimSpace(rest[:urlIdx]), URL: strings.TrimSpace(rest[urlIdx+1:])}
	if res.URL == "" {
		return Result{}, ErrNoResults
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(durStr), 64); err == nil && secs > 0 {
		res.Duration = time.Duration(secs * float64(time.Second))
	}
	return res, nil
}

// NewSearcher picks the YouTube Data API when apiKey is set and yt-dlp otherwise.
func NewSearcher(ctx context.Context, apiKey, ytdlpPath string) (Searcher, error) {
	if apiKey != "" {
		y, err := NewYouTube(ctx, apiKey)
		if err != nil {
			return nil, err
		}
		return y, nil
	}
	return &YTDLP{Path: ytdlpPath}, nil
}
