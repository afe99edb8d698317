package music

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/slashbot/telemetry"
)

// YouTube searches with the YouTube Data API v3 using an API key.
type YouTube struct {
	svc *yt.Service
}

// NewYouTube creates a Data API searcher. Extra options (endpoint, HTTP client) are for tests.
func NewYouTube(ctx context.Context, apiKey string, opts ...option.ClientOption) (*YouTube, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &YouTube{svc: svc}, nil
}

func (y *YouTube) Name() string { return "youtube" }

// Search returns the top video hit for query with its duration.
func (y *YouTube) Search(ctx context.Context, query string) (res Result, err error) {
	defer func() { telemetry.RecordMusicLookup(y.Name(), err) }()
	resp, err := y.svc.Search.List([]string{"snippet"}).Q(query).Type("video").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return Result{}, fmt.Errorf("youtube search %q: %w", query, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == nil || resp.Items[0].Id.VideoId == "" {
		return Result{}, ErrNoResults
	}
	item := resp.Items[0]
	res = Result{URL: "https://www.youtube.com/watch?v=" + item.Id.VideoId}
	if item.Snippet != nil {
		res.Title = html.UnescapeString(item.Snippet.Title)
	}

	// duration is only available from videos.list; a failure here keeps the hit
	vids, err := y.svc.Videos.List([]string{"contentDetails"}).Id(item.Id.VideoId).Context(ctx).Do()
	if err == nil && len(vids.Items) > 0 && vids.Items[0].ContentDetails != nil {
		res.Duration = parseISODuration(vids.Items[0].ContentDetails.Duration)
	}
	return res, nil
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISODuration parses the PT#H#M#S form the Data API uses. Unparseable input yields 0.
func parseISODuration(s string) time.Duration {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		d += time.Duration(n) * u
	}
	return d
}
