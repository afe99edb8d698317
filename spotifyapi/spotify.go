// Package spotifyapi contains a small Spotify Web API client for track lookups.
// It authenticates with an app (client credentials) token, which the oauth2
// token source caches and refreshes, and memoizes lookups for a short TTL.
package spotifyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/slashbot/format"
	"github.com/onnwee/slashbot/telemetry"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultLimit    = 5
	cacheSize       = 512
)

var trackIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`spotify:track:([a-zA-Z0-9]+)`),
	regexp.MustCompile(`open\.spotify\.com/track/([a-zA-Z0-9]+)`),
	regexp.MustCompile(`spotify\.com/track/([a-zA-Z0-9]+)`),
}

// ExtractTrackID returns the track id from a spotify:track URI or a track URL,
// or "" when input is neither.
func ExtractTrackID(input string) string {
	for _, p := range trackIDPatterns {
		if m := p.FindStringSubmatch(input); m != nil {
			return m[1]
		}
	}
	return ""
}

// Track is the subset of track metadata shown in chat.
type Track struct {
	ID                string
	Title             string
	Artist            string // comma separated
	Album             string
	Duration          time.Duration
	DurationFormatted string
	Cover             string
	URL               string
	Preview           string
	Popularity        int
	Explicit          bool
	ReleaseDate       string
}

// Options configures a Client. BaseURL and TokenURL default to Spotify's endpoints.
type Options struct {
	ClientID     string
	ClientSecret string
	CacheTTL     time.Duration
	Retries      int
	HTTPClient   *http.Client // base transport for both token and API calls
	BaseURL      string
	TokenURL     string
}

// Client looks up tracks. Safe for concurrent use.
type Client struct {
	baseURL    string
	configured bool
	retries    int
	http       *http.Client
	cache      *expirable.LRU[string, []Track]
}

// New builds a client. Missing credentials yield a client whose calls return ErrNotConfigured.
func New(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		configured: opts.ClientID != "" && opts.ClientSecret != "",
		retries:    opts.Retries,
		cache:      expirable.NewLRU[string, []Track](cacheSize, nil, opts.CacheTTL),
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.retries <= 0 {
		c.retries = 2
	}
	tokenURL := opts.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ctx := context.Background()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	c.http = cc.Client(ctx)
	return c
}

// Configured reports whether client credentials were supplied.
func (c *Client) Configured() bool { return c.configured }

// TrackInfo resolves input as a track URL/URI when possible, otherwise as a
// search query whose first hit is returned.
func (c *Client) TrackInfo(ctx context.Context, input string) (t Track, err error) {
	defer func() { telemetry.RecordMusicLookup("spotify", err) }()
	if id := ExtractTrackID(input); id != "" {
		return c.GetTrack(ctx, id)
	}
	tracks, err := c.SearchTracks(ctx, input, 1)
	if err != nil {
		return Track{}, err
	}
	return tracks[0], nil
}

// GetTrack fetches a single track by id.
func (c *Client) GetTrack(ctx context.Context, id string) (Track, error) {
	if !c.configured {
		return Track{}, ErrNotConfigured
	}
	key := "track:" + id
	if v, ok := c.cache.Get(key); ok {
		return v[0], nil
	}
	var raw apiTrack
	if err := c.get(ctx, "/tracks/"+url.PathEscape(id), nil, &raw); err != nil {
		return Track{}, fmt.Errorf("get track %s: %w", id, err)
	}
	t := raw.toTrack()
	c.cache.Add(key, []Track{t})
	return t, nil
}

// SearchTracks searches tracks by free text. limit <= 0 means 5.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoResults
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	key := "search:" + strconv.Itoa(limit) + ":" + strings.ToLower(query)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track")
	q.Set("limit", strconv.Itoa(limit))
	var body struct {
		Tracks struct {
			Items []apiTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := c.get(ctx, "/search", q, &body); err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	if len(body.Tracks.Items) == 0 {
		return nil, fmt.Errorf("search %q: %w", query, ErrNoResults)
	}
	out := make([]Track, 0, len(body.Tracks.Items))
	for _, it := range body.Tracks.Items {
		out = append(out, it.toTrack())
	}
	c.cache.Add(key, out)
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, into any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doGet(ctx, u, into)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) doGet(ctx context.Context, u string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var envelope struct {
			Error APIError `json:"error"`
		}
		if json.Unmarshal(b, &envelope) != nil || envelope.Error.Status == 0 {
			envelope.Error = APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(b))}
		}
		return &envelope.Error
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

type apiTrack struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DurationMS int    `json:"duration_ms"`
	Popularity int    `json:"popularity"`
	Explicit   bool   `json:"explicit"`
	PreviewURL string `json:"preview_url"`
	Artists    []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name        string `json:"name"`
		ReleaseDate string `json:"release_date"`
		Images      []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

func (a apiTrack) toTrack() Track {
	names := make([]string, 0, len(a.Artists))
	for _, ar := range a.Artists {
		names = append(names, ar.Name)
	}
	d := time.Duration(a.DurationMS) * time.Millisecond
	t := Track{
		ID:                a.ID,
		Title:             a.Name,
		Artist:            strings.Join(names, ", "),
		Album:             a.Album.Name,
		Duration:          d,
		DurationFormatted: format.FormatDuration(d),
		URL:               a.ExternalURLs.Spotify,
		Preview:           a.PreviewURL,
		Popularity:        a.Popularity,
		Explicit:          a.Explicit,
		ReleaseDate:       a.Album.ReleaseDate,
	}
	if len(a.Album.Images) > 0 {
		t.Cover = a.Album.Images[0].URL
	}
	return t
}
