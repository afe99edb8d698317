// Package config loads environment variables and provides a typed Config used across the bot.
// Defaults let the binary run locally with minimal setup. An optional TOML file supplies the
// assistant persona and AI tuning; environment variables always win over the file.
// Use ValidateGateway / ValidateInteractions when a surface requires credentials.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// MaxChunkLength is the largest accepted CHUNK_MAX_LENGTH. Discord rejects
// messages above 2000 characters and a delivered segment also carries fences.
const MaxChunkLength = 1990

// DefaultSystemPrompt is the persona used when none is configured.
const DefaultSystemPrompt = "You are a helpful Discord bot assistant. Answer concisely and friendly in Bahasa Indonesia."

type Config struct {
	// Discord
	DiscordToken string
	AppID        string
	PublicKey    string
	GuildID      string // empty registers commands globally

	// HTTP
	HTTPAddr string

	// AI
	AIProvider      string // llamacpp | gemini
	LlamaURL        string
	LlamaModel      string
	GeminiAPIKey    string
	GeminiModel     string
	SystemPrompt    string
	AITimeout       time.Duration
	AIRetryAttempts int
	AIRateLimit     string // ulule/limiter formatted rate, e.g. 5-M
	NPredict        int
	Temperature     float64
	TopP            float64

	// Formatting
	ChunkMaxLength int

	// Music
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyCacheTTL     time.Duration
	YouTubeAPIKey       string
	YTDLPPath           string

	// Database (optional command log)
	DBDsn string

	// Admin
	AdminRateLimit string
}

// fileConfig is the on-disk shape of the optional TOML file.
type fileConfig struct {
	AI struct {
		Provider     string  `toml:"provider"`
		SystemPrompt string  `toml:"system_prompt"`
		Model        string  `toml:"model"`
		NPredict     int     `toml:"n_predict"`
		Temperature  float64 `toml:"temperature"`
		TopP         float64 `toml:"top_p"`
		Timeout      string  `toml:"timeout"`
		RateLimit    string  `toml:"rate_limit"`
	} `toml:"ai"`
	Chunk struct {
		MaxLength int `toml:"max_length"`
	} `toml:"chunk"`
}

// Load reads defaults, then the TOML file named by BOT_CONFIG_FILE (default slashbot.toml, ignored
// when absent), then environment variables. It doesn't fail if Discord or service credentials are
// missing; features without credentials are disabled by their callers.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:        ":3000",
		AIProvider:      "llamacpp",
		LlamaURL:        "http://localhost:8080/",
		LlamaModel:      "gemma-3",
		GeminiModel:     "gemini-2.5-flash",
		SystemPrompt:    DefaultSystemPrompt,
		AITimeout:       90 * time.Second,
		AIRetryAttempts: 2,
		AIRateLimit:     "5-M",
		NPredict:        512,
		Temperature:     0.7,
		TopP:            0.9,
		ChunkMaxLength:  1900,
		SpotifyCacheTTL: 10 * time.Minute,
		YTDLPPath:       "yt-dlp",
		AdminRateLimit:  "10-M",
	}

	path := os.Getenv("BOT_CONFIG_FILE")
	if path == "" {
		path = "slashbot.toml"
	}
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	// Discord
	cfg.DiscordToken = os.Getenv("DISCORD_TOKEN")
	cfg.AppID = os.Getenv("DISCORD_APP_ID")
	cfg.PublicKey = os.Getenv("PUBLIC_KEY")
	cfg.GuildID = os.Getenv("DISCORD_GUILD_ID")

	// HTTP: HTTP_ADDR wins, PORT kept for platforms that only inject a port
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTPAddr = ":" + v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	// AI
	setString(&cfg.AIProvider, "AI_PROVIDER")
	cfg.AIProvider = strings.ToLower(cfg.AIProvider)
	setString(&cfg.LlamaURL, "LLAMA_CPP_URL")
	setString(&cfg.LlamaModel, "LLAMA_MODEL")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.SystemPrompt, "AI_SYSTEM_PROMPT")
	setString(&cfg.AIRateLimit, "AI_RATE_LIMIT")
	if err := setDuration(&cfg.AITimeout, "AI_TIMEOUT"); err != nil {
		return nil, err
	}
	if err := setInt(&cfg.AIRetryAttempts, "AI_RETRY_ATTEMPTS"); err != nil {
		return nil, err
	}

	// Formatting
	if err := setInt(&cfg.ChunkMaxLength, "CHUNK_MAX_LENGTH"); err != nil {
		return nil, err
	}
	if cfg.ChunkMaxLength <= 0 || cfg.ChunkMaxLength > MaxChunkLength {
		return nil, fmt.Errorf("invalid CHUNK_MAX_LENGTH %d: must be in 1..%d", cfg.ChunkMaxLength, MaxChunkLength)
	}

	// Music
	cfg.SpotifyClientID = os.Getenv("SPOTIFY_CLIENT_ID")
	cfg.SpotifyClientSecret = os.Getenv("SPOTIFY_CLIENT_SECRET")
	if err := setDuration(&cfg.SpotifyCacheTTL, "SPOTIFY_CACHE_TTL"); err != nil {
		return nil, err
	}
	cfg.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")
	setString(&cfg.YTDLPPath, "YTDLP_PATH")

	// Database
	cfg.DBDsn = os.Getenv("DB_DSN")

	// Admin
	setString(&cfg.AdminRateLimit, "ADMIN_RATE_LIMIT")

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.AI.Provider != "" {
		c.AIProvider = fc.AI.Provider
	}
	if fc.AI.SystemPrompt != "" {
		c.SystemPrompt = strings.TrimSpace(fc.AI.SystemPrompt)
	}
	if fc.AI.Model != "" {
		c.LlamaModel = fc.AI.Model
		c.GeminiModel = fc.AI.Model
	}
	if fc.AI.NPredict > 0 {
		c.NPredict = fc.AI.NPredict
	}
	if fc.AI.Temperature > 0 {
		c.Temperature = fc.AI.Temperature
	}
	if fc.AI.TopP > 0 {
		c.TopP = fc.AI.TopP
	}
	if fc.AI.Timeout != "" {
		d, err := time.ParseDuration(fc.AI.Timeout)
		if err != nil {
			return fmt.Errorf("invalid ai.timeout in %s: %w", path, err)
		}
		c.AITimeout = d
	}
	if fc.AI.RateLimit != "" {
		c.AIRateLimit = fc.AI.RateLimit
	}
	if fc.Chunk.MaxLength > 0 {
		c.ChunkMaxLength = fc.Chunk.MaxLength
	}
	return nil
}

// ValidateGateway checks the fields required to open a gateway session and register commands.
func (c *Config) ValidateGateway() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("missing discord env: require DISCORD_TOKEN")
	}
	return nil
}

// ValidateInteractions checks the fields required by the HTTP interactions endpoint.
func (c *Config) ValidateInteractions() error {
	if c.PublicKey == "" {
		return fmt.Errorf("missing discord env: require PUBLIC_KEY")
	}
	return nil
}

// SpotifyEnabled reports whether Spotify client credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
