// Package ai talks to the text-completion backend behind the /ai command.
//
// Two providers implement Completer: a self-hosted llama.cpp server and the
// Gemini generateContent API. Exactly one is selected at startup by New from
// AI_PROVIDER. Transient failures (transport errors, 429 and 5xx responses)
// are retried with exponential backoff.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/onnwee/slashbot/config"
	"github.com/onnwee/slashbot/telemetry"
)

// Provider names accepted by AI_PROVIDER.
const (
	ProviderLlamaCpp = "llamacpp"
	ProviderGemini   = "gemini"
)

// Completer produces a completion for a prompt built with FormatPrompt.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
	FormatPrompt(userMessage, systemContext string) string
	Healthy(ctx context.Context) bool
}

var (
	// ErrUnavailable is returned when the backend fails its health check.
	ErrUnavailable = errors.New("AI server tidak tersedia")
	// ErrEmptyResponse is returned when the backend answers without content.
	ErrEmptyResponse = errors.New("AI tidak memberikan respon")
)

// HTTPError is a non-2xx answer from the completion backend.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
}

// Option tunes a provider.
type Option func(*settings)

type settings struct {
	model       string
	nPredict    int
	temperature float64
	topP        float64
	retries     int
	httpClient  *http.Client
}

func defaultSettings() settings {
	return settings{
		nPredict:    512,
		temperature: 0.7,
		topP:        0.9,
		retries:     2,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
	}
}

// WithModel sets the model name sent to the backend.
func WithModel(model string) Option {
	return func(s *settings) {
		if model != "" {
			s.model = model
		}
	}
}

// WithSampling overrides token budget and sampling parameters. Zero values keep the defaults.
func WithSampling(nPredict int, temperature, topP float64) Option {
	return func(s *settings) {
		if nPredict > 0 {
			s.nPredict = nPredict
		}
		if temperature > 0 {
			s.temperature = temperature
		}
		if topP > 0 {
			s.topP = topP
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithHTTPClient replaces the HTTP client (tests, custom timeouts).
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// New builds the Completer selected by cfg.AIProvider.
func New(cfg *config.Config) (Completer, error) {
	opts := []Option{
		WithSampling(cfg.NPredict, cfg.Temperature, cfg.TopP),
		WithRetries(cfg.AIRetryAttempts),
		WithHTTPClient(&http.Client{Timeout: cfg.AITimeout}),
	}
	switch cfg.AIProvider {
	case "", ProviderLlamaCpp:
		return NewLlamaCpp(cfg.LlamaURL, append(opts, WithModel(cfg.LlamaModel))...), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, errors.New("AI_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		return NewGemini(cfg.GeminiAPIKey, append(opts, WithModel(cfg.GeminiModel))...), nil
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q (want %s or %s)", cfg.AIProvider, ProviderLlamaCpp, ProviderGemini)
	}
}

// retryBase is the first backoff interval; tests shrink it.
var retryBase = 500 * time.Millisecond

// withRetry runs fn, retrying transient failures up to retries extra times.
func withRetry(ctx context.Context, retries int, fn func(context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	backoff := retry.WithMaxRetries(uint64(retries), retry.WithJitter(retryBase/10, retry.NewExponential(retryBase)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status == http.StatusTooManyRequests || he.Status >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// observe records duration and outcome of a completion call.
func observe(provider string, start time.Time, err error) {
	telemetry.RecordAIRequest(provider, time.Since(start), err)
}

func systemOrDefault(systemContext string) string {
	if systemContext == "" {
		return config.DefaultSystemPrompt
	}
	return systemContext
}
