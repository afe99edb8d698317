package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/slashbot/format"
	"github.com/onnwee/slashbot/telemetry"
)

// stopWords end generation before the model starts a new turn.
var stopWords = []string{"\n\n", "Human:", "Assistant:", "<|im_end|>"}

// LlamaCpp is a client for a llama.cpp server's /health and /completion endpoints.
type LlamaCpp struct {
	baseURL string
	settings
}

// NewLlamaCpp returns a client for the server at baseURL (trailing slash optional).
func NewLlamaCpp(baseURL string, opts ...Option) *LlamaCpp {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	l := &LlamaCpp{baseURL: baseURL, settings: defaultSettings()}
	l.model = "gemma-3"
	for _, opt := range opts {
		opt(&l.settings)
	}
	return l
}

func (l *LlamaCpp) Name() string { return ProviderLlamaCpp }

// BaseURL returns the normalised server URL.
func (l *LlamaCpp) BaseURL() string { return l.baseURL }

// Healthy reports whether GET /health answers 2xx.
func (l *LlamaCpp) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"health", nil)
	if err != nil {
		return false
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		slog.Warn("AI health check failed", slog.String("provider", l.Name()), slog.Any("err", err))
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FormatPrompt wraps the message in Gemma's chat turn template.
func (l *LlamaCpp) FormatPrompt(userMessage, systemContext string) string {
	return "<bos><start_of_turn>user\n" + systemOrDefault(systemContext) +
		"\n\nUser: " + userMessage + "\n<end_of_turn>\n<start_of_turn>model\n"
}

type llamaRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	Model       string   `json:"model"`
	Stream      bool     `json:"stream"`
	Stop        []string `json:"stop"`
}

type llamaResponse struct {
	Content         string `json:"content"`
	TokensPredicted int    `json:"tokens_predicted"`
	StoppedLimit    bool   `json:"stopped_limit"`
}

// Complete checks health, then posts the prompt to /completion and returns the trimmed content.
func (l *LlamaCpp) Complete(ctx context.Context, prompt string) (out string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai", "llamacpp.complete")
	defer span.End()
	start := time.Now()
	defer func() {
		observe(l.Name(), start, err)
		telemetry.RecordError(span, err)
	}()

	if !l.Healthy(ctx) {
		return "", ErrUnavailable
	}
	log := telemetry.LoggerWithCorr(ctx)
	log.Info("sending AI request", slog.String("provider", l.Name()), slog.String("prompt", format.Truncate(prompt, 50)))

	payload, err := json.Marshal(llamaRequest{
		Prompt:      strings.TrimSpace(prompt),
		NPredict:    l.nPredict,
		Temperature: l.temperature,
		TopP:        l.topP,
		Model:       l.model,
		Stream:      false,
		Stop:        stopWords,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	var res llamaResponse
	err = withRetry(ctx, l.retries, func(ctx context.Context) error {
		res = llamaResponse{}
		return l.post(ctx, payload, &res)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Content) == "" {
		return "", ErrEmptyResponse
	}
	log.Info("AI response generated", slog.String("provider", l.Name()), slog.Int("tokens", res.TokensPredicted), slog.Bool("stopped_limit", res.StoppedLimit))
	return strings.TrimSpace(res.Content), nil
}

func (l *LlamaCpp) post(ctx context.Context, payload []byte, into *llamaResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"completion", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode completion response: %w", err)
	}
	return nil
}
