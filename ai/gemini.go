package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/slashbot/telemetry"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini calls the Gemini generateContent REST endpoint with an API key.
type Gemini struct {
	apiKey  string
	baseURL string
	settings
}

// NewGemini returns a Gemini client. The model defaults to gemini-2.5-flash.
func NewGemini(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{apiKey: apiKey, baseURL: geminiBaseURL, settings: defaultSettings()}
	g.model = "gemini-2.5-flash"
	for _, opt := range opts {
		opt(&g.settings)
	}
	return g
}

func (g *Gemini) Name() string { return ProviderGemini }

func (g *Gemini) modelURL(suffix string) string {
	return fmt.Sprintf("%s/models/%s%s?key=%s", g.baseURL, g.model, suffix, url.QueryEscape(g.apiKey))
}

// Healthy reports whether the configured model can be fetched with the key.
func (g *Gemini) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.modelURL(""), nil)
	if err != nil {
		return false
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		slog.Warn("AI health check failed", slog.String("provider", g.Name()), slog.Any("err", err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// FormatPrompt prefixes the message with the system context.
func (g *Gemini) FormatPrompt(userMessage, systemContext string) string {
	return systemOrDefault(systemContext) + "\n\nUser: " + userMessage
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		TopP            float64 `json:"topP"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Complete sends the prompt as a single user turn and joins the text parts of the first candidate.
func (g *Gemini) Complete(ctx context.Context, prompt string) (out string, err error) {
	ctx, span := telemetry.StartSpan(ctx, "ai", "gemini.generateContent")
	defer span.End()
	start := time.Now()
	defer func() {
		observe(g.Name(), start, err)
		telemetry.RecordError(span, err)
	}()

	body := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: strings.TrimSpace(prompt)}}}}}
	body.GenerationConfig.Temperature = g.temperature
	body.GenerationConfig.TopP = g.topP
	body.GenerationConfig.MaxOutputTokens = g.nPredict
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal gemini request: %w", err)
	}

	var parsed geminiResponse
	err = withRetry(ctx, g.retries, func(ctx context.Context) error {
		parsed = geminiResponse{}
		return g.generate(ctx, payload, &parsed)
	})
	if err != nil {
		return "", err
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, p := range parsed.Candidates[0].Content.Parts {
			content.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(content.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *Gemini) generate(ctx context.Context, payload []byte, into *geminiResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.modelURL(":generateContent"), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gemini response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if err := json.Unmarshal(respBody, into); err != nil {
		return fmt.Errorf("parse gemini response: %w", err)
	}
	return nil
}
