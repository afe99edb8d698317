package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockServer is an httptest server that dispatches on exact URL path and
// counts hits per path. It stands in for llama.cpp, Gemini and Spotify.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockServer creates a mock server that is closed when the test ends.
func NewMockServer(t *testing.T) *MockServer {
	t.Helper()
	m := &MockServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers h for path, replacing any previous handler.
func (m *MockServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Hits returns how many requests reached path.
func (m *MockServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// JSON registers a handler that answers path with status and body encoded as JSON.
func (m *MockServer) JSON(path string, status int, body any) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, body)
	})
}

// MockLlamaHealth answers GET /health with status.
func (m *MockServer) MockLlamaHealth(status int) {
	m.JSON("/health", status, map[string]string{"status": http.StatusText(status)})
}

// MockLlamaCompletion answers POST /completion with content.
func (m *MockServer) MockLlamaCompletion(content string) {
	m.JSON("/completion", http.StatusOK, map[string]any{
		"content":          content,
		"model":            "gemma-3",
		"tokens_predicted": len(content) / 4,
		"stopped_eos":      true,
	})
}

// MockGeminiGenerate answers generateContent for model with a single text part.
func (m *MockServer) MockGeminiGenerate(model, text string) {
	m.JSON("/models/"+model+":generateContent", http.StatusOK, map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]string{{"text": text}},
			},
		}},
	})
	m.JSON("/models/"+model, http.StatusOK, map[string]string{"name": "models/" + model})
}

// MockSpotifyToken answers the client-credentials token endpoint.
func (m *MockServer) MockSpotifyToken(accessToken string, expiresIn int) {
	m.JSON("/api/token", http.StatusOK, map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	})
}

// MockSpotifyTrack answers GET /v1/tracks/{id}.
func (m *MockServer) MockSpotifyTrack(id string, track map[string]any) {
	m.JSON("/v1/tracks/"+id, http.StatusOK, track)
}

// MockSpotifySearch answers GET /v1/search with the given track items.
func (m *MockServer) MockSpotifySearch(items []map[string]any) {
	m.JSON("/v1/search", http.StatusOK, map[string]any{
		"tracks": map[string]any{"items": items},
	})
}

// SpotifyTrackJSON builds a Web API track object.
func SpotifyTrackJSON(id, name string, artists []string, durationMS int) map[string]any {
	as := make([]map[string]string, 0, len(artists))
	for _, a := range artists {
		as = append(as, map[string]string{"name": a})
	}
	return map[string]any{
		"id":            id,
		"name":          name,
		"artists":       as,
		"duration_ms":   durationMS,
		"popularity":    80,
		"explicit":      false,
		"preview_url":   nil,
		"external_urls": map[string]string{"spotify": "https://open.spotify.com/track/" + id},
		"album": map[string]any{
			"name":         name + " (Album)",
			"release_date": "2020-01-01",
			"images":       []map[string]any{{"url": "https://i.scdn.co/image/" + id, "width": 640, "height": 640}},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
}
