package spotifyapi

import (
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

var (
	// ErrNotConfigured means SPOTIFY_CLIENT_ID or SPOTIFY_CLIENT_SECRET is missing.
	ErrNotConfigured = errors.New("spotify client credentials not configured")
	// ErrNoResults means a search matched no tracks.
	ErrNoResults = errors.New("no tracks found")
)

// APIError is the error object returned by the Web API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify api: %d %s", e.Status, e.Message)
}

// UserMessage turns err into a short Indonesian message suitable for a chat reply.
func UserMessage(err error) string {
	var apiErr *APIError
	var tokenErr *oauth2.RetrieveError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConfigured):
		return "Konfigurasi Spotify tidak valid"
	case errors.Is(err, ErrNoResults):
		return "Lagu tidak ditemukan"
	case errors.As(err, &tokenErr):
		return "Gagal mendapatkan access token"
	case errors.As(err, &apiErr):
		switch apiErr.Status {
		case http.StatusBadRequest:
			return "Request tidak valid"
		case http.StatusUnauthorized:
			return "Token tidak valid atau expired"
		case http.StatusNotFound:
			return "Track tidak ditemukan"
		case http.StatusTooManyRequests:
			return "Rate limit exceeded"
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Spotify API error"
	default:
		return "Terjadi error saat mengambil info lagu"
	}
}
