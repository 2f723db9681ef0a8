package server

import (
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sigilo-chat/sigilo/internal/config"
)

func requestWithOrigin(origin string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestNormalizeOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://Chat.Example.com", "https://chat.example.com", true},
		{" http://localhost:3000 ", "http://localhost:3000", true},
		{"chat.example.com", "", false},
		{"https://", "", false},
		{"", "", false},
	}

	for _, tc := range cases {
		got, ok := normalizeOrigin(tc.in)
		require.Equal(t, tc.ok, ok, "input %q", tc.in)
		if ok {
			require.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}

func TestOriginAllowList(t *testing.T) {
	cfg := &config.Config{AllowedOrigins: []string{"https://chat.example.com"}}
	hub := NewHub(cfg, zerolog.Nop())

	require.True(t, hub.isOriginAllowed(requestWithOrigin("https://chat.example.com")))
	require.True(t, hub.isOriginAllowed(requestWithOrigin("HTTPS://CHAT.EXAMPLE.COM")))
	require.False(t, hub.isOriginAllowed(requestWithOrigin("https://evil.example.com")))
	require.False(t, hub.isOriginAllowed(requestWithOrigin("not a url")))
}

func TestOriginEmptyHeaderAllowed(t *testing.T) {
	// Non-browser clients send no Origin header; the allow list only
	// constrains browsers.
	cfg := &config.Config{AllowedOrigins: []string{"https://chat.example.com"}}
	hub := NewHub(cfg, zerolog.Nop())

	require.True(t, hub.isOriginAllowed(requestWithOrigin("")))
}

func TestOriginNoListAllowsAll(t *testing.T) {
	hub := NewHub(&config.Config{}, zerolog.Nop())
	require.True(t, hub.isOriginAllowed(requestWithOrigin("https://anywhere.example.com")))
}

func TestOriginWildcardAllowsAll(t *testing.T) {
	cfg := &config.Config{AllowedOrigins: []string{"*"}}
	hub := NewHub(cfg, zerolog.Nop())
	require.True(t, hub.isOriginAllowed(requestWithOrigin("https://anywhere.example.com")))
}
