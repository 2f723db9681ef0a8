// Package server normalizes and validates HTTP origins for websocket
// upgrades to enforce the configured allow list.
package server

import (
	"net/http"
	"net/url"
	"strings"
)

// checkOrigin is the upgrader's origin gate. An empty allow list accepts
// every origin (non-browser clients send none); "*" does the same
// explicitly.
func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.isOriginAllowed(r) {
		return true
	}

	h.log.Warn().
		Str("origin", r.Header.Get("Origin")).
		Msg("blocked websocket connection from disallowed origin")
	return false
}

func (h *Hub) isOriginAllowed(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}

	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		// No Origin header means a non-browser client; the allow list only
		// constrains browsers.
		return true
	}

	normalizedOrigin, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" {
			return true
		}
		if normalizedAllowed, ok := normalizeOrigin(allowed); ok && normalizedAllowed == normalizedOrigin {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
