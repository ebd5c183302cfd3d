// Package server checks browser origins of WebSocket handshakes against the
// configured allow-list.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy is the set of browser origins allowed to open a chat socket.
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// newOriginPolicy parses configured origins. "*" allows any well-formed
// origin; entries that are not scheme://host are logged and skipped.
func newOriginPolicy(origins []string) (originPolicy, []string) {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	var kept []string
	for _, raw := range origins {
		o := strings.TrimSpace(raw)
		switch {
		case o == "":
			continue
		case o == "*":
			p.any = true
			continue
		}
		key, ok := canonicalOrigin(o)
		if !ok {
			slog.Warn("Ignoring invalid origin in configuration", "origin", raw)
			continue
		}
		if _, dup := p.allowed[key]; dup {
			continue
		}
		p.allowed[key] = struct{}{}
		kept = append(kept, key)
	}
	return p, kept
}

// canonicalOrigin lowercases scheme and host and drops any path.
func canonicalOrigin(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func (p originPolicy) allows(origin string) bool {
	key, ok := canonicalOrigin(origin)
	if !ok {
		return false
	}
	if p.any {
		return true
	}
	_, ok = p.allowed[key]
	return ok
}

// checkOrigin is the upgrader's CheckOrigin. Requests without an Origin
// header are refused.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	configMu.RLock()
	ok := origin != "" && activeOrigins.allows(origin)
	configMu.RUnlock()
	if !ok {
		slog.Warn("Blocked WebSocket connection from disallowed origin",
			"origin", origin, "addr", r.RemoteAddr)
	}
	return ok
}
