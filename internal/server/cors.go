package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type CORSConfig struct {
	// AllowedOrigins lists origins permitted to call the API from a
	// browser. "*" allows any origin. Empty disables CORS handling.
	AllowedOrigins []string
}

type corsPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

func newCORSPolicy(cfg CORSConfig) (*corsPolicy, error) {
	if len(cfg.AllowedOrigins) == 0 {
		return nil, nil
	}
	policy := &corsPolicy{origins: make(map[string]struct{}, len(cfg.AllowedOrigins))}
	for _, origin := range cfg.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			policy.allowAll = true
			continue
		}
		normalized, err := normalizeOrigin(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid CORS origin %q: %w", origin, err)
		}
		policy.origins[normalized] = struct{}{}
	}
	if !policy.allowAll && len(policy.origins) == 0 {
		return nil, nil
	}
	return policy, nil
}

func normalizeOrigin(origin string) (string, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("origin must include scheme and host")
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), nil
}

func (p *corsPolicy) originAllowed(origin string) bool {
	if p == nil {
		return false
	}
	if p.allowAll {
		return true
	}
	normalized, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	_, ok := p.origins[normalized]
	return ok
}

func corsMiddleware(policy *corsPolicy, logger *slog.Logger, next http.Handler) http.Handler {
	if policy == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !policy.originAllowed(origin) {
			if logger != nil {
				logger.Warn("rejected cross-origin request", "origin", origin, "path", r.URL.Path)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
