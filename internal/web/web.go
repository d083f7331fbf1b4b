// Package web serves the proxied calendars over HTTP. One stable local
// URL per registered calendar: GET /{calendar}/events.ics fetches the
// upstream feed (through the cache), applies the calendar's overrides,
// and returns the transformed ICS.
package web

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"icalproxy/internal/apperr"
	"icalproxy/internal/config"
	appLog "icalproxy/internal/log"
	"icalproxy/internal/metrics"
	"icalproxy/internal/override"
	"icalproxy/internal/ratelimit"
	"icalproxy/internal/rules"
)

// FeedFetcher retrieves raw feed bytes for a calendar, from cache or
// upstream. Satisfied by *fetch.Fetcher.
type FeedFetcher interface {
	Fetch(ctx context.Context, name string, cal config.Calendar) ([]byte, error)
}

// Server holds the immutable calendar registry, the rule sets compiled
// from it at startup, and the fetch collaborator.
type Server struct {
	cfg      *config.Config
	ruleSets map[string]rules.Set
	fetcher  FeedFetcher
}

// NewServer constructs a Server. ruleSets must contain one entry per
// registered calendar (the startup sequence compiles and validates them
// before the server exists).
func NewServer(cfg *config.Config, ruleSets map[string]rules.Set, fetcher FeedFetcher) *Server {
	return &Server{cfg: cfg, ruleSets: ruleSets, fetcher: fetcher}
}

// Router wires the HTTP routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)

	if s.cfg.Metrics {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Group(func(r chi.Router) {
		if s.cfg.RateLimit.PerSecond > 0 && s.cfg.RateLimit.Burst > 0 {
			limiter := ratelimit.New(rate.Limit(s.cfg.RateLimit.PerSecond), s.cfg.RateLimit.Burst)
			r.Use(limiter.Middleware())
		}
		r.Get("/{calendar}/events.ics", s.handleCalendar)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "calendar")

	cal, ok := s.cfg.Calendars[name]
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "The calendar %s does not exist.", name)
		return
	}

	raw, err := s.fetcher.Fetch(r.Context(), name, cal)
	if err != nil {
		s.fail(w, name, err)
		return
	}

	transformed, err := override.Transform(raw, s.ruleSets[name])
	if err != nil {
		s.fail(w, name, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transformed)
}

// fail maps error kinds to HTTP statuses. Upstream problems (fetch
// failures, unparseable feeds) are gateway errors; transform failures are
// internal. No error path ever writes calendar output.
func (s *Server) fail(w http.ResponseWriter, name string, err error) {
	appLog.Error("request failed", err, "calendar", name, "kind", string(apperr.KindOf(err)))

	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindFetch, apperr.KindParse:
		status = http.StatusBadGateway
	case apperr.KindTransform:
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware protects all endpoints except /health and /metrics.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icalproxy", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
