// Package fetch retrieves upstream ICS feeds with a disk-backed,
// time-expiring cache. A cached body younger than the calendar's expiry
// window is served without touching the network; stale entries are
// revalidated with conditional requests (ETag / Last-Modified), and a
// stale body is still preferred over failing when the upstream is
// unreachable.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"icalproxy/internal/apperr"
	"icalproxy/internal/config"
	appLog "icalproxy/internal/log"
	"icalproxy/internal/metrics"
)

// meta holds cache metadata for one calendar's feed.
type meta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher fetches feeds for registered calendars. Concurrent fetches for
// the same calendar are serialized so cache writes never interleave;
// different calendars proceed independently.
type Fetcher struct {
	client   *http.Client
	cacheDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Fetcher storing cached feeds under cacheDir, one
// subdirectory per calendar identifier.
func New(cacheDir string) *Fetcher {
	if cacheDir == "" {
		// Development fallback so runs without explicit config still work.
		cacheDir = "./var/cache"
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
		locks:    map[string]*sync.Mutex{},
	}
}

// Fetch returns the raw feed bytes for the named calendar, from cache if
// the cached copy is still within cal.CacheExpiryHours, otherwise from
// the upstream URL. Failures are fetch-kind errors.
func (f *Fetcher) Fetch(ctx context.Context, name string, cal config.Calendar) ([]byte, error) {
	lock := f.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(f.cacheDir, sanitizeName(name))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperr.Wrap(err, apperr.KindFetch, "create cache dir for %q", name)
	}

	m, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	expiry := time.Duration(cal.CacheExpiryHours * float64(time.Hour))
	if expiry <= 0 {
		expiry = 4 * time.Hour
	}

	// Fresh cache for the same URL: no network at all.
	if len(cached) > 0 && m.URL == cal.ICalURL && time.Since(m.FetchedAt) < expiry {
		metrics.ObserveFetch(name, "cache_hit")
		appLog.Debug("feed cache hit", "calendar", name, "age", time.Since(m.FetchedAt).String())
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cal.ICalURL, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindFetch, "build request for %q", name)
	}
	if m.URL == cal.ICalURL {
		if m.ETag != "" {
			req.Header.Set("If-None-Match", m.ETag)
		}
		if m.LastModified != "" {
			req.Header.Set("If-Modified-Since", m.LastModified)
		}
	}

	appLog.Info("feed fetch start", "calendar", name, "url", redactURL(cal.ICalURL))

	resp, err := f.client.Do(req)
	if err != nil {
		// Network error: a stale body is better than no body.
		if len(cached) > 0 && m.URL == cal.ICalURL {
			metrics.ObserveFetch(name, "stale_fallback")
			appLog.Error("feed fetch network error, serving stale cache", err, "calendar", name)
			return cached, nil
		}
		return nil, apperr.Wrap(err, apperr.KindFetch, "fetch %q", name)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, apperr.Wrap(readErr, apperr.KindFetch, "read feed body for %q", name)
		}
		newMeta := meta{
			URL:          cal.ICalURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := saveCache(dir, newMeta, body); err != nil {
			// The fetched body is still good; only persistence failed.
			appLog.Error("feed cache save failed", err, "calendar", name)
		}
		metrics.ObserveFetch(name, "fetched")
		appLog.Info("feed fetch success", "calendar", name, "bytes", len(body))
		return body, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return nil, apperr.New(apperr.KindFetch, "feed %q: 304 Not Modified with no cached body", name)
		}
		// Revalidated: refresh the timestamp so the expiry window restarts.
		m.FetchedAt = time.Now().UTC()
		if err := saveMeta(dir, m); err != nil {
			appLog.Error("feed cache meta update failed", err, "calendar", name)
		}
		metrics.ObserveFetch(name, "revalidated")
		appLog.Info("feed not modified, cache revalidated", "calendar", name)
		return cached, nil

	default:
		if len(cached) > 0 && m.URL == cal.ICalURL {
			metrics.ObserveFetch(name, "stale_fallback")
			appLog.Error("feed fetch non-OK, serving stale cache", errors.New(resp.Status), "calendar", name, "status", resp.StatusCode)
			return cached, nil
		}
		return nil, apperr.New(apperr.KindFetch, "feed %q: upstream returned %s", name, resp.Status)
	}
}

func (f *Fetcher) lockFor(name string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[name] = lock
	}
	return lock
}

func loadMeta(dir string) (meta, error) {
	var m meta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return meta{}, err
	}
	return m, nil
}

func saveMeta(dir string, m meta) error {
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

func saveCache(dir string, m meta, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	return saveMeta(dir, m)
}

// sanitizeName keeps calendar identifiers safe as directory names.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}

// redactURL hides path and query of a feed URL for logging; private
// feeds often embed access tokens there.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	j := strings.IndexByte(rest, '/')
	if j < 0 {
		return u
	}
	return u[:i+3+j] + "/...(redacted)"
}
