package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// TimeOverride is a declared time-rewrite rule: events whose SUMMARY
// matches Regex (case-insensitive, anywhere in the text) have their
// start/end times replaced by StartTime/EndTime interpreted in Timezone.
type TimeOverride struct {
	Regex     string `yaml:"regex" json:"regex"`
	StartTime string `yaml:"start_time" json:"start_time"` // "HH:MM:SS"
	EndTime   string `yaml:"end_time" json:"end_time"`     // "HH:MM:SS"
	Timezone  string `yaml:"timezone" json:"timezone"`     // IANA zone id
}

// LocationOverride is a declared location-rewrite rule: events whose
// SUMMARY matches Regex get Location as their LOCATION value.
type LocationOverride struct {
	Regex    string `yaml:"regex" json:"regex"`
	Location string `yaml:"location" json:"location"`
}

// Calendar describes one proxied upstream calendar. Rule order within
// each list is precedence order: the first match per kind wins.
type Calendar struct {
	// ICalURL is the upstream ICS feed location.
	ICalURL string `yaml:"ical_url" json:"ical_url"`

	// CacheExpiryHours controls how long fetched feed bytes are reused
	// before refetching. Zero or negative means the default (4 hours).
	CacheExpiryHours float64 `yaml:"cache_expiry_hours" json:"cache_expiry_hours"`

	TimeOverrides     []TimeOverride     `yaml:"time_overrides" json:"time_overrides"`
	LocationOverrides []LocationOverride `yaml:"location_overrides" json:"location_overrides"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the proxy
// endpoints. /health and /metrics stay unauthenticated.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig bounds per-client request rates on calendar routes.
type RateLimitConfig struct {
	// PerSecond is the sustained request rate allowed per client IP.
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	// Burst is the instantaneous burst size allowed per client IP.
	Burst int `yaml:"burst" json:"burst"`
}

// Config is the top-level application configuration. It is loaded once
// at startup and treated as immutable afterwards; components receive it
// (or the parts they need) as an explicit dependency.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// CacheDir is the base directory for the on-disk feed cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Refresh is an optional cron-style schedule (e.g. "0 * * * *") for
	// background cache prewarming. Empty disables the scheduler.
	Refresh string `yaml:"refresh" json:"refresh"`

	// Metrics toggles the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// RateLimit applies to calendar routes. Zero values disable limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// BasicAuth, if non-nil, protects all endpoints except /health and
	// /metrics with HTTP Basic Authentication.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Calendars is the registry: calendar identifier -> configuration.
	// The identifier is the path segment clients request.
	Calendars map[string]Calendar `yaml:"calendars" json:"calendars"`
}

const defaultCacheExpiryHours = 4

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		CacheDir:  "./var/cache",
		LogLevel:  "info",
		Refresh:   "",
		Metrics:   false,
		Calendars: map[string]Calendar{},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./var/cache"
	}
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = "info"
	}
	if c.Calendars == nil {
		c.Calendars = map[string]Calendar{}
	}
	for name, cal := range c.Calendars {
		if cal.CacheExpiryHours <= 0 {
			cal.CacheExpiryHours = defaultCacheExpiryHours
			c.Calendars[name] = cal
		}
	}
}

// Validate checks the registry for entries that can never be served.
// Rule-level validation (regexes, wall-clock times, timezones) happens in
// the rule compiler; this only covers structural requirements.
func (c *Config) Validate() error {
	for name, cal := range c.Calendars {
		if cal.ICalURL == "" {
			return fmt.Errorf("calendar %q: ical_url is required", name)
		}
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600,
// parent directory created) and returned, so a first run produces a
// template the operator can fill in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".icalproxy-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
