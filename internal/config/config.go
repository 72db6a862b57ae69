package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FeedsEnv overrides the configured feed list with a comma-separated list
// of ICS URLs.
const FeedsEnv = "ICS_URLS"

// FeedConfig describes a single ICS subscription.
type FeedConfig struct {
	// URL is the ICS endpoint. It usually embeds a private token.
	URL string `yaml:"url" json:"url"`
	// Name is an optional label used in logs.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// CaptureConfig controls the screenshot of the dashboard page.
type CaptureConfig struct {
	Width          int    `yaml:"width" json:"width"`
	Height         int    `yaml:"height" json:"height"`
	Output         string `yaml:"output" json:"output"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for floating ICS times and for display.
	// Empty means the process zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule of the render cycle.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Feeds are shown left to right, one per column.
	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	CacheTTLSeconds int    `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`
	LookAheadHours  int    `yaml:"look_ahead_hours" json:"look_ahead_hours"`
	MaxEvents       int    `yaml:"max_events" json:"max_events"`
	Parser          string `yaml:"parser" json:"parser"`
	HonorTZID       bool   `yaml:"honor_tzid" json:"honor_tzid"`
	LogLevel        string `yaml:"log_level" json:"log_level"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values so partially-filled files behave
// like the defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/5 * * * *"
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = 60
	}
	if c.LookAheadHours <= 0 {
		c.LookAheadHours = 72
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 6
	}
	switch strings.ToLower(c.Parser) {
	case "lenient", "strict":
		c.Parser = strings.ToLower(c.Parser)
	default:
		c.Parser = "lenient"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = 800
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 480
	}
	if c.Capture.Output == "" {
		c.Capture.Output = "/var/lib/epddash/screen.png"
	}
	if c.Capture.TimeoutSeconds <= 0 {
		c.Capture.TimeoutSeconds = 30
	}
}

// ApplyEnv replaces Feeds with the URLs from ICS_URLS when it is set and
// yields at least one URL.
func (c *Config) ApplyEnv() {
	raw, ok := os.LookupEnv(FeedsEnv)
	if !ok {
		return
	}
	urls := SplitURLs(raw)
	if len(urls) == 0 {
		return
	}
	feeds := make([]FeedConfig, 0, len(urls))
	for _, u := range urls {
		feeds = append(feeds, FeedConfig{URL: u})
	}
	c.Feeds = feeds
}

// SplitURLs splits a comma-separated list, trimming blanks and dropping
// empty entries. Order and duplicates are preserved.
func SplitURLs(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FeedURLs returns the feed URLs in configured order. Entries without a URL
// are skipped.
func (c *Config) FeedURLs() []string {
	urls := make([]string, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		if u := strings.TrimSpace(f.URL); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) LookAhead() time.Duration {
	return time.Duration(c.LookAheadHours) * time.Hour
}

func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to time.Local when it is empty.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is read and normalized.
//
// ICS_URLS is applied after the file in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether a read-only config dir is fatal.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
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

	tmp, err := os.CreateTemp(dir, ".epddash-config-*.tmp")
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

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
