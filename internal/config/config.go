package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig points at the planner REST API that owns the records.
type APIConfig struct {
	// BaseURL is the API root; /objectives is appended to it.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is passed through as a bearer token. Empty disables the header.
	Token   string   `yaml:"token,omitempty" json:"-"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
}

// CalendarConfig tunes expansion, classification and the response cache.
type CalendarConfig struct {
	// MinTimedDuration is the shortest timed block left as-is. Anything
	// shorter is shown as one hour.
	MinTimedDuration Duration `yaml:"min_timed_duration" json:"min_timed_duration"`
	// MaxOccurrences caps occurrences generated per record and window.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// AgendaDays is the length of the agenda view.
	AgendaDays int `yaml:"agenda_days" json:"agenda_days"`

	ResponseCacheSize int      `yaml:"response_cache_size" json:"response_cache_size"`
	ResponseCacheTTL  Duration `yaml:"response_cache_ttl" json:"response_cache_ttl"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP surface.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for view windows (e.g. "Asia/Seoul").
	// Stored instants and all-day keys stay in UTC regardless.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule (e.g. "*/5 * * * *") for pulling
	// records from the API.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the ETag cache for API responses.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	API      APIConfig      `yaml:"api" json:"api"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen            = "127.0.0.1:8080"
	defaultTimezone          = "UTC"
	defaultRefreshCron       = "*/5 * * * *"
	defaultCacheDir          = "./cache"
	defaultAPITimeout        = 10 * time.Second
	defaultMinTimedDuration  = 30 * time.Minute
	defaultMaxOccurrences    = 5000
	defaultAgendaDays        = 30
	defaultResponseCacheSize = 128
	defaultResponseCacheTTL  = time.Minute
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		WeekStart:   "monday",
		RefreshCron: defaultRefreshCron,
		LogLevel:    "info",
		CacheDir:    defaultCacheDir,
		API: APIConfig{
			BaseURL: "http://localhost:8000/api/v1",
			Timeout: Duration(defaultAPITimeout),
		},
		Calendar: CalendarConfig{
			MinTimedDuration:  Duration(defaultMinTimedDuration),
			MaxOccurrences:    defaultMaxOccurrences,
			AgendaDays:        defaultAgendaDays,
			ResponseCacheSize: defaultResponseCacheSize,
			ResponseCacheTTL:  Duration(defaultResponseCacheTTL),
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart)); c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout <= 0 {
		c.API.Timeout = Duration(defaultAPITimeout)
	}

	cal := &c.Calendar
	if cal.MinTimedDuration <= 0 {
		cal.MinTimedDuration = Duration(defaultMinTimedDuration)
	}
	if cal.MaxOccurrences <= 0 {
		cal.MaxOccurrences = defaultMaxOccurrences
	}
	if cal.AgendaDays <= 0 {
		cal.AgendaDays = defaultAgendaDays
	}
	if cal.ResponseCacheSize <= 0 {
		cal.ResponseCacheSize = defaultResponseCacheSize
	}
	if cal.ResponseCacheTTL <= 0 {
		cal.ResponseCacheTTL = Duration(defaultResponseCacheTTL)
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// FirstWeekday maps WeekStart to a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".plancal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Duration is a time.Duration that reads and writes as text in YAML. On top
// of Go durations it accepts day ("14d") and week ("2w") suffixes.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDuration parses a Go duration, or a whole number of days ("d") or
// weeks ("w"). The empty string is zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	default:
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, err)
		}
		return d, nil
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("parse duration %q: invalid count", s)
	}
	return time.Duration(n) * unit, nil
}
