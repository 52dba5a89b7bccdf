package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GeminiConfig configures the extraction backend.
type GeminiConfig struct {
	// APIKey may be left empty in the file and supplied via GEMINI_API_KEY.
	APIKey string `yaml:"api_key" json:"-"`
	Model  string `yaml:"model" json:"model"`
	// CacheDir holds extraction results keyed by a hash of the input text.
	// Empty disables the cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// Timeout bounds a single extraction call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DetectorConfig tunes the booking-page detector.
type DetectorConfig struct {
	// Threshold: the best fragment must score strictly above it.
	Threshold int `yaml:"threshold" json:"threshold"`
	// MinFragmentLength: shorter-or-equal fragments are ignored.
	MinFragmentLength int `yaml:"min_fragment_length" json:"min_fragment_length"`
	// InitialDelay is the wait after page load before the first scan.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	// NavigationDebounce lets dynamic content settle after a URL change.
	NavigationDebounce time.Duration `yaml:"navigation_debounce" json:"navigation_debounce"`
	// DisplayTimeout auto-dismisses a notification.
	DisplayTimeout time.Duration `yaml:"display_timeout" json:"display_timeout"`
}

// HarnessConfig configures evaluation runs.
type HarnessConfig struct {
	// Delay between consecutive extraction calls.
	Delay time.Duration `yaml:"delay" json:"delay"`
	// Dataset is a YAML file of labeled cases.
	Dataset string `yaml:"dataset" json:"dataset"`
	// Category limits a run to one category; empty or "all" runs everything.
	Category string `yaml:"category" json:"category"`
}

// CalendarConfig configures the ICS event sink.
type CalendarConfig struct {
	// Path of the .ics file events are appended to.
	Path string `yaml:"path" json:"path"`
	// Name is written as X-WR-CALNAME.
	Name string `yaml:"name" json:"name"`
	// DefaultDuration is used for timed events without an end.
	DefaultDuration time.Duration `yaml:"default_duration" json:"default_duration"`
}

// WatchConfig lists pages the headless watcher keeps open.
type WatchConfig struct {
	// Cron is a cron-style schedule (e.g. "*/30 * * * *") for forced rescans.
	Cron string   `yaml:"cron" json:"cron"`
	URLs []string `yaml:"urls" json:"urls"`
	// Headless=false shows the browser window.
	Headless bool `yaml:"headless" json:"headless"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for all-day values and defaults (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// SettingsPath is the user settings file (autoDetectEnabled, showSourceInfo).
	SettingsPath string `yaml:"settings_path" json:"settings_path"`

	Gemini   GeminiConfig   `yaml:"gemini" json:"gemini"`
	Detector DetectorConfig `yaml:"detector" json:"detector"`
	Harness  HarnessConfig  `yaml:"harness" json:"harness"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Watch    WatchConfig    `yaml:"watch" json:"watch"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Timezone:     "Asia/Seoul",
		LogLevel:     "info",
		SettingsPath: "./var/settings.yaml",
		Gemini: GeminiConfig{
			Model:    "gemini-2.5-flash",
			CacheDir: "./var/extract-cache",
			Timeout:  60 * time.Second,
		},
		Detector: DetectorConfig{
			Threshold:          3,
			MinFragmentLength:  10,
			InitialDelay:       2 * time.Second,
			NavigationDebounce: 1500 * time.Millisecond,
			DisplayTimeout:     15 * time.Second,
		},
		Harness: HarnessConfig{
			Delay:   time.Second,
			Dataset: "./testdata/cases.yaml",
		},
		Calendar: CalendarConfig{
			Path:            "./var/bookcal.ics",
			Name:            "예매 일정",
			DefaultDuration: 2 * time.Hour,
		},
		Watch: WatchConfig{
			Cron:     "*/30 * * * *",
			URLs:     []string{},
			Headless: true,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.SettingsPath == "" {
		c.SettingsPath = def.SettingsPath
	}

	if c.Gemini.Model == "" {
		c.Gemini.Model = def.Gemini.Model
	}
	if c.Gemini.Timeout <= 0 {
		c.Gemini.Timeout = def.Gemini.Timeout
	}

	// Threshold 0 is a legitimate (if noisy) setting; only negatives are reset.
	if c.Detector.Threshold < 0 {
		c.Detector.Threshold = def.Detector.Threshold
	}
	if c.Detector.MinFragmentLength <= 0 {
		c.Detector.MinFragmentLength = def.Detector.MinFragmentLength
	}
	if c.Detector.InitialDelay <= 0 {
		c.Detector.InitialDelay = def.Detector.InitialDelay
	}
	if c.Detector.NavigationDebounce <= 0 {
		c.Detector.NavigationDebounce = def.Detector.NavigationDebounce
	}
	if c.Detector.DisplayTimeout <= 0 {
		c.Detector.DisplayTimeout = def.Detector.DisplayTimeout
	}

	if c.Harness.Delay < 0 {
		c.Harness.Delay = 0
	}

	if c.Calendar.Path == "" {
		c.Calendar.Path = def.Calendar.Path
	}
	if c.Calendar.Name == "" {
		c.Calendar.Name = def.Calendar.Name
	}
	if c.Calendar.DefaultDuration <= 0 {
		c.Calendar.DefaultDuration = def.Calendar.DefaultDuration
	}

	if c.Watch.Cron == "" {
		c.Watch.Cron = def.Watch.Cron
	}
	if c.Watch.URLs == nil {
		c.Watch.URLs = []string{}
	}
}

// GeminiAPIKey returns the configured key, falling back to GEMINI_API_KEY.
func (c *Config) GeminiAPIKey() string {
	if c.Gemini.APIKey != "" {
		return c.Gemini.APIKey
	}
	return os.Getenv("GEMINI_API_KEY")
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     permissions and returned.
//   - Otherwise the YAML is unmarshalled over the defaults and normalized.
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

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data next to path and renames it into place.
// The settings store and calendar sink share it.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".bookcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
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
