package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the single frame events are stored and compared in.
	// "Local" (default) uses the host's local zone; otherwise an IANA name.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DataFile is the JSON file holding the event collection.
	DataFile string `yaml:"data_file" json:"data_file"`

	// WorkStartHour / WorkEndHour bound free-slot discovery.
	WorkStartHour int `yaml:"work_start_hour" json:"work_start_hour"`
	WorkEndHour   int `yaml:"work_end_hour" json:"work_end_hour"`

	// DefaultReminderMinutes applies to created events that do not set one.
	DefaultReminderMinutes int `yaml:"default_reminder_minutes" json:"default_reminder_minutes"`

	// UpcomingDays is the default lookahead for upcoming/summary queries.
	UpcomingDays int `yaml:"upcoming_days" json:"upcoming_days"`

	// ReminderCron is the cron schedule of the reminder poller. Reminder
	// detection has minute granularity, so anything coarser than every
	// minute may miss reminders.
	ReminderCron string `yaml:"reminder_cron" json:"reminder_cron"`

	// StrictLoad refuses to start on a corrupt data file instead of
	// recovering with an empty collection.
	StrictLoad bool `yaml:"strict_load" json:"strict_load"`

	LogLevel       string `yaml:"log_level" json:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:5000"
	defaultTimezone      = "Local"
	defaultDataFile      = "data/calendar_events.json"
	defaultWorkStartHour = 9
	defaultWorkEndHour   = 18
	defaultReminder      = 15
	defaultUpcomingDays  = 7
	defaultReminderCron  = "* * * * *"
	defaultLogLevel      = "INFO"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		DataFile:               defaultDataFile,
		WorkStartHour:          defaultWorkStartHour,
		WorkEndHour:            defaultWorkEndHour,
		DefaultReminderMinutes: defaultReminder,
		UpcomingDays:           defaultUpcomingDays,
		ReminderCron:           defaultReminderCron,
		LogLevel:               defaultLogLevel,
		MetricsEnabled:         true,
		BasicAuth:              nil,
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
	if c.DataFile == "" {
		c.DataFile = defaultDataFile
	}
	// Work hours must form a non-empty window inside a day; otherwise fall
	// back to 9–18 as a pair.
	if c.WorkStartHour < 0 || c.WorkEndHour > 24 || c.WorkStartHour >= c.WorkEndHour {
		c.WorkStartHour = defaultWorkStartHour
		c.WorkEndHour = defaultWorkEndHour
	}
	if c.DefaultReminderMinutes < 0 {
		c.DefaultReminderMinutes = defaultReminder
	}
	if c.UpcomingDays <= 0 {
		c.UpcomingDays = defaultUpcomingDays
	}
	if c.ReminderCron == "" {
		c.ReminderCron = defaultReminderCron
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Location resolves Timezone. Unknown names return an error so the caller
// can decide whether to fall back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == defaultTimezone {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Start from defaults so booleans missing from older files keep their
	// default value.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
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

	tmp, err := os.CreateTemp(dir, ".calcore-config-*.tmp")
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

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
