// Package config handles wpguard config file parsing and location resolution.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adamancini/wpguard/internal/remote"
	"github.com/adamancini/wpguard/internal/types"
)

// EnvConfig names the environment variable that points at a config file.
const EnvConfig = "WPGUARD_CONFIG"

// ErrNotFound is returned by Find when no config file exists.
var ErrNotFound = errors.New("no wpguard config found in standard locations")

// Duration is a time.Duration written as "30s" or "2m" in config files.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Remote describes the command channel to the WordPress host.
type Remote struct {
	Transport       types.Transport `yaml:"transport" toml:"transport" json:"transport" validate:"required,oneof=ssh winrm local"`
	Host            string          `yaml:"host,omitempty" toml:"host,omitempty" json:"host,omitempty" validate:"required_unless=Transport local"`
	Port            int             `yaml:"port,omitempty" toml:"port,omitempty" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User            string          `yaml:"user,omitempty" toml:"user,omitempty" json:"user,omitempty" validate:"required_unless=Transport local"`
	Password        string          `yaml:"password,omitempty" toml:"password,omitempty" json:"password,omitempty"`
	KeyFile         string          `yaml:"key_file,omitempty" toml:"key_file,omitempty" json:"key_file,omitempty"`
	Passphrase      string          `yaml:"passphrase,omitempty" toml:"passphrase,omitempty" json:"passphrase,omitempty"`
	KnownHosts      string          `yaml:"known_hosts,omitempty" toml:"known_hosts,omitempty" json:"known_hosts,omitempty"`
	Domain          string          `yaml:"domain,omitempty" toml:"domain,omitempty" json:"domain,omitempty"`
	HTTPS           bool            `yaml:"https,omitempty" toml:"https,omitempty" json:"https,omitempty"`
	InsecureTLS     bool            `yaml:"insecure_tls,omitempty" toml:"insecure_tls,omitempty" json:"insecure_tls,omitempty"`
	Shell           string          `yaml:"shell,omitempty" toml:"shell,omitempty" json:"shell,omitempty"`
	Timeout         Duration        `yaml:"timeout,omitempty" toml:"timeout,omitempty" json:"timeout,omitempty"`
	RatePerSec      float64         `yaml:"rate_per_sec,omitempty" toml:"rate_per_sec,omitempty" json:"rate_per_sec,omitempty" validate:"gte=0"`
}

// Site describes the WordPress installation.
type Site struct {
	Path        string `yaml:"path" toml:"path" json:"path" validate:"required"`
	URL         string `yaml:"url,omitempty" toml:"url,omitempty" json:"url,omitempty" validate:"omitempty,url"`
	DebugLog    string `yaml:"debug_log,omitempty" toml:"debug_log,omitempty" json:"debug_log,omitempty"`
	InsecureTLS bool   `yaml:"insecure_tls,omitempty" toml:"insecure_tls,omitempty" json:"insecure_tls,omitempty"`
}

// Safety tunes the test orchestrator.
type Safety struct {
	SettleDelay          Duration `yaml:"settle_delay" toml:"settle_delay" json:"settle_delay"`
	SettleRetries        int      `yaml:"settle_retries" toml:"settle_retries" json:"settle_retries" validate:"gte=0,lte=10"`
	SettleBackoff        Duration `yaml:"settle_backoff" toml:"settle_backoff" json:"settle_backoff"`
	AutoRollback         bool     `yaml:"auto_rollback" toml:"auto_rollback" json:"auto_rollback"`
	AggressiveEscalation bool     `yaml:"aggressive_escalation" toml:"aggressive_escalation" json:"aggressive_escalation"`
	MutationTimeout      Duration `yaml:"mutation_timeout" toml:"mutation_timeout" json:"mutation_timeout"`
	ProbeTimeout         Duration `yaml:"probe_timeout" toml:"probe_timeout" json:"probe_timeout"`
}

// State locates the persisted test status files.
type State struct {
	Dir string `yaml:"dir,omitempty" toml:"dir,omitempty" json:"dir,omitempty"`
}

// History configures the run journal.
type History struct {
	Driver string `yaml:"driver" toml:"driver" json:"driver" validate:"omitempty,oneof=sqlite none"`
	Path   string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

// Watch configures scheduled probes and batches.
type Watch struct {
	HealthSchedule string `yaml:"health_schedule,omitempty" toml:"health_schedule,omitempty" json:"health_schedule,omitempty"`
	BatchSchedule  string `yaml:"batch_schedule,omitempty" toml:"batch_schedule,omitempty" json:"batch_schedule,omitempty"`
	InactiveOnly   bool   `yaml:"inactive_only,omitempty" toml:"inactive_only,omitempty" json:"inactive_only,omitempty"`
	Timezone       string `yaml:"timezone,omitempty" toml:"timezone,omitempty" json:"timezone,omitempty"`
}

// Config is the parsed configuration file.
type Config struct {
	Remote  Remote  `yaml:"remote" toml:"remote" json:"remote"`
	Site    Site    `yaml:"site" toml:"site" json:"site"`
	Safety  Safety  `yaml:"safety" toml:"safety" json:"safety"`
	State   State   `yaml:"state,omitempty" toml:"state,omitempty" json:"state,omitempty"`
	History History `yaml:"history" toml:"history" json:"history"`
	Watch   Watch   `yaml:"watch,omitempty" toml:"watch,omitempty" json:"watch,omitempty"`

	// Path is the file the config was loaded from, empty for defaults.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Default returns the configuration used when no file exists and the base
// that files are decoded onto.
func Default() *Config {
	return &Config{
		Remote: Remote{
			Transport: types.TransportLocal,
			Timeout:   Duration(15 * time.Second),
		},
		Site: Site{
			Path: "/var/www/html",
		},
		Safety: Safety{
			SettleDelay:          Duration(3 * time.Second),
			SettleBackoff:        Duration(2 * time.Second),
			AutoRollback:         true,
			AggressiveEscalation: true,
			MutationTimeout:      Duration(30 * time.Second),
			ProbeTimeout:         Duration(30 * time.Second),
		},
		History: History{Driver: "sqlite"},
	}
}

// DebugLogPath returns the configured debug log, defaulting to
// <path>/wp-content/debug.log.
func (c *Config) DebugLogPath() string {
	if c.Site.DebugLog != "" {
		return c.Site.DebugLog
	}
	return strings.TrimRight(c.Site.Path, "/") + "/wp-content/debug.log"
}

// RemoteConfig converts the remote section for remote.Open.
func (c *Config) RemoteConfig() remote.Config {
	r := c.Remote
	return remote.Config{
		Transport: r.Transport,
		SSH: remote.SSHConfig{
			Host:           r.Host,
			Port:           r.Port,
			User:           r.User,
			Password:       r.Password,
			KeyFile:        expandHome(r.KeyFile),
			Passphrase:     r.Passphrase,
			KnownHostsFile: expandHome(r.KnownHosts),
			DialTimeout:    r.Timeout.Std(),
		},
		WinRM: remote.WinRMConfig{
			Host:     r.Host,
			Port:     r.Port,
			User:     r.User,
			Password: r.Password,
			Domain:   r.Domain,
			HTTPS:    r.HTTPS,
			Insecure: r.InsecureTLS,
			Timeout:  r.Timeout.Std(),
		},
		Shell:      r.Shell,
		RatePerSec: r.RatePerSec,
	}
}

// StateDir returns the configured state directory or the default one.
func (c *Config) StateDir() (string, error) {
	if c.State.Dir != "" {
		return expandHome(c.State.Dir), nil
	}
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to determine home directory: %w", err)
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "wpguard"), nil
}

// HistoryPath returns the sqlite journal path, or "" when history is off.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Driver == "none" {
		return "", nil
	}
	if c.History.Path != "" {
		return expandHome(c.History.Path), nil
	}
	dir, err := c.StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// SearchPaths returns the directories searched for a config file, in order.
func SearchPaths() ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}

	paths := []string{
		filepath.Join(xdgConfig, "wpguard"),
		filepath.Join(home, ".wpguard"),
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, cwd)
	}
	return paths, nil
}

var fileNames = []string{
	"wpguard.yaml",
	"wpguard.yml",
	"wpguard.toml",
	"wpguard.json",
	"config",
	"config.yaml",
	"config.yml",
	"config.toml",
	"config.json",
	".wpguard",
	".wpguard.yaml",
	".wpguard.yml",
	".wpguard.toml",
}

// Find searches for a config file in the standard locations.
// Returns the path to the first file found, or an error if none exists.
func Find(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv(EnvConfig); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	dirs, err := SearchPaths()
	if err != nil {
		return "", err
	}
	for _, dir := range dirs {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}

	return "", ErrNotFound
}

// Load reads, parses and validates a config file.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	format := detectFormat(path, content)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unable to detect file format for %s", path)
	}

	cfg, err := parse(content, format)
	if err != nil {
		return nil, err
	}
	cfg.Path = path

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault finds and loads a config file, falling back to defaults
// when none exists. An explicit path that is missing is an error.
func LoadOrDefault(explicitPath string) (*Config, error) {
	path, err := Find(explicitPath)
	if err != nil {
		if explicitPath == "" && errors.Is(err, ErrNotFound) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(path)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
