package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched for in the
// current and home directories.
const DefaultConfigFile = ".lure.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LURE_"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// LoadFile overlays the YAML file at path onto cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return ErrConfigNotFound
		}
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.ConfigFilePath = path

	return nil
}

// FindConfigFile searches for the configuration file in the following order:
// 1. configPath, if specified
// 2. .lure.yaml in the current directory
// 3. config.yaml in the XDG config directory
// 4. .lure.yaml in the user's home directory
//
// Returns an empty string if none exists.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envBinding maps one environment variable onto a Config field.
type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func intField(get func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := cast.ToIntE(value)
		if err != nil {
			return err
		}
		*get(cfg) = n
		return nil
	}
}

func stringField(get func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		*get(cfg) = value
		return nil
	}
}

func boolField(get func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		b, err := cast.ToBoolE(value)
		if err != nil {
			return err
		}
		*get(cfg) = b
		return nil
	}
}

// envBindings lists every supported LURE_* variable.
var envBindings = []envBinding{
	{"BIND_ADDRESS", stringField(func(c *Config) *string { return &c.BindAddress })},
	{"SSH_PORT", intField(func(c *Config) *int { return &c.Ports.SSH })},
	{"HTTP_PORT", intField(func(c *Config) *int { return &c.Ports.HTTP })},
	{"RDP_PORT", intField(func(c *Config) *int { return &c.Ports.RDP })},
	{"SMB_PORT", intField(func(c *Config) *int { return &c.Ports.SMB })},
	{"FTP_PORT", intField(func(c *Config) *int { return &c.Ports.FTP })},
	{"TELNET_PORT", intField(func(c *Config) *int { return &c.Ports.Telnet })},
	{"METRICS_PORT", intField(func(c *Config) *int { return &c.Ports.Metrics })},
	{"MAX_CONNS_PER_PORT", intField(func(c *Config) *int { return &c.MaxConnsPerPort })},
	{"SSH_HOST_KEY", stringField(func(c *Config) *string { return &c.SSH.HostKeyPath })},
	{"SSH_BANNER", stringField(func(c *Config) *string { return &c.SSH.Banner })},
	{"DB_DRIVER", stringField(func(c *Config) *string { return &c.Database.Driver })},
	{"DB_DSN", stringField(func(c *Config) *string { return &c.Database.DSN })},
	{"DB_DIR", stringField(func(c *Config) *string { return &c.Database.Dir })},
	{"TRACKER_URL", stringField(func(c *Config) *string { return &c.Tracker.URL })},
	{"TRACKER_TOKEN", stringField(func(c *Config) *string { return &c.Tracker.Token })},
	{"TRACKER_WORKSPACE", stringField(func(c *Config) *string { return &c.Tracker.Workspace })},
	{"REPORT_INTERVAL", intField(func(c *Config) *int { return &c.Tracker.IntervalSeconds })},
	{"NATS_URL", stringField(func(c *Config) *string { return &c.NATS.URL })},
	{"NATS_SUBJECT", stringField(func(c *Config) *string { return &c.NATS.Subject })},
	{"LOG_LEVEL", stringField(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringField(func(c *Config) *string { return &c.Log.Format })},
	{"LOG_REDACT_CREDENTIALS", boolField(func(c *Config) *bool { return &c.Log.RedactCredentials })},
}

// ApplyEnv overlays LURE_* environment variables onto cfg. Pass os.LookupEnv
// in production. Unset variables are ignored; malformed ones are errors.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	for _, b := range envBindings {
		value, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(cfg, value); err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, b.name, value, err)
		}
	}
	return nil
}

// EnvNames returns the names of all supported environment variables.
func EnvNames() []string {
	names := make([]string, len(envBindings))
	for i, b := range envBindings {
		names[i] = EnvPrefix + b.name
	}
	return names
}

// Load builds a Config from defaults, the configuration file (explicit path
// or discovered) and the environment. An explicitly given path that does not
// exist is an error; a missing discovered file is not.
func Load(configPath string, lookup LookupFunc) (*Config, error) {
	cfg := NewConfig()

	path := FindConfigFile(configPath)
	switch {
	case path != "":
		if err := LoadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	case configPath != "":
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, configPath)
	}

	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	return cfg, nil
}
