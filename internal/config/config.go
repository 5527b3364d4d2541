package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBranch is used when the operator leaves the branch empty during setup.
const DefaultBranch = "main"

// DefaultPollInterval is the reference check interval for service mode.
const DefaultPollInterval = 60 * time.Second

var (
	// ErrNotConfigured indicates the configuration file does not exist yet.
	ErrNotConfigured = errors.New("not configured")
	// ErrInvalid indicates the configuration file exists but cannot be used.
	ErrInvalid = errors.New("invalid configuration")
)

// Config represents the complete autopulld configuration
type Config struct {
	Token        string     `yaml:"token"`
	Repo         RepoConfig `yaml:"repo"`
	Branch       string     `yaml:"branch"`
	LocalPath    string     `yaml:"local_path"`
	PostCommand  string     `yaml:"post_command,omitempty"`
	PollInterval Duration   `yaml:"poll_interval"`
	LogFile      string     `yaml:"log_file,omitempty"`
}

// RepoConfig identifies the monitored repository
type RepoConfig struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
}

// Duration wraps time.Duration with YAML string encoding ("60s", "5m").
type Duration time.Duration

// UnmarshalYAML parses a duration string into a Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// DefaultPath returns the default configuration file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "autopulld", "config.yaml"), nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotConfigured, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %v", ErrInvalid, err)
	}

	// Expand environment variables in string fields
	cfg.expandEnv()

	// Apply defaults
	cfg.applyDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return &cfg, nil
}

// Save persists the configuration. The file is written to a temporary
// sibling first and renamed into place so an interrupted write never
// clobbers an existing valid config. Mode 0600: the file holds a credential.
func Save(cfg *Config, path string) error {
	path = os.ExpandEnv(path)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".autopulld-config-*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmpFile.Chmod(0600); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.Owner = os.ExpandEnv(c.Repo.Owner)
	c.Repo.Name = os.ExpandEnv(c.Repo.Name)
	c.Repo.URL = os.ExpandEnv(c.Repo.URL)
	c.Branch = os.ExpandEnv(c.Branch)
	c.LocalPath = os.ExpandEnv(c.LocalPath)
	c.LogFile = os.ExpandEnv(c.LogFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Branch == "" {
		c.Branch = DefaultBranch
	}
	if c.Repo.URL == "" && c.Repo.Owner != "" && c.Repo.Name != "" {
		c.Repo.URL = fmt.Sprintf("https://github.com/%s/%s.git", c.Repo.Owner, c.Repo.Name)
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(DefaultPollInterval)
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.Repo.Owner == "" {
		return fmt.Errorf("repo.owner is required")
	}
	if c.Repo.Name == "" {
		return fmt.Errorf("repo.name is required")
	}
	if c.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if c.LocalPath == "" {
		return fmt.Errorf("local_path is required")
	}
	if !filepath.IsAbs(c.LocalPath) {
		return fmt.Errorf("local_path must be an absolute path: %s", c.LocalPath)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	return nil
}

// Slug returns the owner/name form of the monitored repository.
func (c *Config) Slug() string {
	return c.Repo.Owner + "/" + c.Repo.Name
}

// LogFilePath returns the log target, defaulting to autopull.log next to
// the config file when unset.
func (c *Config) LogFilePath(configPath string) string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(filepath.Dir(os.ExpandEnv(configPath)), "autopull.log")
}

// Interval returns the poll interval as a time.Duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.PollInterval)
}
