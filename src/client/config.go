package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CLIConfig represents the CLI client configuration
type CLIConfig struct {
	// Server connection settings
	Server ServerConfig `yaml:"server,omitempty"`
	// Authentication
	Auth AuthConfig `yaml:"auth,omitempty"`
	// Output preferences
	Output OutputConfig `yaml:"output,omitempty"`
	// Realtime / sync behavior
	Sync SyncConfig `yaml:"sync,omitempty"`
	// Logging
	Logging LoggingConfig `yaml:"logging,omitempty"`
	// Debug mode
	Debug bool `yaml:"debug,omitempty"`
}

// ServerConfig holds server connection settings
type ServerConfig struct {
	URL        string `yaml:"url,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
	Timeout    string `yaml:"timeout,omitempty"`
}

// AuthConfig holds authentication settings. Token and identity are
// written by the login command; editing the token here while a session
// is running triggers a live reauthentication (see Watcher).
type AuthConfig struct {
	Token    string `yaml:"token,omitempty"`
	UserID   string `yaml:"user_id,omitempty"`
	Username string `yaml:"username,omitempty"`
}

// OutputConfig holds output preferences
type OutputConfig struct {
	Format  string `yaml:"format,omitempty"`
	NoColor bool   `yaml:"no_color,omitempty"`
}

// SyncConfig holds realtime subsystem settings
type SyncConfig struct {
	// How often snapshots are reconciled against the server; also the
	// poll cadence when the push channel is unavailable
	PollInterval string `yaml:"poll_interval,omitempty"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Dir string `yaml:"dir,omitempty"`
}

// DefaultServer is used when no server is configured.
const DefaultServer = "https://portal.fleetdesk.io"

// DefaultConfig returns the default configuration
func DefaultConfig() *CLIConfig {
	return &CLIConfig{
		Server: ServerConfig{
			URL:        DefaultServer,
			APIVersion: "v1",
			Timeout:    "30s",
		},
		Output: OutputConfig{
			Format: "table",
		},
		Sync: SyncConfig{
			PollInterval: "1m",
		},
		Logging: LoggingConfig{
			Dir: CLILogDir(),
		},
	}
}

// LoadConfig loads the configuration from the default config file
func LoadConfig() (*CLIConfig, error) {
	return LoadConfigFrom(CLIConfigFile())
}

// LoadConfigFrom loads configuration from an explicit path. A missing
// file yields the defaults.
func LoadConfigFrom(path string) (*CLIConfig, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, NewConfigError(fmt.Sprintf("failed to read config: %v", err))
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, NewConfigError(fmt.Sprintf("failed to parse config: %v", err))
	}
	return config, nil
}

// Save writes the configuration to the given path, creating the
// directory if needed.
func (c *CLIConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return NewConfigError(fmt.Sprintf("failed to create config directory: %v", err))
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return NewConfigError(fmt.Sprintf("failed to encode config: %v", err))
	}

	// Token lives in this file
	if err := os.WriteFile(path, data, 0600); err != nil {
		return NewConfigError(fmt.Sprintf("failed to write config: %v", err))
	}
	return nil
}

// ServerURL returns the configured server, without a trailing slash.
func (c *CLIConfig) ServerURL() string {
	url := c.Server.URL
	if url == "" {
		url = DefaultServer
	}
	return strings.TrimRight(url, "/")
}

// RealtimeURL returns the websocket endpoint derived from the server
// URL.
func (c *CLIConfig) RealtimeURL() string {
	url := c.ServerURL()
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/api/" + c.apiVersion() + "/realtime"
}

// PollInterval returns the snapshot reconciliation interval.
func (c *CLIConfig) PollInterval() time.Duration {
	if d, err := time.ParseDuration(c.Sync.PollInterval); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// LogDir returns the configured log directory.
func (c *CLIConfig) LogDir() string {
	if c.Logging.Dir != "" {
		return c.Logging.Dir
	}
	return CLILogDir()
}

func (c *CLIConfig) apiVersion() string {
	if c.Server.APIVersion != "" {
		return c.Server.APIVersion
	}
	return "v1"
}
