// Package config provides configuration management for the nodebook CLI.
package config

import "time"

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Port int `koanf:"port"`
}

// Config holds all CLI configuration options.
type Config struct {
	StateDriver  string        `koanf:"state_driver"`
	StatePath    string        `koanf:"state_path"`
	StateDSN     string        `koanf:"state_dsn"`
	RelowerDelay time.Duration `koanf:"relower_delay"`
	MinRunTime   time.Duration `koanf:"min_run_time"`
	RegistryURL  string        `koanf:"registry_url"`
	CDNURL       string        `koanf:"cdn_url"`
	OutputFormat string        `koanf:"output"`
	Verbose      bool          `koanf:"verbose"`
	LogLevel     string        `koanf:"log_level"`
	User         string        `koanf:"user"`
	Server       *ServerConfig `koanf:"server"`

	// ProjectRoot is the directory holding nodebook.yaml, or the working
	// directory when there is none.
	ProjectRoot string `koanf:"-"`
}

// Default configuration values
const (
	DefaultStateDriver  = "sqlite"
	DefaultStateFile    = ".nodebook/state.db"
	DefaultRelowerDelay = 300 * time.Millisecond
	DefaultRegistryURL  = "https://data.jsdelivr.com/v1/packages/npm"
	DefaultCDNURL       = "https://cdn.jsdelivr.net/npm"
	DefaultOutput       = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultLogLevel     = "warn"
	DefaultPort         = 8787
	DefaultUser         = "local"
)

// GetServerConfig returns the server config with defaults applied.
func (c *Config) GetServerConfig() *ServerConfig {
	if c.Server == nil {
		return &ServerConfig{Port: DefaultPort}
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	return c.Server
}

// Defaults returns a Config populated with default values only.
func Defaults() *Config {
	return &Config{
		StateDriver:  DefaultStateDriver,
		StatePath:    DefaultStateFile,
		RelowerDelay: DefaultRelowerDelay,
		RegistryURL:  DefaultRegistryURL,
		CDNURL:       DefaultCDNURL,
		OutputFormat: DefaultOutput,
		LogLevel:     DefaultLogLevel,
		User:         DefaultUser,
		Server:       &ServerConfig{Port: DefaultPort},
	}
}
