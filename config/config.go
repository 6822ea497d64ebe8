// Package config loads the daemon's TOML configuration file and
// applies NS_-prefixed environment variable overrides on top, per
// spec §6. It generalizes gqs's plain struct-literal configuration
// (WorkerConfig/BackoffConfig passed in by the caller) into a
// file-plus-env loader, since a multi-node daemon needs per-host
// deployment knobs the library form did not.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// LogLevel enumerates the log/slog levels the daemon accepts, per
// spec §6's log_level enum.
type LogLevel string

const (
	LogDebug   LogLevel = "debug"
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// Config holds every daemon-wide setting named in spec §6.
type Config struct {
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	NodeName      string   `toml:"node_name"`
	LogLevel      LogLevel `toml:"log_level"`
	RefreshRate   int      `toml:"refresh_rate"`
	MockGPUs      bool     `toml:"mock_gpus"`
	APIKey        string   `toml:"api_key"`
	StoreEndpoint string   `toml:"store_endpoint"`
}

// Defaults sets refresh_rate to the 3 seconds spec §6 calls out, plus
// host 0.0.0.0, port 8080 and log level info; every other field
// defaults to its Go zero value until the file or an environment
// override sets it.
func Defaults() Config {
	return Config{
		Host:        "0.0.0.0",
		Port:        8080,
		LogLevel:    LogInfo,
		RefreshRate: 3,
	}
}

// Load reads path as TOML into Defaults(), then applies NS_-prefixed
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides mutates cfg in place from NS_<FIELD> environment
// variables, the override mechanism spec §6 requires alongside the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("NS_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("NS_PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := os.LookupEnv("NS_NODE_NAME"); ok {
		cfg.NodeName = v
	}
	if v, ok := os.LookupEnv("NS_LOG_LEVEL"); ok {
		cfg.LogLevel = LogLevel(strings.ToLower(v))
	}
	if v, ok := os.LookupEnv("NS_REFRESH_RATE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RefreshRate = n
		}
	}
	if v, ok := os.LookupEnv("NS_MOCK_GPUS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MockGPUs = b
		}
	}
	if v, ok := os.LookupEnv("NS_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("NS_STORE_ENDPOINT"); ok {
		cfg.StoreEndpoint = v
	}
}

// Validate checks the fields a missing or malformed value would break
// the daemon on, so Load fails fast at startup rather than mid-tick.
func (c Config) Validate() error {
	switch c.LogLevel {
	case LogDebug, LogInfo, LogWarning, LogError:
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.NodeName == "" {
		return fmt.Errorf("node_name is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh_rate must be positive, got %d", c.RefreshRate)
	}
	if c.StoreEndpoint == "" {
		return fmt.Errorf("store_endpoint is required")
	}
	return nil
}
