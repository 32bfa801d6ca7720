package shared

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Environment variable keys
const (
	EnvKeyAPIKey           = "OPENAI_API_KEY"
	EnvKeyBaseURL          = "OPENAI_BASE_URL"
	EnvKeyModel            = "OPENAI_REALTIME_MODEL"
	EnvKeyHandshakeTimeout = "REALTIME_HANDSHAKE_TIMEOUT"
	EnvKeyPlaybackBufferMs = "REALTIME_PLAYBACK_BUFFER_MS"
	EnvKeyDebug            = "REALTIME_DEBUG"
	EnvKeyEnvFile          = "REALTIME_ENV_FILE"
)

// Defaults
const (
	DefaultBaseURL          = "wss://api.openai.com/v1"
	DefaultModel            = "gpt-4o-realtime-preview-2024-10-01"
	DefaultInstructions     = "Please assist the user."
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPlaybackBufferMs = 100
)

// Capture backends
const (
	CaptureBackendMalgo        = "malgo"
	CaptureBackendMediaDevices = "mediadevices"
)

type LogConfig struct {
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
	Debug      bool   `yaml:"debug" json:"debug"`
}

type Config struct {
	APIKey           string        `yaml:"api_key" json:"api_key"`
	BaseURL          string        `yaml:"base_url" json:"base_url"`
	Model            string        `yaml:"model" json:"model"`
	Instructions     string        `yaml:"instructions" json:"instructions"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	CaptureBackend   string        `yaml:"capture_backend" json:"capture_backend"`
	PlaybackBufferMs int           `yaml:"playback_buffer_ms" json:"playback_buffer_ms"`
	Log              LogConfig     `yaml:"log" json:"log"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          DefaultBaseURL,
		Model:            DefaultModel,
		Instructions:     DefaultInstructions,
		HandshakeTimeout: DefaultHandshakeTimeout,
		CaptureBackend:   CaptureBackendMalgo,
		PlaybackBufferMs: DefaultPlaybackBufferMs,
		Log: LogConfig{
			File:       "cli/cli.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file at path and the
// environment, in that order, and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	if c.APIKey, err = Getenv(GetenvString, EnvKeyAPIKey, false, c.APIKey); err != nil {
		return err
	}
	if c.BaseURL, err = Getenv(GetenvString, EnvKeyBaseURL, false, c.BaseURL); err != nil {
		return err
	}
	if c.Model, err = Getenv(GetenvString, EnvKeyModel, false, c.Model); err != nil {
		return err
	}
	if c.HandshakeTimeout, err = Getenv(GetenvDuration, EnvKeyHandshakeTimeout, false, c.HandshakeTimeout); err != nil {
		return err
	}
	if c.PlaybackBufferMs, err = Getenv(GetenvInt, EnvKeyPlaybackBufferMs, false, c.PlaybackBufferMs); err != nil {
		return err
	}
	if c.Log.Debug, err = Getenv(GetenvBool, EnvKeyDebug, false, c.Log.Debug); err != nil {
		return err
	}
	return nil
}

// Validate does not require an API key; the CLI may still prompt for one.
func (c *Config) Validate() error {
	if c.Model == "" {
		return errors.New("model is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	switch c.CaptureBackend {
	case CaptureBackendMalgo, CaptureBackendMediaDevices:
	default:
		return fmt.Errorf("unknown capture backend %q", c.CaptureBackend)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive, got %v", c.HandshakeTimeout)
	}
	if c.PlaybackBufferMs <= 0 {
		return fmt.Errorf("playback_buffer_ms must be positive, got %d", c.PlaybackBufferMs)
	}
	return nil
}

// Redacted returns a copy safe to print or log.
func (c Config) Redacted() Config {
	if len(c.APIKey) > 10 {
		c.APIKey = c.APIKey[:10] + "..."
	} else if c.APIKey != "" {
		c.APIKey = "..."
	}
	return c
}
