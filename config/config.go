// Package config loads the YAML configuration of the CAN driver.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "500ms" or "1s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// LokiConfig enables forwarding log entries to a Loki endpoint.
type LokiConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Labels  map[string]string `yaml:"labels,omitempty"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string     `yaml:"level,omitempty"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki,omitempty"`
}

// Config describes one CAN connection and the driver defaults applied to it.
type Config struct {
	Transport      string        `yaml:"transport"`
	Channel        string        `yaml:"channel"`
	Bitrate        int           `yaml:"bitrate"`
	DataBitrate    int           `yaml:"data_bitrate,omitempty"`
	FD             bool          `yaml:"fd,omitempty"`
	MaxQueueSize   int           `yaml:"max_queue_size,omitempty"`
	PollTimeout    Duration      `yaml:"poll_timeout,omitempty"`
	CheckFrequency float64       `yaml:"check_frequency,omitempty"`
	Logging        LoggingConfig `yaml:"logging,omitempty"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = 10
	}
	if c.CheckFrequency == 0 {
		c.CheckFrequency = 100
	}
	if c.PollTimeout.Duration == 0 {
		c.PollTimeout.Duration = time.Second
	}
	if c.DataBitrate == 0 {
		c.DataBitrate = c.Bitrate
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Transport == "" {
		return fmt.Errorf("transport must not be empty")
	}
	if c.Channel == "" {
		return fmt.Errorf("channel must not be empty")
	}
	if c.Bitrate < 0 {
		return fmt.Errorf("bitrate must not be negative")
	}
	if c.MaxQueueSize < 0 {
		return fmt.Errorf("max_queue_size must not be negative")
	}
	if c.CheckFrequency <= 0 {
		return fmt.Errorf("check_frequency must be positive")
	}
	if c.PollTimeout.Duration < 0 {
		return fmt.Errorf("poll_timeout must not be negative")
	}
	if c.Logging.Loki.Enabled && c.Logging.Loki.URL == "" {
		return fmt.Errorf("logging.loki.url is required when loki is enabled")
	}
	return nil
}
