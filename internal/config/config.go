package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	Logs       []LogConfig `yaml:"logs"        json:"logs"`
	Schedule   string      `yaml:"schedule"    json:"schedule"`
	ScanPaused bool        `yaml:"scan_paused" json:"scan_paused"`
	DBPath     string      `yaml:"db_path"     json:"-"`
	HTTPAddr   string      `yaml:"http_addr"   json:"-"`
	QueueSize  int         `yaml:"queue_size"  json:"queue_size"`
	Fetch      Fetch       `yaml:"fetch"       json:"fetch"`
	Checks     []string    `yaml:"checks"      json:"checks"`
	LogLevel   string      `yaml:"log_level"   json:"-"`
}

// LogConfig identifies one CT log to monitor. Name is the key certificates
// are stored under; URL is the log's RFC 6962 base URL.
type LogConfig struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url"  json:"url"`
}

// Fetch holds tuning knobs for the entry download stage.
type Fetch struct {
	Workers        int `yaml:"workers"         json:"workers"`
	RangeSize      int `yaml:"range_size"      json:"range_size"`
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Schedule == "" {
		c.Schedule = "0 */6 * * *"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/ctmon.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.QueueSize == 0 {
		c.QueueSize = 10
	}
	if c.Fetch.Workers == 0 {
		c.Fetch.Workers = 4
	}
	if c.Fetch.RangeSize == 0 {
		c.Fetch.RangeSize = 256
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// validate rejects configurations the pipeline cannot run with.
func (c *Config) validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	seen := make(map[string]struct{}, len(c.Logs))
	for i, l := range c.Logs {
		if l.Name == "" || l.URL == "" {
			return fmt.Errorf("logs[%d]: name and url are required", i)
		}
		if _, dup := seen[l.Name]; dup {
			return fmt.Errorf("logs[%d]: duplicate log name %q", i, l.Name)
		}
		seen[l.Name] = struct{}{}
	}
	return nil
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}
