package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/a8m/envsubst"
	"github.com/goccy/go-yaml"
)

// Defaults used when neither the config file nor a flag sets a value.
const (
	DefaultHost           = "192.168.1.233"
	DefaultPort           = 8502
	DefaultCommandTimeout = "3s"
)

// Config is the run configuration for one process invocation. It is built
// once at startup (defaults, then file, then flags), validated, and not
// mutated afterwards.
type Config struct {
	Host        string `yaml:"host" validate:"required"`
	Port        int    `yaml:"port" validate:"min=1,max=65535"`
	Program     int    `yaml:"program" validate:"min=0,max=31"`
	Reset       bool   `yaml:"reset"`
	RepeatMs    int    `yaml:"repeat" validate:"min=0"`
	Schedule    string `yaml:"schedule" validate:"omitempty,cron"`
	InlineImage bool   `yaml:"inline_image"`
	Debug       bool   `yaml:"debug"`

	OutputDir      string         `yaml:"output_dir" validate:"required"`
	ConnectRetry   string         `yaml:"connect_retry" validate:"omitempty,duration"`
	CommandTimeout string         `yaml:"command_timeout" validate:"omitempty,duration"`
	MetricsAddr    string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Notify         []NotifyTarget `yaml:"notify" validate:"dive"`
}

// NotifyTarget is a shoutrrr service URL plus the message template rendered
// after each successful cycle.
type NotifyTarget struct {
	URL      string `yaml:"url" validate:"required,service_url"`
	Template string `yaml:"template"`
}

// Defaults returns a Config holding the built-in defaults.
func Defaults() *Config {
	return &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		OutputDir:      filepath.Join(os.TempDir(), "cvtrigger"),
		CommandTimeout: DefaultCommandTimeout,
	}
}

// Repeats reports whether cycles run until cancellation rather than once.
func (c *Config) Repeats() bool {
	return c.RepeatMs > 0 || c.Schedule != ""
}

// RepeatInterval is the pause between cycles in interval mode.
func (c *Config) RepeatInterval() time.Duration {
	return time.Duration(c.RepeatMs) * time.Millisecond
}

// ConnectRetryTimeout bounds connection retries. Zero means a single attempt.
func (c *Config) ConnectRetryTimeout() time.Duration {
	return parseDuration(c.ConnectRetry)
}

// CommandTimeoutDuration is the per-command round-trip deadline.
func (c *Config) CommandTimeoutDuration() time.Duration {
	if d := parseDuration(c.CommandTimeout); d > 0 {
		return d
	}
	return parseDuration(DefaultCommandTimeout)
}

// Address is the controller endpoint in host:port form.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// Load reads a YAML config file on top of the defaults. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("expanding env vars: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}
