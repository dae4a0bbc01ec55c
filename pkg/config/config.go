package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	// LogLevel is one of debug, info, warn, error. Empty keeps the CLI silent.
	LogLevel         string        `yaml:"log_level" default:""`
	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"6s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"10s"`
	WaveformCapacity int           `yaml:"waveform_capacity" default:"360"`
	YMin             float64       `yaml:"y_min" default:"0"`
	YMax             float64       `yaml:"y_max" default:"1023"`
	DataDir          string        `yaml:"data_dir" default:"~/.vitalink"`
	WhitelistFile    string        `yaml:"whitelist_file" default:""`
	Simulate         bool          `yaml:"simulate" default:"false"`
	MetricsAddr      string        `yaml:"metrics_addr" default:""`
	RenderInterval   time.Duration `yaml:"render_interval" default:"100ms"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// LoadFile overlays the YAML file at path on the defaults. Keys missing from
// the file keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.WaveformCapacity <= 0 {
		return fmt.Errorf("waveform_capacity must be positive, got %d", c.WaveformCapacity)
	}
	if c.YMin >= c.YMax {
		return fmt.Errorf("y_min (%v) must be below y_max (%v)", c.YMin, c.YMax)
	}
	return nil
}

// Level maps LogLevel to a logrus level; empty means silent (PanicLevel).
func (c *Config) Level() (logrus.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "":
		return logrus.PanicLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
}

// DataPath resolves DataDir, expanding a leading "~".
func (c *Config) DataPath() (string, error) {
	if c.DataDir != "~" && !strings.HasPrefix(c.DataDir, "~/") {
		return c.DataDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(c.DataDir, "~")), nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	level, err := c.Level()
	if err != nil {
		level = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}
