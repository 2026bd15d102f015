// Package config loads the pagetrail configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/seckatie/pagetrail/internal/logger"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "pagetrail.yaml"

// Config is the daemon configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	HTTP     HTTPConfig     `yaml:"http"`
	Browser  BrowserConfig  `yaml:"browser"`
	Log      logger.Config  `yaml:"log"`
}

// DatabaseConfig locates the SQLite archive.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig is the listen address of the JSON API.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// BrowserConfig selects the watched browser.
type BrowserConfig struct {
	// RemoteURL attaches to a running Chrome started with
	// --remote-debugging-port instead of launching one.
	RemoteURL      string        `yaml:"remote_url"`
	ChromePath     string        `yaml:"chrome_path"`
	Headless       bool          `yaml:"headless"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "pagetrail.db"},
		HTTP:     HTTPConfig{Host: "localhost", Port: 8080},
		Browser:  BrowserConfig{CaptureTimeout: 35 * time.Second},
		Log:      logger.Config{Level: "info"},
	}
}

// Load reads path. A missing file yields Default(); fields absent from the
// file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Browser.CaptureTimeout <= 0 {
		return fmt.Errorf("browser.capture_timeout must be positive, got %s", c.Browser.CaptureTimeout)
	}
	return nil
}
