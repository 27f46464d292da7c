package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dylibso/wasmstore_sdk_go/internal/wasmstoreapi"
)

// Config is the resolved CLI configuration.
type Config struct {
	URL        string        `koanf:"url"`
	Auth       string        `koanf:"auth"`
	Branch     string        `koanf:"branch"`
	APIVersion string        `koanf:"api_version"`
	Output     string        `koanf:"output"`
	Timeout    time.Duration `koanf:"timeout"`
	Log        LogConfig     `koanf:"log"`
}

// LogConfig configures CLI logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Defaults returns the values used when no source sets a key.
func Defaults() map[string]any {
	return map[string]any{
		"url":         wasmstoreapi.DefaultURL,
		"api_version": wasmstoreapi.DefaultVersion,
		"output":      "table",
		"timeout":     "30s",
		"log.level":   "warn",
		"log.format":  "text",
	}
}

// Load resolves the configuration from defaults, the file at path (if any),
// the environment and flags. flags holds only the flags the user set, keyed
// like the file.
func Load(path string, flags map[string]any, opts ...Option) (*Config, error) {
	l := NewLoader(append([]Option{WithConfigFile(path)}, opts...)...)

	if err := l.LoadMap(Defaults()); err != nil {
		return nil, err
	}
	if err := l.LoadFile(l.filePath); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := l.LoadEnv(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(flags) > 0 {
		if err := l.LoadMap(flags); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	var cfg Config
	if err := l.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be corrected later.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("config: url is required")
	}
	switch strings.ToLower(c.Output) {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("config: unknown output format %q", c.Output)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: timeout must not be negative")
	}
	return nil
}
