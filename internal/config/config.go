// Package config loads service settings from an optional TOML file and the
// environment. Environment variables use the MISTBOOK_ prefix and win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MISTBOOK_"

type Config struct {
	Server ServerConfig `toml:"server" envPrefix:"SERVER_"`
	DB     DBConfig     `toml:"db" envPrefix:"DB_"`
	Auth   AuthConfig   `toml:"auth" envPrefix:"AUTH_"`
	Log    LogConfig    `toml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr" env:"ADDR"`
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	StaticDir      string   `toml:"static_dir" env:"STATIC_DIR"`
	Dev            bool     `toml:"dev" env:"DEV"`
}

type DBConfig struct {
	Path string `toml:"path" env:"PATH"`
}

type AuthConfig struct {
	Secret     string   `toml:"secret" env:"SECRET"`
	SessionTTL Duration `toml:"session_ttl" env:"SESSION_TTL"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level" env:"LEVEL"`
	Format    string     `toml:"format" env:"FORMAT"`
	AddSource bool       `toml:"add_source" env:"ADD_SOURCE"`
}

// Duration reads "720h"-style strings from TOML and the environment.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:*"},
		},
		DB:   DBConfig{Path: "./mistbook.db"},
		Auth: AuthConfig{SessionTTL: Duration{30 * 24 * time.Hour}},
		Log:  LogConfig{Level: slog.LevelInfo, Format: "text"},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		if !c.Server.Dev {
			return errors.New("auth.secret is required outside dev mode")
		}
		c.Auth.Secret = "mistbook-dev-secret"
	}
	if c.Auth.SessionTTL.Duration <= 0 {
		return errors.New("auth.session_ttl must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
