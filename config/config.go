// Package config loads the service configuration from a YAML file, a .env
// file and LIBRARY_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects the store. For sqlite3 the DSN is a file path.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type ServerConfig struct {
	ListenAddr         string        `yaml:"listen_addr"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	ReadHeaderTimeout  time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	TokenPurgeInterval time.Duration `yaml:"token_purge_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration suitable for local development, minus the
// signing secret which must always be supplied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join("data", "library.db"),
		},
		Auth: AuthConfig{
			TokenTTL:   30 * time.Minute,
			BcryptCost: 10,
		},
		Server: ServerConfig{
			ListenAddr:         ":8000",
			CORSOrigins:        []string{"http://localhost:3000"},
			ReadHeaderTimeout:  10 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			TokenPurgeInterval: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. An empty path skips the YAML file. A .env
// file in the working directory, if present, is loaded into the process
// environment without replacing variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotenv(".env"); err != nil {
		return cfg, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotenv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// SlogLevel returns the configured log level. Validate guarantees it parses.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
