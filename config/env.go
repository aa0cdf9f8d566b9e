package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides overrides config values with LIBRARY_* variables if set.
// Malformed values fail fast.
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("LIBRARY_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("LIBRARY_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Auth
	if v := os.Getenv("LIBRARY_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if err := envDuration("LIBRARY_TOKEN_TTL", &cfg.Auth.TokenTTL); err != nil {
		return err
	}
	if v := os.Getenv("LIBRARY_BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LIBRARY_BCRYPT_COST %q: %w", v, err)
		}
		cfg.Auth.BcryptCost = n
	}

	// Server
	if v := os.Getenv("LIBRARY_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("LIBRARY_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitOrigins(v)
	}
	if err := envDuration("LIBRARY_READ_HEADER_TIMEOUT", &cfg.Server.ReadHeaderTimeout); err != nil {
		return err
	}
	if err := envDuration("LIBRARY_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout); err != nil {
		return err
	}
	if err := envDuration("LIBRARY_TOKEN_PURGE_INTERVAL", &cfg.Server.TokenPurgeInterval); err != nil {
		return err
	}

	// Logging
	if v := os.Getenv("LIBRARY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LIBRARY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	*dst = d
	return nil
}

// splitOrigins parses a comma-separated origin list, dropping blanks and
// trailing slashes.
func splitOrigins(list string) []string {
	var origins []string
	for _, p := range strings.Split(list, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
