package config

import (
	"errors"
	"fmt"
	"log/slog"
)

const minSecretLen = 16

// Validate checks the configuration before the service starts.
//
// Ensures:
//   - database.driver is one of sqlite3, pgx, postgres and database.dsn is set
//   - auth.jwt_secret is at least 16 bytes and auth.token_ttl is positive
//   - auth.bcrypt_cost is within bcrypt's range (4..31)
//   - server.listen_addr is set and timeouts are not negative
//   - log.level parses and log.format is text or json
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "pgx", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3, pgx or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn must be set")
	}

	if len(c.Auth.JWTSecret) < minSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLen)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}

	if c.Server.ListenAddr == "" {
		return errors.New("server.listen_addr must be set")
	}
	if c.Server.ReadHeaderTimeout < 0 || c.Server.ShutdownTimeout < 0 || c.Server.TokenPurgeInterval < 0 {
		return errors.New("server timeouts must not be negative")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log.level %q: %w", c.Log.Level, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
