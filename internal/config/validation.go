package config

import (
	"fmt"
	"strings"

	"github.com/fieldops/hnsync/internal/auth"
	"github.com/fieldops/hnsync/internal/portal"
)

func validate(c *Config) error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be > 0")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit rps and burst must be > 0")
	}
	if c.RequestLimit <= 0 {
		return fmt.Errorf("request limit must be > 0")
	}
	if c.MaxSecondaryPages < 0 || c.MaxPageHops < 0 {
		return fmt.Errorf("harvest bounds must be >= 0")
	}
	if c.DetailWorkers <= 0 || c.DetailWorkers > DefaultMaxDetailWorkers {
		return fmt.Errorf("detail workers must be between 1 and %d", DefaultMaxDetailWorkers)
	}
	if c.TripReserve < 0 || c.TripReserve >= c.RequestLimit {
		return fmt.Errorf("trip reserve must be between 0 and the request limit")
	}
	if c.SecretStore != SecretStoreSQLite && c.SecretStore != SecretStoreKeyring {
		return fmt.Errorf("secret store must be %q or %q", SecretStoreSQLite, SecretStoreKeyring)
	}
	if c.SecretKey != "" && len(c.SecretKey) < auth.MinSecretKeyLength {
		return fmt.Errorf("secret key must be at least %d characters", auth.MinSecretKeyLength)
	}
	if err := portal.ValidateURL(c.Portal.BaseURL); err != nil {
		return fmt.Errorf("portal: %w", err)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Trips.Cost.MPG <= 0 {
		return fmt.Errorf("mpg must be > 0")
	}
	return nil
}
