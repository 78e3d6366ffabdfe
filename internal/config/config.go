// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strings"

	"github.com/arivum/pianoroom/internal/logger"
)

// Config holds everything the process reads from its environment.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// SaltOne and SaltTwo are the two independent secrets mixed into the
	// identity hash. Unset salts keep the hash deterministic but unsalted.
	SaltOne string
	SaltTwo string
	// AdminPhrase grants admin to the first session that embeds it in a
	// chat message. Must exceed 64 characters to be claimable at all.
	AdminPhrase string
	// AllowedOrigins restricts websocket upgrades; empty allows any origin.
	AllowedOrigins []string
	// DBPath is the sqlite database file.
	DBPath string
	// TestCookie names a cookie whose value overrides the observed source
	// address, for integration testing. Empty disables the override.
	TestCookie string
	// LogLevel configures the global logger.
	LogLevel logger.Level
}

// FromEnv builds a Config from environment variables, applying defaults
// and warning about risky omissions.
func FromEnv() *Config {
	cfg := &Config{
		Addr:        ":" + envOr("PORT", "8080"),
		SaltOne:     os.Getenv("SALT_ONE"),
		SaltTwo:     os.Getenv("SALT_TWO"),
		AdminPhrase: os.Getenv("ADMIN_PHRASE"),
		DBPath:      envOr("DB_PATH", "piano.db"),
		TestCookie:  os.Getenv("TEST_COOKIE"),
		LogLevel:    logger.ParseLevel(os.Getenv("LOG_LEVEL")),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	if cfg.SaltOne == "" || cfg.SaltTwo == "" {
		logger.Warnf("SALT_ONE/SALT_TWO not fully configured; identity hashes are unsalted")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
