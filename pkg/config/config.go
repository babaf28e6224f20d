// Package config loads runtime configuration from environment
// variables.
package config

import "os"

// Config holds runtime configuration.
type Config struct {
	// DatabaseURL selects Postgres when set; otherwise the SQLite file
	// at DBPath is used.
	DatabaseURL string
	DBPath      string
	LogLevel    string
	// ProfilePath optionally points at a YAML governance rule profile.
	ProfilePath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	dbPath := os.Getenv("GOVLEDGER_DB_PATH")
	if dbPath == "" {
		dbPath = "govledger.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      dbPath,
		LogLevel:    logLevel,
		ProfilePath: os.Getenv("GOVLEDGER_PROFILE"),
	}
}
